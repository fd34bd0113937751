package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/himo777777/Ortokompanion-sub000/config"
)

func newTuningCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tuning",
		Short: "Inspect the scheduling policy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the effective policy as a complete tuning file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := config.LoadTuning(root.tuningFile)
			if err != nil {
				return err
			}
			out, err := config.MarshalTuning(p)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a tuning file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadTuning(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "features",
		Short: "List feature flags as configured by FEATURE_* variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ff, err := config.LoadFeatureFlags()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEATURE\tROLLOUT\tPILOTS\tWINDOW\tDESCRIPTION")
			for _, f := range ff.List() {
				pilots := "-"
				if len(f.Pilots) > 0 {
					pilots = strings.Join(f.Pilots, ",")
				}
				fmt.Fprintf(w, "%s\t%d%%\t%s\t%s..%s\t%s\n", f.Name, f.Percent, pilots, bound(f.From), bound(f.Until), f.Description)
			}
			return w.Flush()
		},
	})
	return cmd
}

func bound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
