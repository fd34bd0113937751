package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/scheduler"
)

func newJobsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run background jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the worker's jobs with their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Scheduler()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tNEXT RUN\tDESCRIPTION")
			for _, j := range s.ListJobs() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", j.Name, j.Schedule, j.Enabled, nextRun(j), j.Description)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run one job now, regardless of its schedule",
		Long: `run executes a job once against the configured store and exits with its
error, if any. Disabled jobs can be run this way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Scheduler()
			if err != nil {
				return err
			}
			res, err := s.RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s finished in %s\n", res.Job, res.Duration.Round(time.Millisecond))
			return nil
		},
	})

	return cmd
}

func nextRun(j scheduler.JobInfo) string {
	if !j.Enabled || j.NextRun.IsZero() {
		return "-"
	}
	return j.NextRun.Format(time.RFC3339)
}
