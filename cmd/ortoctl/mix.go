package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/query"
)

func newMixCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mix",
		Short: "Inspect daily plans",
	}

	var (
		learnerID string
		date      string
		refresh   bool
	)
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Print a learner's daily plan as JSON",
		Long: `preview loads the configured store and prints the plan a learner would
receive for the given day, composing and storing it when none exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if learnerID == "" {
				return errors.New("--learner is required")
			}
			a, err := root.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Queries.GetDailyMix.Handle(cmd.Context(), query.GetDailyMixQuery{
				LearnerID: learnerID,
				Date:      date,
				Refresh:   refresh,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode plan: %w", err)
			}
			return nil
		},
	}
	preview.Flags().StringVar(&learnerID, "learner", "", "learner id")
	preview.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD in the learner's timezone (default today)")
	preview.Flags().BoolVar(&refresh, "refresh", false, "recompose even when a plan is stored")

	cmd.AddCommand(preview)
	return cmd
}
