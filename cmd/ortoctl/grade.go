package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
)

type gradeOptions struct {
	correct    bool
	hints      int
	seconds    int
	expected   int
	confidence float64

	ease        float64
	interval    int
	reviewCount int
}

func newGradeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Explore grading and scheduling",
	}

	opts := &gradeOptions{}
	calc := &cobra.Command{
		Use:   "calc",
		Short: "Grade one answer and show the resulting schedule",
		Long: `calc turns answer telemetry into a recall grade and applies it to a card
in the given state. A negative --confidence infers it from the telemetry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engines, err := root.engines()
			if err != nil {
				return err
			}
			return runGradeCalc(cmd, engines.SRS, opts, time.Now().UTC())
		},
	}
	f := calc.Flags()
	f.BoolVar(&opts.correct, "correct", true, "whether the answer was correct")
	f.IntVar(&opts.hints, "hints", 0, "hints used")
	f.IntVar(&opts.seconds, "seconds", 60, "seconds spent on the item")
	f.IntVar(&opts.expected, "expected", 0, "expected seconds for the item (default from policy)")
	f.Float64Var(&opts.confidence, "confidence", -1, "self-reported confidence in [0,1]")
	f.Float64Var(&opts.ease, "ease", 0, "current ease factor (default from policy)")
	f.IntVar(&opts.interval, "interval", 1, "current interval in days")
	f.IntVar(&opts.reviewCount, "reviews", 0, "reviews already done on the card")

	cmd.AddCommand(calc)
	return cmd
}

func runGradeCalc(cmd *cobra.Command, engine *srs.Engine, opts *gradeOptions, now time.Time) error {
	if opts.confidence > 1 {
		return fmt.Errorf("--confidence must be at most 1, got %.2f", opts.confidence)
	}
	if opts.hints < 0 || opts.interval < 1 || opts.reviewCount < 0 {
		return fmt.Errorf("--hints and --reviews must be non-negative and --interval positive")
	}

	ratio := engine.TimeRatio(opts.seconds, opts.expected)
	confidence := opts.confidence
	if confidence < 0 {
		confidence = srs.InferConfidence(opts.correct, opts.hints, ratio)
	}
	grade := engine.BehaviorToGrade(srs.Behavior{
		Correct:    opts.correct,
		HintsUsed:  opts.hints,
		TimeRatio:  ratio,
		Confidence: confidence,
	})

	pol := engine.Policy()
	card := srs.ReviewCard{
		EaseFactor:   pol.DefaultEase,
		Stability:    pol.InitialStability,
		IntervalDays: opts.interval,
		ReviewCount:  opts.reviewCount,
		Difficulty:   pol.InitialDifficulty,
		DueDate:      now,
	}
	if opts.ease > 0 {
		card.EaseFactor = opts.ease
	}
	next := engine.CalculateNextReview(card, grade, now)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "time ratio\t%.2f\n", ratio)
	fmt.Fprintf(w, "confidence\t%.2f\n", confidence)
	fmt.Fprintf(w, "grade\t%d\n", grade)
	fmt.Fprintf(w, "ease\t%.2f -> %.2f\n", card.EaseFactor, next.EaseFactor)
	fmt.Fprintf(w, "interval\t%dd -> %dd\n", card.IntervalDays, next.IntervalDays)
	fmt.Fprintf(w, "due\t%s\n", next.DueDate.Format("2006-01-02"))
	return w.Flush()
}
