package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/himo777777/Ortokompanion-sub000/config"
	"github.com/himo777777/Ortokompanion-sub000/internal/app"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

type rootOptions struct {
	tuningFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ortoctl",
		Short: "Operate the adaptive learning scheduler",
		Long: `ortoctl manages the scheduler's database schema, previews daily plans
for a learner, runs background jobs by hand and inspects the effective
tuning policy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.tuningFile, "tuning", "", "tuning file overlaying the default policy")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		newMigrateCmd(),
		newMixCmd(opts),
		newJobsCmd(opts),
		newGradeCmd(opts),
		newTuningCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() *logger.Logger {
	if !o.verbose {
		return logger.Nop()
	}
	lo := logger.DefaultOptions()
	lo.Level = logger.LevelDebug
	lo.Development = true
	return logger.New(lo)
}

func (o *rootOptions) engines() (*core.Engines, error) {
	p, err := config.LoadTuning(o.tuningFile)
	if err != nil {
		return nil, err
	}
	return core.NewEngines(p)
}

// app wires the service from the environment, as the api and worker do.
func (o *rootOptions) app(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.tuningFile != "" {
		cfg.Content.TuningFile = o.tuningFile
	}
	return app.New(ctx, cfg, o.logger())
}
