package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// MixPruner deletes stored mixes older than a day.
type MixPruner interface {
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// PruneMixesJob deletes stored daily mixes past their retention.
type PruneMixesJob struct {
	mixes     MixPruner
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewPruneMixesJob creates the job. now may be nil.
func NewPruneMixesJob(mixes MixPruner, retention time.Duration, now func() time.Time, log *logger.Logger) *PruneMixesJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PruneMixesJob{mixes: mixes, retention: retention, now: now, log: log.With(logger.Component("prune_daily_mixes"))}
}

// Name implements scheduler.Job.
func (j *PruneMixesJob) Name() string { return "prune_daily_mixes" }

// Description implements scheduler.Job.
func (j *PruneMixesJob) Description() string {
	return "Deletes stored daily mixes past their retention"
}

// Run implements scheduler.Job.
func (j *PruneMixesJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.mixes.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune_daily_mixes: %w", err)
	}
	j.log.Info("daily mixes pruned", logger.Int64("deleted", n), logger.String("before", cutoff.Format(time.DateOnly)))
	return nil
}
