// Package jobs contains the scheduled jobs of the learning scheduler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/query"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREPARE DAILY MIX JOB
// ══════════════════════════════════════════════════════════════════════════════

// MixPreparer composes and stores a daily mix. query.GetDailyMixHandler
// implements it.
type MixPreparer interface {
	Handle(ctx context.Context, q query.GetDailyMixQuery) (*query.DailyMixResult, error)
}

// PrepareDailyMixConfig contains configuration for the prepare job.
type PrepareDailyMixConfig struct {
	// LocalHour selects learners whose local hour equals it. The job is meant
	// to run hourly, so every learner is visited once a day in their own
	// evening. A negative value visits every learner on each run.
	LocalHour int

	// PageSize is how many learners are read per page.
	PageSize int

	// Concurrency is the number of mixes composed in parallel.
	Concurrency int

	// MaxErrors caps the errors kept in the returned error.
	MaxErrors int
}

// DefaultPrepareDailyMixConfig returns sensible defaults.
func DefaultPrepareDailyMixConfig() PrepareDailyMixConfig {
	return PrepareDailyMixConfig{
		LocalHour:   21,
		PageSize:    shared.MaxPageSize,
		Concurrency: 4,
		MaxErrors:   10,
	}
}

// PrepareStats contains statistics from one run.
type PrepareStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Visited   int
	Prepared  int
	Reused    int
	Failed    int
}

// PrepareDailyMixJob composes tomorrow's mix ahead of time for learners
// whose evening it is, so the first read of the day is served from the store.
type PrepareDailyMixJob struct {
	learners learner.Repository
	mixes    MixPreparer
	config   PrepareDailyMixConfig
	now      func() time.Time
	log      *logger.Logger

	lastStats atomic.Value // PrepareStats
}

// NewPrepareDailyMixJob creates the job. now may be nil.
func NewPrepareDailyMixJob(learners learner.Repository, mixes MixPreparer, config PrepareDailyMixConfig, now func() time.Time, log *logger.Logger) *PrepareDailyMixJob {
	if config.PageSize <= 0 {
		config.PageSize = shared.MaxPageSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = 10
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PrepareDailyMixJob{
		learners: learners,
		mixes:    mixes,
		config:   config,
		now:      now,
		log:      log.With(logger.Component("prepare_daily_mix")),
	}
}

// Name implements scheduler.Job.
func (j *PrepareDailyMixJob) Name() string { return "prepare_daily_mix" }

// Description implements scheduler.Job.
func (j *PrepareDailyMixJob) Description() string {
	return "Composes tomorrow's daily mix for learners in their evening hour"
}

// Run implements scheduler.Job. A failing learner does not stop the run;
// failures are joined into the returned error.
func (j *PrepareDailyMixJob) Run(ctx context.Context) error {
	now := j.now()
	stats := PrepareStats{StartedAt: now}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		stats.Failed++
		if len(errs) < j.config.MaxErrors {
			errs = append(errs, err)
		}
	}

	for page := 1; ; page++ {
		learners, err := j.learners.List(ctx, shared.Pagination{Page: page, PageSize: j.config.PageSize})
		if err != nil {
			return fmt.Errorf("prepare_daily_mix: failed to list learners: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.config.Concurrency)
		for _, l := range learners {
			if j.config.LocalHour >= 0 && timeutil.LocalHour(now, l.Timezone) != j.config.LocalHour {
				continue
			}
			stats.Visited++
			g.Go(func() error {
				res, err := j.prepare(gctx, l, now)
				if err != nil {
					record(fmt.Errorf("learner %s: %w", l.ID, err))
					return nil
				}
				mu.Lock()
				if res.Source == query.SourceComposed {
					stats.Prepared++
				} else {
					stats.Reused++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}
		if len(learners) < j.config.PageSize {
			break
		}
	}

	stats.Duration = j.now().Sub(now)
	j.lastStats.Store(stats)
	j.log.Info("daily mixes prepared",
		logger.Int("visited", stats.Visited),
		logger.Int("prepared", stats.Prepared),
		logger.Int("reused", stats.Reused),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration),
	)

	if len(errs) > 0 {
		return fmt.Errorf("prepare_daily_mix: %d learners failed: %w", stats.Failed, errors.Join(errs...))
	}
	return nil
}

func (j *PrepareDailyMixJob) prepare(ctx context.Context, l *learner.Learner, now time.Time) (*query.DailyMixResult, error) {
	tomorrow := timeutil.Tomorrow(timeutil.In(now, l.Timezone))
	return j.mixes.Handle(ctx, query.GetDailyMixQuery{
		LearnerID: l.ID,
		Date:      timeutil.FormatDateStr(tomorrow),
	})
}

// LastStats returns the statistics of the last completed run.
func (j *PrepareDailyMixJob) LastStats() (PrepareStats, bool) {
	s, ok := j.lastStats.Load().(PrepareStats)
	return s, ok
}
