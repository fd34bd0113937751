package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/eventhandler"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/messaging"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/scheduler"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/himo777777/Ortokompanion-sub000/internal/interface/http"
)

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

// HTTPServer builds the REST API over the wired handlers.
func (a *App) HTTPServer() *httpapi.Server {
	h := a.Cfg.HTTP
	cfg := httpapi.DefaultConfig()
	cfg.Host = h.Host
	cfg.Port = h.Port
	cfg.ReadTimeout = h.ReadTimeout
	cfg.WriteTimeout = h.WriteTimeout
	cfg.IdleTimeout = h.IdleTimeout
	cfg.RequestTimeout = h.RequestTimeout
	cfg.AllowedOrigins = h.AllowedOrigins
	cfg.RateLimitPerMinute = h.RateLimitPerMinute
	cfg.Version = a.Cfg.App.Version
	if a.Cfg.App.Debug {
		cfg.Mode = gin.DebugMode
	}

	return httpapi.NewServer(cfg, httpapi.Dependencies{
		OnboardLearner:         a.Commands.OnboardLearner,
		RecordSession:          a.Commands.RecordSession,
		RecordGateEvent:        a.Commands.RecordGateEvent,
		ScheduleRetentionCheck: a.Commands.ScheduleRetentionCheck,
		CompleteRetentionCheck: a.Commands.CompleteRetentionCheck,
		GetDailyMix:            a.Queries.GetDailyMix,
		GetDueReviews:          a.Queries.GetDueReviews,
		GetProgress:            a.Queries.GetProgress,
		Learners:               a.Repos.Learners,
		HealthChecker:          a.Health,
		Logger:                 a.Log,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher registers the event handlers on the bus. The caller starts and
// stops it.
func (a *App) Dispatcher() (*messaging.Dispatcher, error) {
	cfg := messaging.DefaultDispatcherConfig(a.Bus)
	cfg.Logger = a.Log
	d := messaging.NewDispatcher(cfg)
	d.Use(messaging.RecoveryMiddleware(a.Log))
	d.Use(messaging.LoggingMiddleware(a.Log))

	invalidator := eventhandler.NewMixInvalidator(a.Repos.Learners, a.Repos.Mixes, a.mixCache(), a.Log)
	for _, t := range eventhandler.InvalidatingEvents {
		if err := d.Register(t, "mix_invalidator", invalidator.Handle); err != nil {
			return nil, fmt.Errorf("app: register mix invalidator: %w", err)
		}
	}

	eventLog := eventhandler.NewEventLog(a.Log)
	for _, t := range eventhandler.LoggedEvents {
		if err := d.Register(t, "event_log", eventLog.Handle); err != nil {
			return nil, fmt.Errorf("app: register event log: %w", err)
		}
	}
	return d, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler registers the background jobs. The caller starts and stops it.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	sc := a.Cfg.Scheduler
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:       a.Log,
		Timezone:     a.Cfg.App.Location,
		TickInterval: sc.TickInterval,
	})

	prepare := jobs.DefaultPrepareDailyMixConfig()
	prepare.LocalHour = sc.PrepareMixLocalHour
	if sc.PrepareMixConcurrency > 0 {
		prepare.Concurrency = sc.PrepareMixConcurrency
	}

	entries := []struct {
		job  scheduler.Job
		spec string
	}{
		{jobs.NewPrepareDailyMixJob(a.Repos.Learners, a.Queries.GetDailyMix, prepare, nil, a.Log), sc.PrepareMixSchedule},
		{jobs.NewEvaluateRetentionJob(a.Repos.Retention, a.Commands.CompleteRetentionCheck, sc.RetentionBatchSize, nil, a.Log), sc.RetentionSchedule},
		{jobs.NewPruneMixesJob(a.Repos.Mixes, sc.MixRetention, nil, a.Log), sc.PruneSchedule},
	}
	for _, e := range entries {
		schedule, err := scheduler.ParseSchedule(e.spec)
		if err != nil {
			return nil, fmt.Errorf("app: schedule %s: %w", e.job.Name(), err)
		}
		if err := s.Register(withTimeout(e.job, sc.JobTimeout), schedule); err != nil {
			return nil, fmt.Errorf("app: register %s: %w", e.job.Name(), err)
		}
	}
	for _, name := range sc.DisabledJobs {
		if err := s.SetEnabled(name, false); err != nil {
			return nil, fmt.Errorf("app: disable job: %w", err)
		}
	}
	return s, nil
}

// timeoutJob bounds every run of a job.
type timeoutJob struct {
	scheduler.Job
	timeout time.Duration
}

func withTimeout(job scheduler.Job, timeout time.Duration) scheduler.Job {
	if timeout <= 0 {
		return job
	}
	return timeoutJob{Job: job, timeout: timeout}
}

func (j timeoutJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	return j.Job.Run(ctx)
}
