// Package scheduler runs the background jobs of the learning scheduler:
// preparing tomorrow's daily mixes, evaluating due retention checks and
// pruning stored mixes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrJobPanicked             = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is one unit of background work.
type Job interface {
	Name() string
	Description() string

	// Run does the work. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

// Schedule decides when a job runs next.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	Job       string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
	Manual    bool
}

// Succeeded reports whether the run returned without error.
func (r JobResult) Succeeded() bool { return r.Err == nil }

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig configures a Scheduler. Zero values get defaults.
type SchedulerConfig struct {
	Logger *logger.Logger

	// Timezone schedules are evaluated in; UTC when nil.
	Timezone *time.Location

	// TickInterval is how often due jobs are looked for; one second when zero.
	TickInterval time.Duration

	Now func() time.Time
}

// Scheduler starts registered jobs when their schedule comes due. A job never
// overlaps with itself: a due job whose previous run is still going is
// skipped until its next slot, and RunNow refuses it.
type Scheduler struct {
	log  *logger.Logger
	loc  *time.Location
	now  func() time.Time
	tick time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	stop    context.CancelFunc
	started time.Time
	wg      sync.WaitGroup
}

type entry struct {
	job      Job
	schedule Schedule
	disabled bool
	busy     bool
	next     time.Time

	runs     int64
	failures int64
	busyTime time.Duration
	last     *JobResult
}

// NewScheduler creates a stopped scheduler without jobs.
func NewScheduler(config SchedulerConfig) *Scheduler {
	s := &Scheduler{
		log:     config.Logger,
		loc:     config.Timezone,
		now:     config.Now,
		tick:    config.TickInterval,
		entries: make(map[string]*entry),
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With(logger.Component("scheduler"))
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.tick <= 0 {
		s.tick = time.Second
	}
	return s
}

// Register adds job under its name.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, next: schedule.Next(s.localNow())}
	s.entries[name] = e

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
		logger.Time("next_run", e.next),
	)
	return nil
}

// SetEnabled switches scheduled runs of a job on or off. Re-enabling plans
// the next run from now rather than catching up.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if enabled && e.disabled {
		e.next = e.schedule.Next(s.localNow())
	}
	e.disabled = !enabled
	s.log.Info("job toggled", logger.String("job", name), logger.Bool("enabled", enabled))
	return nil
}

func (s *Scheduler) localNow() time.Time { return s.now().In(s.loc) }

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start runs the tick loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	ctx, s.stop = context.WithCancel(ctx)
	s.started = s.now()
	jobs := len(s.entries)
	s.mu.Unlock()

	s.log.Info("scheduler started", logger.Int("jobs", jobs), logger.Duration("tick", s.tick))
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return ErrSchedulerNotRunning
	}

	stop()
	s.wg.Wait()
	s.log.Info("scheduler stopped", logger.Duration("uptime", s.now().Sub(s.started)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range s.claimDue() {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.run(ctx, e, false)
				}()
			}
		}
	}
}

// claimDue advances every due schedule and marks the runnable entries busy.
func (s *Scheduler) claimDue() []*entry {
	now := s.localNow()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for name, e := range s.entries {
		if e.disabled || e.next.IsZero() || now.Before(e.next) {
			continue
		}
		e.next = e.schedule.Next(now)
		if e.busy {
			s.log.Warn("previous run still going, skipping", logger.String("job", name), logger.Time("next_run", e.next))
			continue
		}
		e.busy = true
		due = append(due, e)
	}
	return due
}

// run executes a claimed entry and records the outcome.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	res := JobResult{Job: name, StartedAt: s.now(), Manual: manual}
	s.log.Info("job started", logger.String("job", name), logger.Bool("manual", manual))

	res.Err = invoke(ctx, e.job)
	res.Duration = s.now().Sub(res.StartedAt)

	s.mu.Lock()
	e.busy = false
	e.runs++
	e.busyTime += res.Duration
	if res.Err != nil {
		e.failures++
	}
	e.last = &res
	s.mu.Unlock()

	if res.Err != nil {
		s.log.Error("job failed", logger.String("job", name), logger.Duration("duration", res.Duration), logger.Err(res.Err))
	} else {
		s.log.Info("job completed", logger.String("job", name), logger.Duration("duration", res.Duration))
	}
	return res
}

func invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job.Run(ctx)
}

// RunNow runs a job immediately, whether or not it is enabled or the
// scheduler is started. The job's error is returned along with the result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.busy:
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.busy = true
	s.mu.Unlock()

	res := s.run(ctx, e, true)
	return res, res.Err
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Enabled     bool
	Running     bool
	NextRun     time.Time

	Runs            int64
	Failures        int64
	AverageDuration time.Duration
	Last            *JobResult
}

// ListJobs returns every registered job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		info := JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			Enabled:     !e.disabled,
			Running:     e.busy,
			NextRun:     e.next,
			Runs:        e.runs,
			Failures:    e.failures,
		}
		if e.runs > 0 {
			info.AverageDuration = e.busyTime / time.Duration(e.runs)
		}
		if e.last != nil {
			last := *e.last
			info.Last = &last
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
