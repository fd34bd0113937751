package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"*/15 * * * *", time.Date(2026, 3, 2, 10, 7, 30, 0, time.UTC), time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)},
		{"5 * * * *", time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC), time.Date(2026, 3, 2, 11, 5, 0, 0, time.UTC)},
		{"0 21 * * *", time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), time.Date(2026, 3, 3, 21, 0, 0, 0, time.UTC)},
		{"30 6 * * 1-5", time.Date(2026, 3, 6, 7, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 6, 30, 0, 0, time.UTC)},
		{"0 0 1,15 * *", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"10-20/5 * * * *", time.Date(2026, 3, 2, 10, 16, 0, 0, time.UTC), time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(tt.after))
		})
	}
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{"* * * *", "60 * * * *", "*/0 * * * *", "a * * * *", "5-2 * * * *", "* * 0 * *"} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 10m")
	require.NoError(t, err)
	assert.Equal(t, "@every 10m0s", s.String())

	s, err = ParseSchedule(EveryHour)
	require.NoError(t, err)
	assert.Equal(t, EveryHour, s.String())

	_, err = ParseSchedule("@every soon")
	assert.Error(t, err)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	job := funcJob{name: "a", run: func(context.Context) error { return nil }}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(funcJob{name: "b"}, nil), ErrNilSchedule)
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
	assert.True(t, jobs[0].Enabled)
	assert.Nil(t, jobs[0].Last)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(SchedulerConfig{TickInterval: 5 * time.Millisecond})
	require.NoError(t, s.Register(funcJob{name: "tick", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	info := s.ListJobs()[0]
	assert.GreaterOrEqual(t, info.Runs, int64(2))
	assert.Zero(t, info.Failures)
	require.NotNil(t, info.Last)
	assert.False(t, info.Last.Manual)
}

func TestScheduler_DoesNotOverlapRuns(t *testing.T) {
	var (
		active, maxActive atomic.Int32
		runs              atomic.Int32
	)
	s := NewScheduler(SchedulerConfig{TickInterval: 2 * time.Millisecond})
	require.NoError(t, s.Register(funcJob{name: "slow", run: func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}}, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	s := NewScheduler(SchedulerConfig{TickInterval: 2 * time.Millisecond})
	require.NoError(t, s.Register(funcJob{name: "blocking", run: func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}}, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())

	info := s.ListJobs()[0]
	assert.False(t, info.Running)
	require.NotNil(t, info.Last)
	assert.ErrorIs(t, info.Last.Err, context.Canceled)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	boom := errors.New("boom")
	require.NoError(t, s.Register(funcJob{name: "ok", run: func(context.Context) error { return nil }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "bad", run: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "panics", run: func(context.Context) error { panic("nil map") }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.True(t, res.Manual)

	res, err = s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Succeeded())

	_, err = s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	byName := map[string]JobInfo{}
	for _, info := range s.ListJobs() {
		byName[info.Name] = info
	}
	assert.Equal(t, int64(1), byName["bad"].Runs)
	assert.Equal(t, int64(1), byName["bad"].Failures)
	assert.Equal(t, int64(1), byName["panics"].Failures)
	assert.Zero(t, byName["ok"].Failures)
	require.NotNil(t, byName["bad"].Last)
	assert.ErrorIs(t, byName["bad"].Last.Err, boom)
}

func TestScheduler_RunNowRefusesBusyJob(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := NewScheduler(SchedulerConfig{})
	require.NoError(t, s.Register(funcJob{name: "long", run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}, NewIntervalSchedule(time.Hour)))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "long")
		done <- err
	}()
	<-started

	_, err := s.RunNow(context.Background(), "long")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	assert.NoError(t, <-done)
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(SchedulerConfig{TickInterval: 2 * time.Millisecond})
	require.NoError(t, s.Register(funcJob{name: "off", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, NewIntervalSchedule(time.Millisecond)))
	require.NoError(t, s.SetEnabled("off", false))
	assert.False(t, s.ListJobs()[0].Enabled)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Zero(t, runs.Load())
}
