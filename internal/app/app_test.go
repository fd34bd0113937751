package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/config"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/command"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/query"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/scheduler"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

const catalogYAML = `
items:
  - id: trauma-1
    domain: trauma
    band: B
    type: quiz
  - id: trauma-2
    domain: trauma
    band: C
    type: micro-case
  - id: hip-1
    domain: hip
    band: B
    type: quiz
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalogYAML), 0o600))

	return &config.Config{
		App: config.AppConfig{
			Name:        "ortokompanion",
			Environment: config.EnvDevelopment,
			Version:     "test",
			Location:    time.UTC,
		},
		Redis: config.RedisConfig{Disabled: true},
		HTTP: config.HTTPConfig{
			Port:           0,
			RequestTimeout: 5 * time.Second,
		},
		Scheduler: config.SchedulerConfig{
			TickInterval:        time.Second,
			PrepareMixSchedule:  "5 * * * *",
			PrepareMixLocalHour: 21,
			RetentionSchedule:   "*/15 * * * *",
			RetentionBatchSize:  10,
			PruneSchedule:       "30 3 * * *",
			MixRetention:        7 * 24 * time.Hour,
			JobTimeout:          time.Minute,
		},
		Content:  config.ContentConfig{CatalogFile: catalogPath},
		Features: config.NewFeatureFlags(),
	}
}

func TestNew_InMemory(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Cache)
	assert.Equal(t, 3, a.Catalog.Size())
	assert.NotNil(t, a.Repos.Lock)

	res, err := a.Commands.OnboardLearner.Handle(context.Background(), command.OnboardLearnerCommand{
		EducationLevel: band.LevelStudent,
		PrimaryDomain:  topic.Trauma,
	})
	require.NoError(t, err)
	assert.Equal(t, band.A, res.StartingBand)

	l, err := a.Repos.Learners.GetByID(context.Background(), res.Learner.ID)
	require.NoError(t, err)
	assert.Equal(t, topic.Trauma, l.PrimaryDomain)
}

func TestNew_RejectsBadTuning(t *testing.T) {
	cfg := testConfig(t)
	tuning := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(tuning, []byte("mix:\n  review_ratio: 0.9\n"), 0o600))
	cfg.Content.TuningFile = tuning

	_, err := New(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.True(t, shared.IsConfiguration(err))
}

func TestNew_MissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Content.CatalogFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := New(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load catalog")
}

func TestScheduler_RegistersJobs(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	s, err := a.Scheduler()
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, j := range s.ListJobs() {
		names = append(names, j.Name)
	}
	assert.ElementsMatch(t, []string{"prepare_daily_mix", "evaluate_retention_checks", "prune_daily_mixes"}, names)

	res, err := s.RunNow(context.Background(), "prune_daily_mixes")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
}

func TestScheduler_DisabledJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.DisabledJobs = []string{"prune_daily_mixes"}

	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	s, err := a.Scheduler()
	require.NoError(t, err)
	for _, j := range s.ListJobs() {
		assert.Equal(t, j.Name != "prune_daily_mixes", j.Enabled, j.Name)
	}

	cfg.Scheduler.DisabledJobs = []string{"send_reminders"}
	_, err = a.Scheduler()
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
}

func TestScheduler_BadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.PruneSchedule = "every night"

	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Scheduler()
	require.Error(t, err)
}

func TestDispatcher_InvalidatesPreparedMix(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	d, err := a.Dispatcher()
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)

	ctx := context.Background()
	res, err := a.Commands.OnboardLearner.Handle(ctx, command.OnboardLearnerCommand{
		EducationLevel: band.LevelIntern,
		PrimaryDomain:  topic.Trauma,
	})
	require.NoError(t, err)
	id := res.Learner.ID

	tomorrow := timeutil.StartOfNextDay(time.Now().UTC())
	mix, err := a.Queries.GetDailyMix.Handle(ctx, queryFor(id, tomorrow))
	require.NoError(t, err)
	require.NoError(t, a.Repos.Mixes.Save(ctx, mix.Mix))

	_, err = a.Commands.RecordSession.Handle(ctx, command.RecordSessionCommand{
		LearnerID: id,
		Items:     []command.SessionItem{{ContentID: "trauma-1", Correct: true, TimeSpentSeconds: 60}},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := a.Repos.Mixes.Get(ctx, id, mix.Mix.Date)
		return shared.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func queryFor(learnerID string, day time.Time) query.GetDailyMixQuery {
	return query.GetDailyMixQuery{LearnerID: learnerID, Date: shared.DateKey(day)}
}

func TestHTTPServer_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := a.HTTPServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"catalog"`)
}
