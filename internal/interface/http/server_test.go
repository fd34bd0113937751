package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/command"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/query"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/catalog"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/persistence/memory"
	"github.com/himo777777/Ortokompanion-sub000/internal/interface/http/handlers"
	"github.com/himo777777/Ortokompanion-sub000/pkg/circuitbreaker"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

const learnerID = "8c2e6b1a-7d4f-4e3a-9b5c-1f2e3d4c5b6a"

func init() {
	gin.SetMode(gin.TestMode)
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

func testCatalog(t *testing.T) *catalog.Catalog {
	var items []dailymix.ContentItem
	for i := 1; i <= 6; i++ {
		items = append(items, dailymix.ContentItem{ID: fmt.Sprintf("trauma-%d", i), Domain: topic.Trauma, Band: band.B, ItemType: srs.ItemQuiz})
	}
	for i := 1; i <= 3; i++ {
		items = append(items, dailymix.ContentItem{ID: fmt.Sprintf("hip-%d", i), Domain: topic.Hip, Band: band.B, ItemType: srs.ItemMicroCase})
	}
	c, err := catalog.New(items)
	require.NoError(t, err)
	return c
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.RateLimitPerMinute = 0
	cfg.Version = "test"
	return cfg
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	engines, err := core.NewEngines(policy.Default())
	require.NoError(t, err)

	store := memory.NewStore()
	cat := testCatalog(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	clock := shared.ClockFunc(func() time.Time { return now })

	cmdDeps := command.Deps{
		Learners:   store.Learners(),
		Cards:      store.Cards(),
		Bands:      store.Bands(),
		Domains:    store.Domains(),
		Retention:  store.RetentionChecks(),
		Catalog:    cat,
		Lock:       store.SessionLock(),
		UnitOfWork: store,
		Engines:    engines,
		Clock:      clock,
	}
	qDeps := query.Deps{
		Learners:  store.Learners(),
		Cards:     store.Cards(),
		Bands:     store.Bands(),
		Domains:   store.Domains(),
		Retention: store.RetentionChecks(),
		Catalog:   cat,
		Mixes:     store.Mixes(),
		Engines:   engines,
		Clock:     clock,
	}

	return NewServer(cfg, Dependencies{
		OnboardLearner:         command.NewOnboardLearnerHandler(cmdDeps),
		RecordSession:          command.NewRecordSessionHandler(cmdDeps),
		RecordGateEvent:        command.NewRecordGateEventHandler(cmdDeps),
		ScheduleRetentionCheck: command.NewScheduleRetentionCheckHandler(cmdDeps),
		CompleteRetentionCheck: command.NewCompleteRetentionCheckHandler(cmdDeps),
		GetDailyMix:            query.NewGetDailyMixHandler(qDeps),
		GetDueReviews:          query.NewGetDueReviewsHandler(qDeps),
		GetProgress:            query.NewGetProgressHandler(qDeps),
		Learners:               store.Learners(),
		Logger:                 logger.Nop(),
	})
}

type response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func onboard(t *testing.T, s *Server) OnboardLearnerResponse {
	t.Helper()
	rec, resp := do(t, s, http.MethodPost, "/api/v1/learners", OnboardLearnerRequest{
		LearnerID:      learnerID,
		EducationLevel: string(band.LevelResident2),
		PrimaryDomain:  string(topic.Trauma),
		Timezone:       "UTC",
		TargetMinutes:  15,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out OnboardLearnerResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, path := range []string{"/", "/health", "/healthz", "/ready", "/live"} {
		rec, resp := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, resp.Success, path)
	}
}

func TestHealthEndpoints_FailingCheck(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	checker.AddCheck("redis", func(context.Context) error { return nil })

	s := NewServer(testConfig(), Dependencies{HealthChecker: checker, Logger: logger.Nop()})

	rec, resp := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "dependencies down: postgres", status.Message)
	assert.True(t, status.Checks["redis"].Healthy)

	rec, _ = do(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNERS
// ══════════════════════════════════════════════════════════════════════════════

func TestOnboardLearner(t *testing.T) {
	s := newTestServer(t, testConfig())

	out := onboard(t, s)
	assert.Equal(t, learnerID, out.Learner.ID)
	assert.Equal(t, band.C, out.StartingBand)
	assert.Equal(t, band.B, out.FirstSessionBand)
	assert.NotEmpty(t, out.Domains)

	open := 0
	for _, d := range out.Domains {
		if d.Domain == topic.Trauma {
			assert.Equal(t, "active", string(d.State))
			open++
		}
	}
	assert.Equal(t, 1, open)

	rec, resp := do(t, s, http.MethodGet, "/api/v1/learners/"+learnerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got LearnerResponse
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, topic.Trauma, got.PrimaryDomain)
	assert.Equal(t, 15, got.TargetMinutes)

	rec, resp = do(t, s, http.MethodGet, "/api/v1/learners?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []LearnerResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)
	assert.Equal(t, 10, resp.Meta.PageSize)
}

func TestOnboardLearner_Errors(t *testing.T) {
	s := newTestServer(t, testConfig())
	onboard(t, s)

	tests := []struct {
		name string
		body any
		want int
		code string
	}{
		{
			name: "duplicate",
			body: OnboardLearnerRequest{LearnerID: learnerID, EducationLevel: "intern", PrimaryDomain: "trauma"},
			want: http.StatusConflict,
			code: "already_exists",
		},
		{
			name: "unknown education level",
			body: OnboardLearnerRequest{EducationLevel: "professor", PrimaryDomain: "trauma"},
			want: http.StatusBadRequest,
			code: "invalid_request",
		},
		{
			name: "missing primary domain",
			body: map[string]any{"education_level": "intern"},
			want: http.StatusBadRequest,
			code: "invalid_request",
		},
		{
			name: "unknown domain",
			body: OnboardLearnerRequest{EducationLevel: "intern", PrimaryDomain: "astrology"},
			want: http.StatusBadRequest,
			code: "invalid_request",
		},
		{
			name: "unknown timezone",
			body: OnboardLearnerRequest{EducationLevel: "intern", PrimaryDomain: "trauma", Timezone: "Mars/Base"},
			want: http.StatusBadRequest,
			code: "invalid_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, s, http.MethodPost, "/api/v1/learners", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestGetLearner_NotFound(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec, resp := do(t, s, http.MethodGet, "/api/v1/learners/"+learnerID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSIONS & QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordSessionThenQuery(t *testing.T) {
	s := newTestServer(t, testConfig())
	onboard(t, s)

	items := []SessionItemRequest{
		{ContentID: "trauma-1", Correct: true, TimeSpentSeconds: 60},
		{ContentID: "trauma-2", Correct: true, TimeSpentSeconds: 60},
		{ContentID: "trauma-3", Correct: false, HintsUsed: 2, TimeSpentSeconds: 200},
	}
	rec, resp := do(t, s, http.MethodPost, "/api/v1/learners/"+learnerID+"/sessions", RecordSessionRequest{Items: items})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session RecordSessionResponse
	require.NoError(t, json.Unmarshal(resp.Data, &session))
	require.Len(t, session.Reviews, 3)
	for _, r := range session.Reviews {
		assert.True(t, r.NewCard)
		assert.Equal(t, topic.Trauma, r.Domain)
	}
	assert.Contains(t, session.Events, shared.EventType("session.recorded"))

	rec, resp = do(t, s, http.MethodGet, "/api/v1/learners/"+learnerID+"/progress?include_locked=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var progress query.ProgressDTO
	require.NoError(t, json.Unmarshal(resp.Data, &progress))
	assert.Equal(t, 3, progress.TotalCards)
	assert.Equal(t, topic.Trauma, progress.PrimaryDomain)

	rec, resp = do(t, s, http.MethodGet, "/api/v1/learners/"+learnerID+"/reviews/due?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var due query.DueReviewsDTO
	require.NoError(t, json.Unmarshal(resp.Data, &due))
	assert.Equal(t, learnerID, due.LearnerID)

	rec, resp = do(t, s, http.MethodGet, "/api/v1/learners/"+learnerID+"/daily-mix", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mix query.DailyMixResult
	require.NoError(t, json.Unmarshal(resp.Data, &mix))
	assert.Equal(t, learnerID, mix.Mix.LearnerID)
	assert.Equal(t, query.SourceComposed, mix.Source)

	rec, resp = do(t, s, http.MethodGet, "/api/v1/learners/"+learnerID+"/daily-mix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &mix))
	assert.Equal(t, query.SourceStore, mix.Source)
}

func TestRecordSession_Errors(t *testing.T) {
	s := newTestServer(t, testConfig())
	onboard(t, s)

	rec, resp := do(t, s, http.MethodPost, "/api/v1/learners/"+learnerID+"/sessions", RecordSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", resp.Error.Code)

	confidence := 1.5
	rec, _ = do(t, s, http.MethodPost, "/api/v1/learners/"+learnerID+"/sessions", RecordSessionRequest{
		Items: []SessionItemRequest{{ContentID: "trauma-1", Confidence: &confidence}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/learners/9d9d9d9d-0000-4000-8000-000000000000/sessions", RecordSessionRequest{
		Items: []SessionItemRequest{{ContentID: "trauma-1", Correct: true}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueries_BadParameters(t *testing.T) {
	s := newTestServer(t, testConfig())
	onboard(t, s)

	for _, path := range []string{
		"/api/v1/learners/" + learnerID + "/daily-mix?refresh=maybe",
		"/api/v1/learners/" + learnerID + "/daily-mix?date=yesterday",
		"/api/v1/learners/" + learnerID + "/reviews/due?limit=ten",
		"/api/v1/learners/" + learnerID + "/reviews/due?limit=-1",
		"/api/v1/learners/" + learnerID + "/progress?include_locked=perhaps",
	} {
		rec, resp := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid_request", resp.Error.Code, path)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN GATE
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordGateEvent_Validation(t *testing.T) {
	s := newTestServer(t, testConfig())
	onboard(t, s)

	rec, _ := do(t, s, http.MethodPost, "/api/v1/learners/"+learnerID+"/domains/trauma/gate-events",
		GateEventRequest{Event: "aced_the_exam"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/learners/"+learnerID+"/domains/astrology/gate-events",
		GateEventRequest{Event: "mini_osce_passed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordGateEvent_ComplicationCaseBand(t *testing.T) {
	s := newTestServer(t, testConfig())
	onboard(t, s)
	path := "/api/v1/learners/" + learnerID + "/domains/trauma/gate-events"

	rec, resp := do(t, s, http.MethodPost, path, GateEventRequest{Event: "complication_case_passed", Band: band.C})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "rule_violated", resp.Error.Code)

	rec, _ = do(t, s, http.MethodPost, path, map[string]string{"event": "complication_case_passed", "band": "Z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = do(t, s, http.MethodPost, path, map[string]string{"event": "complication_case_passed", "band": "e"})
	require.Equal(t, http.StatusOK, rec.Code)
	var got GateEventResponse
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.True(t, got.Domain.Gate.ComplicationCasePassed)
}

func TestCompleteRetentionCheck_Unknown(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec, resp := do(t, s, http.MethodPost, "/api/v1/retention-checks/no-such-check/complete", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER BEHAVIOUR
// ══════════════════════════════════════════════════════════════════════════════

func TestNotConfiguredEndpoints(t *testing.T) {
	s := NewServer(testConfig(), Dependencies{Logger: logger.Nop()})

	rec, resp := do(t, s, http.MethodPost, "/api/v1/learners", OnboardLearnerRequest{})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "not_implemented", resp.Error.Code)

	rec, resp = do(t, s, http.MethodGet, "/api/v1/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestRequestIDAndHeaders(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set(handlers.HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(handlers.HeaderRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, resp := do(t, s, http.MethodGet, "/live", nil)
	assert.NotEmpty(t, rec.Header().Get(handlers.HeaderRequestID))
	assert.Equal(t, rec.Header().Get(handlers.HeaderRequestID), resp.RequestID)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example"}
	s := NewServer(cfg, Dependencies{Logger: logger.Nop()})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/learners", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	s := NewServer(cfg, Dependencies{Logger: logger.Nop()})

	for i := 0; i < 2; i++ {
		rec, _ := do(t, s, http.MethodGet, "/live", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, resp := do(t, s, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", resp.Error.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRecovery(t *testing.T) {
	s := NewServer(testConfig(), Dependencies{Logger: logger.Nop()})
	s.engine.GET("/boom", func(*gin.Context) { panic("boom") })

	rec, resp := do(t, s, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", resp.Error.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrLearnerNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", shared.ErrRetentionCheckNotFound), http.StatusNotFound},
		{shared.ErrLearnerAlreadyExists, http.StatusConflict},
		{shared.ErrRetentionCheckNotDue, http.StatusConflict},
		{shared.ErrRetentionCheckDone, http.StatusConflict},
		{shared.ErrUnknownDomain, http.StatusBadRequest},
		{shared.ErrInvalidGrade, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("mix cache: %w", circuitbreaker.ErrCircuitOpen), http.StatusServiceUnavailable},
		{shared.ErrGateNotMet, http.StatusUnprocessableEntity},
		{shared.ErrUnknownEducation, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := errorStatus(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := handlers.NewRateLimiter(1, time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	rl.Cleanup()
	assert.False(t, rl.Allow("a"))
}
