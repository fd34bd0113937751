// Package http exposes the scheduler over a JSON REST API: onboarding,
// session recording, daily plans, due reviews, progress and the domain gate.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/command"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/query"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/interface/http/handlers"
	"github.com/himo777777/Ortokompanion-sub000/pkg/circuitbreaker"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the context every handler runs under (0 = none).
	RequestTimeout time.Duration

	MaxHeaderBytes int

	// AllowedOrigins for CORS. Empty disables CORS headers.
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// Mode is the gin mode: debug, release or test.
	Mode string

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		RequestTimeout:     10 * time.Second,
		MaxHeaderBytes:     1 << 20,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		Mode:               gin.ReleaseMode,
		Version:            "dev",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers. A nil
// handler makes its endpoint answer 501.
type Dependencies struct {
	// Command Handlers (CQRS Write Side)
	OnboardLearner         *command.OnboardLearnerHandler
	RecordSession          *command.RecordSessionHandler
	RecordGateEvent        *command.RecordGateEventHandler
	ScheduleRetentionCheck *command.ScheduleRetentionCheckHandler
	CompleteRetentionCheck *command.CompleteRetentionCheckHandler

	// Query Handlers (CQRS Read Side)
	GetDailyMix   *query.GetDailyMixHandler
	GetDueReviews *query.GetDueReviewsHandler
	GetProgress   *query.GetProgressHandler

	Learners learner.Repository

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	rateLimiter *handlers.RateLimiter

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	stop      context.CancelFunc
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	if s.deps.HealthChecker == nil {
		s.deps.HealthChecker = handlers.NewCompositeHealthChecker(config.Version)
	}
	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = handlers.NewRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupMiddleware() {
	s.engine.Use(
		handlers.RecoveryMiddleware(s.logger, func(c *gin.Context) {
			writeJSONError(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}),
		handlers.RequestIDMiddleware(s.logger),
		handlers.LoggingMiddleware(s.logger),
		handlers.SecurityHeadersMiddleware(),
	)
	if len(s.config.AllowedOrigins) > 0 {
		s.engine.Use(handlers.CORSMiddleware(s.config.AllowedOrigins))
	}
	if s.rateLimiter != nil {
		s.engine.Use(s.rateLimiter.Middleware(func(c *gin.Context) {
			writeJSONError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}))
	}

	s.engine.NoRoute(func(c *gin.Context) {
		writeJSONError(c, http.StatusNotFound, "not_found", "route not found")
	})
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	api := s.engine.Group("/api/v1",
		handlers.TimeoutMiddleware(s.config.RequestTimeout),
		handlers.NoCacheMiddleware(),
	)

	api.POST("/learners", s.handleOnboardLearner)
	api.GET("/learners", s.handleListLearners)

	l := api.Group("/learners/:id")
	l.GET("", s.handleGetLearner)
	l.POST("/sessions", s.handleRecordSession)
	l.GET("/daily-mix", s.handleGetDailyMix)
	l.GET("/reviews/due", s.handleGetDueReviews)
	l.GET("/progress", s.handleGetProgress)
	l.POST("/domains/:domain/gate-events", s.handleRecordGateEvent)
	l.POST("/domains/:domain/retention-checks", s.handleScheduleRetentionCheck)

	api.POST("/retention-checks/:id/complete", s.handleCompleteRetentionCheck)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.mu.Unlock()

	if s.rateLimiter != nil {
		go s.rateLimiter.Run(ctx)
	}

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	if s.stop != nil {
		s.stop()
	}
	uptime := time.Since(s.startedAt)
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server", logger.Duration("uptime", uptime))
	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Page      int       `json:"page,omitempty"`
	PageSize  int       `json:"page_size,omitempty"`
	HasMore   bool      `json:"has_more,omitempty"`
}

func writeJSON(c *gin.Context, status int, data any) {
	writeJSONWithMeta(c, status, data, nil)
}

func writeJSONWithMeta(c *gin.Context, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: handlers.RequestID(c),
	})
}

func writeJSONError(c *gin.Context, status int, code, message string) {
	writeJSONErrorWithDetails(c, status, code, message, "")
}

func writeJSONErrorWithDetails(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: handlers.RequestID(c),
	})
}

// writeDomainError maps an application error to a status and error code.
// Internal failures are logged and answered without details.
func (s *Server) writeDomainError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		writeJSONError(c, status, code, http.StatusText(status))
		return
	}
	writeJSONError(c, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, shared.ErrNotYetDue):
		return http.StatusConflict, "not_yet_due"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case shared.IsInvariantViolation(err):
		return http.StatusUnprocessableEntity, "rule_violated"
	case shared.IsConfiguration(err):
		return http.StatusInternalServerError, "misconfigured"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTrialInFlight):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func notImplemented(c *gin.Context) {
	writeJSONError(c, http.StatusNotImplemented, "not_implemented", "endpoint is not configured")
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

func queryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, shared.WrapError("http", "Query", shared.ErrInvalidInput, key+" must be an integer", err)
	}
	return n, nil
}

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, shared.WrapError("http", "Query", shared.ErrInvalidInput, key+" must be a boolean", err)
	}
	return b, nil
}
