// Package config loads the service configuration from the environment, the
// YAML tuning file and the feature flag overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// Environment selects production safeguards; anything but production may run
// without Postgres or Redis.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is everything the api, worker and ortoctl binaries read at start.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	Scheduler     SchedulerConfig
	Content       ContentConfig
	Features      *FeatureFlags
	Observability ObservabilityConfig
}

type AppConfig struct {
	Environment Environment
	Debug       bool
	Version     string

	// Timezone is used by the job scheduler. Learner days always use the
	// learner's own timezone.
	Timezone string
	Location *time.Location

	ShutdownTimeout time.Duration
}

// DatabaseConfig points at Postgres. An empty URL runs the service on the
// in-memory store.
type DatabaseConfig struct {
	URL string

	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	QueryTimeout time.Duration

	// AutoMigrate applies pending migrations on start.
	AutoMigrate bool
}

// RedisConfig backs the mix cache, the session lock and the event channel.
// URL wins over the individual address fields.
type RedisConfig struct {
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// LockTTL bounds how long a learner's session lock may be held.
	LockTTL time.Duration

	// EventChannel is the Pub/Sub channel shared by api and worker.
	EventChannel string

	Disabled bool
}

type HTTPConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RequestTimeout     time.Duration
	AllowedOrigins     []string
	RateLimitPerMinute int
}

// SchedulerConfig holds background job settings. Schedules accept a
// five-field cron expression or "@every <duration>".
type SchedulerConfig struct {
	Enabled bool

	TickInterval time.Duration

	// PrepareMixSchedule should fire hourly: each run serves learners whose
	// local hour equals PrepareMixLocalHour.
	PrepareMixSchedule    string
	PrepareMixLocalHour   int
	PrepareMixConcurrency int

	RetentionSchedule  string
	RetentionBatchSize int

	PruneSchedule string
	MixRetention  time.Duration

	JobTimeout time.Duration

	// DisabledJobs are registered but never started by their schedule.
	DisabledJobs []string
}

// ContentConfig points at the files the scheduler is calibrated from.
type ContentConfig struct {
	// CatalogFile is the YAML content catalogue.
	CatalogFile string

	// TuningFile overlays the default policy; empty keeps the defaults.
	TuningFile string
}

type ObservabilityConfig struct {
	LogLevel string

	// LogFormat is json or console.
	LogFormat string
}

// Load reads the configuration from the environment. Malformed values are
// reported together with the checks of Validate rather than replaced by
// their defaults.
func Load() (*Config, error) {
	features, err := LoadFeatureFlags()
	if err != nil {
		return nil, fmt.Errorf("feature flags: %w", err)
	}

	e := &envReader{lookup: os.LookupEnv}
	cfg := e.read()
	cfg.Features = features

	if err := configError(append(e.problems, cfg.problems()...)); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (e *envReader) read() *Config {
	env := Environment(e.str("APP_ENV", string(EnvDevelopment)))
	tz := e.str("APP_TIMEZONE", "UTC")
	loc, _ := time.LoadLocation(tz) // nil is reported by problems

	return &Config{
		App: AppConfig{
			Environment:     env,
			Debug:           e.flag("APP_DEBUG", false) || env == EnvDevelopment,
			Version:         e.str("APP_VERSION", "0.1.0"),
			Timezone:        tz,
			Location:        loc,
			ShutdownTimeout: e.dur("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             e.databaseURL(),
			MaxConns:        e.num("DB_MAX_CONNS", 10),
			MinConns:        e.num("DB_MIN_CONNS", 2),
			ConnMaxLifetime: e.dur("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: e.dur("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
			QueryTimeout:    e.dur("DB_QUERY_TIMEOUT", 30*time.Second),
			AutoMigrate:     e.flag("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			Host:         e.str("REDIS_HOST", "localhost"),
			Port:         e.num("REDIS_PORT", 6379),
			Password:     e.str("REDIS_PASSWORD", ""),
			DB:           e.num("REDIS_DB", 0),
			PoolSize:     e.num("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.num("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      e.dur("REDIS_LOCK_TTL", 30*time.Second),
			EventChannel: e.str("REDIS_EVENT_CHANNEL", "ortokompanion:events"),
			Disabled:     e.flag("REDIS_DISABLED", false),
		},
		HTTP: HTTPConfig{
			Host:               e.str("HTTP_HOST", "0.0.0.0"),
			Port:               e.num("HTTP_PORT", 8080),
			ReadTimeout:        e.dur("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       e.dur("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        e.dur("HTTP_IDLE_TIMEOUT", time.Minute),
			RequestTimeout:     e.dur("HTTP_REQUEST_TIMEOUT", 10*time.Second),
			AllowedOrigins:     e.list("HTTP_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitPerMinute: e.num("HTTP_RATE_LIMIT_PER_MINUTE", 120),
		},
		Scheduler: SchedulerConfig{
			Enabled:               e.flag("SCHEDULER_ENABLED", true),
			TickInterval:          e.dur("SCHEDULER_TICK_INTERVAL", time.Second),
			PrepareMixSchedule:    e.str("SCHEDULER_PREPARE_MIX_SCHEDULE", "5 * * * *"),
			PrepareMixLocalHour:   e.num("SCHEDULER_PREPARE_MIX_LOCAL_HOUR", 21),
			PrepareMixConcurrency: e.num("SCHEDULER_PREPARE_MIX_CONCURRENCY", 4),
			RetentionSchedule:     e.str("SCHEDULER_RETENTION_SCHEDULE", "*/15 * * * *"),
			RetentionBatchSize:    e.num("SCHEDULER_RETENTION_BATCH_SIZE", 100),
			PruneSchedule:         e.str("SCHEDULER_PRUNE_SCHEDULE", "30 3 * * *"),
			MixRetention:          e.dur("SCHEDULER_MIX_RETENTION", 7*24*time.Hour),
			JobTimeout:            e.dur("SCHEDULER_JOB_TIMEOUT", 10*time.Minute),
			DisabledJobs:          e.list("SCHEDULER_DISABLED_JOBS", nil),
		},
		Content: ContentConfig{
			CatalogFile: e.str("CATALOG_FILE", "content/catalog.yaml"),
			TuningFile:  e.str("TUNING_FILE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  e.str("LOG_LEVEL", "info"),
			LogFormat: e.str("LOG_FORMAT", "json"),
		},
	}
}

// databaseURL assembles a URL from the DB_* parts when DATABASE_URL is unset.
// Both DB_HOST and DB_USER are needed; otherwise the in-memory store is used.
func (e *envReader) databaseURL() string {
	if dsn := e.str("DATABASE_URL", ""); dsn != "" {
		return dsn
	}
	host, user := e.str("DB_HOST", ""), e.str("DB_USER", "")
	if host == "" || user == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, e.str("DB_PASSWORD", "")),
		Host:     host + ":" + e.str("DB_PORT", "5432"),
		Path:     "/" + e.str("DB_NAME", "postgres"),
		RawQuery: "sslmode=" + e.str("DB_SSLMODE", "require"),
	}
	return u.String()
}

// Validate checks a configuration assembled outside Load.
func (c *Config) Validate() error { return configError(c.problems()) }

func (c *Config) problems() []string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	if c.App.Location == nil {
		add("APP_TIMEZONE %q is not a known timezone", c.App.Timezone)
	}
	if c.App.Environment == EnvProduction {
		if c.Database.URL == "" {
			add("DATABASE_URL is required in production")
		}
		if c.Redis.Disabled {
			add("REDIS_DISABLED is not allowed in production")
		}
	}
	if db := c.Database; db.MaxConns < 1 || db.MinConns < 0 || db.MinConns > db.MaxConns {
		add("DB_MIN_CONNS must be within [0, DB_MAX_CONNS] and DB_MAX_CONNS positive")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		add("HTTP_PORT must be 1-65535")
	}
	if h := c.Scheduler.PrepareMixLocalHour; h < -1 || h > 23 {
		add("SCHEDULER_PREPARE_MIX_LOCAL_HOUR must be -1 (all learners) or 0-23")
	}
	if c.Scheduler.MixRetention < 24*time.Hour {
		add("SCHEDULER_MIX_RETENTION must be at least 24h")
	}
	if c.Content.CatalogFile == "" {
		add("CATALOG_FILE is required")
	}
	return out
}

func configError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return shared.NewDomainError("config", "Validate", shared.ErrConfiguration,
		"configuration errors:\n  - "+strings.Join(problems, "\n  - "))
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVIRONMENT
// ══════════════════════════════════════════════════════════════════════════════

// envReader reads typed variables and remembers the ones it could not parse.
// Empty variables count as unset.
type envReader struct {
	lookup   func(string) (string, bool)
	problems []string
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	return v, ok && v != ""
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.value(key); ok {
		return v
	}
	return def
}

func (e *envReader) flag(key string, def bool) bool {
	return parseEnv(e, key, def, "boolean", strconv.ParseBool)
}

func (e *envReader) num(key string, def int) int {
	return parseEnv(e, key, def, "integer", strconv.Atoi)
}

func (e *envReader) dur(key string, def time.Duration) time.Duration {
	return parseEnv(e, key, def, "duration", time.ParseDuration)
}

// list splits a comma-separated value, dropping blank entries.
func (e *envReader) list(key string, def []string) []string {
	v, ok := e.value(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseEnv[T any](e *envReader, key string, def T, kind string, parse func(string) (T, error)) T {
	v, ok := e.value(key)
	if !ok {
		return def
	}
	out, err := parse(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s %q is not a valid %s", key, v, kind))
		return def
	}
	return out
}
