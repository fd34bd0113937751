// Package app wires configuration, storage, caching, messaging and the
// application handlers into one process. cmd/api and cmd/worker both start
// from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/config"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/command"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/query"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/catalog"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/messaging"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/persistence/memory"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/persistence/postgres"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/persistence/redis"
	"github.com/himo777777/Ortokompanion-sub000/internal/interface/http/handlers"
	"github.com/himo777777/Ortokompanion-sub000/pkg/circuitbreaker"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// MixStore persists daily mixes and prunes old ones.
type MixStore interface {
	dailymix.Repository
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repos are the storage ports, backed by postgres or by the in-memory store.
type Repos struct {
	Learners   learner.Repository
	Cards      srs.Repository
	Bands      band.Repository
	Domains    progression.Repository
	Retention  progression.RetentionRepository
	Mixes      MixStore
	Lock       learner.SessionLock
	UnitOfWork core.UnitOfWork
}

// Commands are the write-side handlers.
type Commands struct {
	OnboardLearner         *command.OnboardLearnerHandler
	RecordSession          *command.RecordSessionHandler
	RecordGateEvent        *command.RecordGateEventHandler
	ScheduleRetentionCheck *command.ScheduleRetentionCheckHandler
	CompleteRetentionCheck *command.CompleteRetentionCheckHandler
}

// Queries are the read-side handlers.
type Queries struct {
	GetDailyMix   *query.GetDailyMixHandler
	GetDueReviews *query.GetDueReviewsHandler
	GetProgress   *query.GetProgressHandler
}

// App holds every wired component of one process.
type App struct {
	Cfg     *config.Config
	Log     *logger.Logger
	Policy  policy.Policy
	Engines *core.Engines
	Catalog *catalog.Catalog

	Repos    Repos
	Commands Commands
	Queries  Queries

	// Bus carries domain events; with redis it spans processes.
	Bus    shared.EventBus
	Health *handlers.CompositeHealthChecker

	// DB and Cache are nil when the process runs on the in-memory store or
	// without redis.
	DB       *postgres.Connection
	Cache    *redis.Cache
	MixCache *redis.MixCache
	Breaker  *circuitbreaker.CircuitBreaker

	closers []func() error
}

// New builds the process from cfg. The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{
		Cfg:    cfg,
		Log:    log,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	if err := a.wireDomain(); err != nil {
		return nil, err
	}
	if err := a.wireRepos(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireCache(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireBus(); err != nil {
		a.Close()
		return nil, err
	}
	a.wireHandlers()

	log.Info("application wired",
		logger.String("environment", string(cfg.App.Environment)),
		logger.Bool("postgres", a.DB != nil),
		logger.Bool("redis", a.Cache != nil),
		logger.Int("catalog_items", a.Catalog.Size()),
	)
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) wireDomain() error {
	p, err := config.LoadTuning(a.Cfg.Content.TuningFile)
	if err != nil {
		return fmt.Errorf("app: load tuning: %w", err)
	}
	engines, err := core.NewEngines(p)
	if err != nil {
		return fmt.Errorf("app: build engines: %w", err)
	}
	cat, err := catalog.Load(a.Cfg.Content.CatalogFile)
	if err != nil {
		return fmt.Errorf("app: load catalog: %w", err)
	}

	a.Policy = p
	a.Engines = engines
	a.Catalog = cat
	a.Health.AddCheck("catalog", handlers.CatalogCheck(cat.Size))
	return nil
}

func (a *App) wireRepos(ctx context.Context) error {
	if a.Cfg.Database.URL == "" {
		a.Log.Warn("DATABASE_URL is empty, using the in-memory store")
		store := memory.NewStore()
		a.Repos = Repos{
			Learners:   store.Learners(),
			Cards:      store.Cards(),
			Bands:      store.Bands(),
			Domains:    store.Domains(),
			Retention:  store.RetentionChecks(),
			Mixes:      store.Mixes(),
			Lock:       store.SessionLock(),
			UnitOfWork: store,
		}
		return nil
	}

	db := a.Cfg.Database
	pgCfg := postgres.DefaultConfig(db.URL)
	pgCfg.MaxConns = int32(db.MaxConns)
	pgCfg.MinConns = int32(db.MinConns)
	pgCfg.MaxConnLifetime = db.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = db.ConnMaxIdleTime
	pgCfg.StatementTimeout = db.QueryTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("app: connect postgres: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, func() error { conn.Close(); return nil })
	a.Health.AddCheck("postgres", handlers.PingCheck(conn))

	if db.AutoMigrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("app: migrate: %w", err)
		}
		if len(applied) > 0 {
			a.Log.Info("migrations applied", logger.Any("versions", applied))
		}
	}

	a.Repos = Repos{
		Learners:   postgres.NewLearnerRepository(conn),
		Cards:      postgres.NewCardRepository(conn),
		Bands:      postgres.NewBandRepository(conn),
		Domains:    postgres.NewDomainRepository(conn),
		Retention:  postgres.NewRetentionRepository(conn),
		Mixes:      postgres.NewMixRepository(conn),
		UnitOfWork: conn,
	}
	return nil
}

func (a *App) wireCache(ctx context.Context) error {
	if a.Cfg.Redis.Disabled {
		if a.Repos.Lock == nil {
			return errors.New("app: redis is disabled and the store has no session lock")
		}
		return nil
	}

	rc := a.Cfg.Redis
	cacheCfg := redis.DefaultConfig()
	cacheCfg.URL = rc.URL
	cacheCfg.Host = rc.Host
	cacheCfg.Port = rc.Port
	cacheCfg.Password = rc.Password
	cacheCfg.DB = rc.DB
	cacheCfg.PoolSize = rc.PoolSize
	cacheCfg.MinIdleConns = rc.MinIdleConns
	cacheCfg.DialTimeout = rc.DialTimeout
	cacheCfg.ReadTimeout = rc.ReadTimeout
	cacheCfg.WriteTimeout = rc.WriteTimeout

	cache, err := redis.NewCache(ctx, cacheCfg)
	if err != nil {
		return fmt.Errorf("app: connect redis: %w", err)
	}
	a.Cache = cache
	a.closers = append(a.closers, cache.Close)
	a.Health.AddCheck("redis", handlers.PingCheck(cache))

	a.MixCache = redis.NewMixCache(cache)
	a.Breaker = circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
		a.Log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}, shared.ErrCacheMiss)

	lockCfg := redis.DefaultLockConfig()
	if rc.LockTTL > 0 {
		lockCfg.TTL = rc.LockTTL
	}
	a.Repos.Lock = redis.NewSessionLock(cache, lockCfg, a.Log)
	return nil
}

func (a *App) wireBus() error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = a.Log

	if a.Cache == nil {
		bus := messaging.NewInMemoryEventBus(local)
		a.Bus = bus
		a.closers = append(a.closers, bus.Close)
		return nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisClient(a.Cache.Client()),
		ChannelName:    a.Cfg.Redis.EventChannel,
		LocalBusConfig: local,
		Logger:         a.Log,
	})
	if err != nil {
		return fmt.Errorf("app: start event bus: %w", err)
	}
	a.Bus = bus
	a.closers = append(a.closers, bus.Close)
	return nil
}

func (a *App) wireHandlers() {
	clock := shared.SystemClock()

	cmdDeps := command.Deps{
		Learners:   a.Repos.Learners,
		Cards:      a.Repos.Cards,
		Bands:      a.Repos.Bands,
		Domains:    a.Repos.Domains,
		Retention:  a.Repos.Retention,
		Catalog:    a.Catalog,
		Lock:       a.Repos.Lock,
		UnitOfWork: a.Repos.UnitOfWork,
		Engines:    a.Engines,
		Features:   a.features(),
		Publisher:  a.Bus,
		Clock:      clock,
		Logger:     a.Log,
	}
	a.Commands = Commands{
		OnboardLearner:         command.NewOnboardLearnerHandler(cmdDeps),
		RecordSession:          command.NewRecordSessionHandler(cmdDeps),
		RecordGateEvent:        command.NewRecordGateEventHandler(cmdDeps),
		ScheduleRetentionCheck: command.NewScheduleRetentionCheckHandler(cmdDeps),
		CompleteRetentionCheck: command.NewCompleteRetentionCheckHandler(cmdDeps),
	}

	qDeps := query.Deps{
		Learners:  a.Repos.Learners,
		Cards:     a.Repos.Cards,
		Bands:     a.Repos.Bands,
		Domains:   a.Repos.Domains,
		Retention: a.Repos.Retention,
		Catalog:   a.Catalog,
		Mixes:     a.Repos.Mixes,
		Breaker:   a.Breaker,
		Engines:   a.Engines,
		Features:  a.features(),
		Publisher: a.Bus,
		Clock:     clock,
		Logger:    a.Log,
	}
	qDeps.Cache = a.mixCache()
	a.Queries = Queries{
		GetDailyMix:   query.NewGetDailyMixHandler(qDeps),
		GetDueReviews: query.NewGetDueReviewsHandler(qDeps),
		GetProgress:   query.NewGetProgressHandler(qDeps),
	}
}

// mixCache avoids handing out a typed nil when redis is off.
func (a *App) mixCache() dailymix.Cache {
	if a.MixCache == nil {
		return nil
	}
	return a.MixCache
}

func (a *App) features() core.Features {
	if a.Cfg.Features == nil {
		return core.AllFeatures
	}
	return a.Cfg.Features
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", logger.Err(err))
		}
	}
	a.closers = nil
	a.Log.Sync()
}
