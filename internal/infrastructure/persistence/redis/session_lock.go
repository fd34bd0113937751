package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOCK
// ══════════════════════════════════════════════════════════════════════════════

// LockConfig configures SessionLock.
type LockConfig struct {
	// TTL expires a lock whose holder died.
	TTL time.Duration

	// Attempts is how many times Acquire tries before giving up. 1 fails fast.
	Attempts int

	// RetryDelay is the initial wait between attempts.
	RetryDelay time.Duration
}

// DefaultLockConfig fails fast, like the in-process lock.
func DefaultLockConfig() LockConfig {
	return LockConfig{TTL: TTLSessionLock, Attempts: 1, RetryDelay: 50 * time.Millisecond}
}

// SessionLock implements learner.SessionLock across processes. Each
// acquisition writes a random token; release deletes the key only while it
// still holds that token, so an expired holder cannot free someone else's
// lock.
type SessionLock struct {
	store Store
	cfg   LockConfig
	log   *logger.Logger
}

var _ learner.SessionLock = (*SessionLock)(nil)

// NewSessionLock creates the lock.
func NewSessionLock(store Store, cfg LockConfig, log *logger.Logger) *SessionLock {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLSessionLock
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SessionLock{store: store, cfg: cfg, log: log.With(logger.Component("session_lock"))}
}

var errLockHeld = shared.NewDomainError("learner", "Lock", shared.ErrConcurrentModification, "a session is already being recorded")

// Acquire takes the learner's lock.
func (l *SessionLock) Acquire(ctx context.Context, learnerID string) (func(), error) {
	key := LockKey("learner:" + learnerID)
	token := uuid.NewString()

	err := retry.Do(ctx, func(ctx context.Context) error {
		ok, err := l.store.SetNX(ctx, key, token, l.cfg.TTL)
		if err != nil {
			return retry.Permanent(fmt.Errorf("session_lock: failed to acquire: %w", err))
		}
		if !ok {
			return errLockHeld
		}
		return nil
	},
		retry.WithMaxAttempts(l.cfg.Attempts),
		retry.WithInitialDelay(l.cfg.RetryDelay),
		retry.WithMaxDelay(time.Second),
		retry.WithRetryIf(shared.IsConflict),
	)
	if err != nil {
		return nil, err
	}

	release := func() {
		// The request context may already be cancelled when release runs.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.store.DeleteIfEquals(ctx, key, token); err != nil {
			l.log.Warn("failed to release session lock", logger.LearnerID(learnerID), logger.Err(err))
		}
	}
	return release, nil
}
