// Package eventhandler contains reactions to domain events.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIX INVALIDATION
// The worker composes tomorrow's mix ahead of time. Anything that changes the
// inputs of that mix after it was prepared drops it from the cache and the
// store so that the next read composes it again.
// ══════════════════════════════════════════════════════════════════════════════

// InvalidatingEvents are the event types that make a prepared mix stale.
var InvalidatingEvents = []shared.EventType{
	shared.EventSessionRecorded,
	shared.EventRetentionCheckCompleted,
	shared.EventDomainCompleted,
}

// MixInvalidator drops tomorrow's prepared mix. Today's plan is left alone:
// the learner may be halfway through it.
type MixInvalidator struct {
	learners learner.Repository
	mixes    dailymix.Repository
	cache    dailymix.Cache
	log      *logger.Logger
}

// NewMixInvalidator creates the handler. mixes and cache may be nil.
func NewMixInvalidator(learners learner.Repository, mixes dailymix.Repository, cache dailymix.Cache, log *logger.Logger) *MixInvalidator {
	if log == nil {
		log = logger.Nop()
	}
	return &MixInvalidator{
		learners: learners,
		mixes:    mixes,
		cache:    cache,
		log:      log.With(logger.Component("mix_invalidator")),
	}
}

// Handle invalidates the mix for the day after the event, in the learner's
// timezone. It only reads the Event interface so it also serves events that
// arrived from another instance.
func (h *MixInvalidator) Handle(ctx context.Context, event shared.Event) error {
	l, err := h.learners.GetByID(ctx, event.AggregateID())
	if err != nil {
		return fmt.Errorf("mix_invalidator: failed to get learner: %w", err)
	}
	tomorrow := timeutil.StartOfNextDay(l.LocalTime(event.OccurredAt()))

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, l.ID, tomorrow); err != nil {
			return fmt.Errorf("mix_invalidator: failed to invalidate cache: %w", err)
		}
	}
	if h.mixes != nil {
		if err := h.mixes.Delete(ctx, l.ID, tomorrow); err != nil && !shared.IsNotFound(err) {
			return fmt.Errorf("mix_invalidator: failed to delete stored mix: %w", err)
		}
	}

	h.log.Debug("prepared mix invalidated",
		logger.LearnerID(l.ID),
		logger.String("date", shared.DateKey(tomorrow)),
		logger.String("cause", string(event.EventType())),
	)
	return nil
}
