package command

import (
	"context"
	"fmt"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// Deps lists the collaborators shared by the command handlers. Lock,
// UnitOfWork, Features, Publisher, Clock, NewID and Logger are optional.
type Deps struct {
	Learners   learner.Repository
	Cards      srs.Repository
	Bands      band.Repository
	Domains    progression.Repository
	Retention  progression.RetentionRepository
	Catalog    dailymix.Catalog
	Lock       learner.SessionLock
	UnitOfWork core.UnitOfWork
	Engines    *core.Engines
	Features   core.Features
	Publisher  shared.EventPublisher
	Clock      shared.Clock
	NewID      core.IDGenerator
	Logger     *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.UnitOfWork == nil {
		d.UnitOfWork = core.NoTransaction
	}
	if d.Features == nil {
		d.Features = core.AllFeatures
	}
	if d.Publisher == nil {
		d.Publisher = core.DiscardEvents
	}
	if d.Clock == nil {
		d.Clock = shared.SystemClock()
	}
	if d.NewID == nil {
		d.NewID = core.NewUUID
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// publishAll publishes events after commit. Failures are logged only: the
// state change is already durable.
func publishAll(pub shared.EventPublisher, log *logger.Logger, events []shared.Event) {
	for _, event := range events {
		if err := pub.Publish(event); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Err(err))
		}
	}
}

// lockLearner takes the learner's session lock when one is configured.
func (d Deps) lockLearner(ctx context.Context, learnerID string) (func(), error) {
	if d.Lock == nil {
		return func() {}, nil
	}
	release, err := d.Lock.Acquire(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	return release, nil
}
