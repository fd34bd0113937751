// Package core wires the pure scheduling components together and declares the
// ports the application layer needs from infrastructure.
package core

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINES
// ══════════════════════════════════════════════════════════════════════════════

// Engines groups the stateless components built from one policy.
type Engines struct {
	Policy   policy.Policy
	SRS      *srs.Engine
	Band     *band.Controller
	Gate     *progression.Gate
	Composer *dailymix.Composer
}

// NewEngines validates p and builds the components.
func NewEngines(p policy.Policy) (*Engines, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Engines{
		Policy: p,
		SRS:    srs.NewEngine(p.SRS),
		Band:   band.NewController(p.Band),
		Gate:   progression.NewGate(p.Gate),
	}
	e.Composer = dailymix.NewComposer(p.Mix, e.SRS, e.Band)
	return e, nil
}

// GateFor returns the gate to use when recall suggestions are switched off.
func (e *Engines) GateFor(recall bool) *progression.Gate {
	if recall {
		return e.Gate
	}
	g := e.Policy.Gate
	g.RecallWeight = 0
	return progression.NewGate(g)
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork runs fn in one transaction. Repositories called with the context
// handed to fn join that transaction.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWorkFunc adapts a function to UnitOfWork.
type UnitOfWorkFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f UnitOfWorkFunc) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// NoTransaction runs fn directly.
var NoTransaction UnitOfWork = UnitOfWorkFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})

// Feature names checked by the application layer.
const (
	FeatureInterleaving    = "mix.interleaving"
	FeatureRecoveryDay     = "mix.recovery_day"
	FeatureDayOneSoftening = "band.day_one_softening"
	FeatureRecallDomains   = "progression.recall_domains"
)

// Features reports whether a feature is on for a learner.
type Features interface {
	Enabled(feature, learnerID string) bool
}

// FeaturesFunc adapts a function to Features.
type FeaturesFunc func(feature, learnerID string) bool

func (f FeaturesFunc) Enabled(feature, learnerID string) bool {
	return f(feature, learnerID)
}

// AllFeatures turns every feature on.
var AllFeatures Features = FeaturesFunc(func(string, string) bool { return true })

// DiscardEvents is a publisher that drops every event.
var DiscardEvents shared.EventPublisher = discard{}

type discard struct{}

func (discard) Publish(shared.Event) error { return nil }

// IDGenerator produces identifiers for new records.
type IDGenerator func() string

// NewUUID is the default IDGenerator.
func NewUUID() string {
	return uuid.NewString()
}

// IsStaleWrite reports whether err is a lost optimistic-lock race that can be
// resolved by re-running the transaction.
func IsStaleWrite(err error) bool {
	return errors.Is(err, shared.ErrOptimisticLock) || errors.Is(err, shared.ErrConcurrentModification)
}
