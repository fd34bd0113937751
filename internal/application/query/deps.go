// Package query contains read operations (CQRS - Queries).
package query

import (
	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/pkg/circuitbreaker"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// Deps lists the collaborators shared by the query handlers. Mixes, Cache,
// Breaker, Features, Publisher, Clock and Logger are optional.
type Deps struct {
	Learners  learner.Repository
	Cards     srs.Repository
	Bands     band.Repository
	Domains   progression.Repository
	Retention progression.RetentionRepository
	Catalog   dailymix.Catalog
	Mixes     dailymix.Repository
	Cache     dailymix.Cache
	Breaker   *circuitbreaker.CircuitBreaker
	Engines   *core.Engines
	Features  core.Features
	Publisher shared.EventPublisher
	Clock     shared.Clock
	Logger    *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Features == nil {
		d.Features = core.AllFeatures
	}
	if d.Publisher == nil {
		d.Publisher = core.DiscardEvents
	}
	if d.Clock == nil {
		d.Clock = shared.SystemClock()
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}
