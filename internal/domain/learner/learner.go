// Package learner holds the learner aggregate: who is studying and where
// they start.
package learner

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Learner is a person using the platform.
type Learner struct {
	ID                 string
	EducationLevel     band.EducationLevel
	PrimaryDomain      topic.Domain
	SecondaryInterests []topic.Domain

	// Timezone is an IANA name. Calendar days of the learner are computed in it.
	Timezone string

	// TargetMinutes is the preferred daily session length; zero uses the default.
	TargetMinutes int

	CreatedAt time.Time
}

// NewLearnerParams describes a learner to create.
type NewLearnerParams struct {
	ID                 string
	EducationLevel     band.EducationLevel
	PrimaryDomain      topic.Domain
	SecondaryInterests []topic.Domain
	Timezone           string
	TargetMinutes      int
}

// New validates params and creates a learner.
func New(p NewLearnerParams, now time.Time) (*Learner, error) {
	id, err := shared.NewLearnerID(p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := band.StartingBand(p.EducationLevel); err != nil {
		return nil, err
	}
	if !p.PrimaryDomain.IsValid() {
		return nil, shared.ErrUnknownDomain
	}

	interests := make([]topic.Domain, 0, len(p.SecondaryInterests))
	for _, d := range p.SecondaryInterests {
		if !d.IsValid() {
			return nil, shared.ErrUnknownDomain
		}
		if d == p.PrimaryDomain || slices.Contains(interests, d) {
			continue
		}
		interests = append(interests, d)
	}

	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, shared.WrapError("learner", "New", shared.ErrInvalidInput, "unknown timezone "+tz, err)
	}

	if p.TargetMinutes < 0 {
		return nil, shared.NewDomainError("learner", "New", shared.ErrValueOutOfRange, "target minutes must not be negative")
	}

	return &Learner{
		ID:                 id.String(),
		EducationLevel:     p.EducationLevel,
		PrimaryDomain:      p.PrimaryDomain,
		SecondaryInterests: interests,
		Timezone:           tz,
		TargetMinutes:      p.TargetMinutes,
		CreatedAt:          now,
	}, nil
}

// Location returns the learner's time zone, UTC when it cannot be loaded.
func (l *Learner) Location() *time.Location {
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalTime converts t into the learner's time zone.
func (l *Learner) LocalTime(t time.Time) time.Time {
	return t.In(l.Location())
}

// StartingBand is the band derived from the education level.
func (l *Learner) StartingBand() (band.Band, error) {
	return band.StartingBand(l.EducationLevel)
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists learners.
type Repository interface {
	Create(ctx context.Context, l *Learner) error
	GetByID(ctx context.Context, id string) (*Learner, error)

	// List returns learners ordered by creation time.
	List(ctx context.Context, page shared.Pagination) ([]*Learner, error)
}

// SessionLock serialises writes for a single learner across processes.
type SessionLock interface {
	// Acquire blocks until the lock is held or ctx is done and returns the
	// release function.
	Acquire(ctx context.Context, learnerID string) (release func(), err error)
}
