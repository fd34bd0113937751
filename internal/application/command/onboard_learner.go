package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARD LEARNER COMMAND
// Registers a learner: starting band from education level, domain statuses
// with only the primary domain open.
// ══════════════════════════════════════════════════════════════════════════════

// OnboardLearnerCommand contains the onboarding answers.
type OnboardLearnerCommand struct {
	// LearnerID is generated when empty.
	LearnerID          string
	EducationLevel     band.EducationLevel
	PrimaryDomain      topic.Domain
	SecondaryInterests []topic.Domain
	Timezone           string
	TargetMinutes      int
}

// Validate validates the command.
func (c OnboardLearnerCommand) Validate() error {
	if c.EducationLevel == "" {
		return errors.New("onboard_learner: education_level is required")
	}
	if c.PrimaryDomain == "" {
		return errors.New("onboard_learner: primary_domain is required")
	}
	return nil
}

// OnboardLearnerResult contains the created learner.
type OnboardLearnerResult struct {
	Learner *learner.Learner

	// StartingBand is the band stored in the band status.
	StartingBand band.Band

	// FirstSessionBand is the softened band served on day one.
	FirstSessionBand band.Band

	Domains []progression.Status
	Events  []shared.Event
}

// OnboardLearnerHandler handles the OnboardLearnerCommand.
type OnboardLearnerHandler struct {
	Deps
	log *logger.Logger
}

// NewOnboardLearnerHandler creates a new OnboardLearnerHandler.
func NewOnboardLearnerHandler(deps Deps) *OnboardLearnerHandler {
	deps = deps.withDefaults()
	return &OnboardLearnerHandler{Deps: deps, log: deps.Logger.With(logger.Component("onboard_learner"))}
}

// Handle executes the onboard learner command.
func (h *OnboardLearnerHandler) Handle(ctx context.Context, cmd OnboardLearnerCommand) (*OnboardLearnerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("learner", "Onboard", shared.ErrValidation, "invalid command", err)
	}

	id := cmd.LearnerID
	if id == "" {
		id = h.NewID()
	}

	now := h.Clock.Now()
	l, err := learner.New(learner.NewLearnerParams{
		ID:                 id,
		EducationLevel:     cmd.EducationLevel,
		PrimaryDomain:      cmd.PrimaryDomain,
		SecondaryInterests: cmd.SecondaryInterests,
		Timezone:           cmd.Timezone,
		TargetMinutes:      cmd.TargetMinutes,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("onboard_learner: %w", err)
	}
	local := l.LocalTime(now)
	l.CreatedAt = local

	start, err := l.StartingBand()
	if err != nil {
		return nil, fmt.Errorf("onboard_learner: %w", err)
	}
	first := start
	if h.Features.Enabled(core.FeatureDayOneSoftening, l.ID) {
		first = h.Engines.Band.DayOneBand(start)
	}

	totals, err := h.Catalog.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("onboard_learner: failed to load catalog totals: %w", err)
	}
	statuses, err := progression.InitialStatuses(l.ID, l.PrimaryDomain, totals, local)
	if err != nil {
		return nil, fmt.Errorf("onboard_learner: %w", err)
	}

	err = h.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		if err := h.Learners.Create(ctx, l); err != nil {
			return fmt.Errorf("failed to create learner: %w", err)
		}
		if err := h.Bands.Create(ctx, band.NewStatus(l.ID, start, local)); err != nil {
			return fmt.Errorf("failed to create band status: %w", err)
		}
		if err := h.Domains.CreateAll(ctx, statuses); err != nil {
			return fmt.Errorf("failed to create domain statuses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("onboard_learner: %w", err)
	}

	events := []shared.Event{shared.NewLearnerOnboardedEvent(
		l.ID, string(l.EducationLevel), string(l.PrimaryDomain), start.String(), local)}
	publishAll(h.Publisher, h.log, events)

	h.log.Info("learner onboarded",
		logger.LearnerID(l.ID),
		logger.BandField(start.String()),
		logger.DomainID(string(l.PrimaryDomain)),
		logger.Time("created_at", local.In(time.UTC)),
	)

	return &OnboardLearnerResult{
		Learner:          l,
		StartingBand:     start,
		FirstSessionBand: first,
		Domains:          statuses,
		Events:           events,
	}, nil
}
