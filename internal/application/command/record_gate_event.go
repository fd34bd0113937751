package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD GATE EVENT COMMAND
// Externally assessed criteria: the mini-OSCE capstone and the complication case.
// ══════════════════════════════════════════════════════════════════════════════

// RecordGateEventCommand reports a passed assessment.
type RecordGateEventCommand struct {
	LearnerID string
	Domain    topic.Domain
	Event     progression.GateEvent

	// Band the assessment was set at. A complication case only counts at
	// band.Highest.
	Band band.Band
}

// Validate validates the command.
func (c RecordGateEventCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("record_gate_event: learner_id is required")
	}
	if !c.Domain.IsValid() {
		return fmt.Errorf("record_gate_event: unknown domain %q", c.Domain)
	}
	if !c.Event.IsValid() {
		return fmt.Errorf("record_gate_event: unknown event %q", c.Event)
	}
	if !c.Band.IsValid() {
		return fmt.Errorf("record_gate_event: band %d is off the ladder", int(c.Band))
	}
	return nil
}

// RecordGateEventResult contains the updated domain.
type RecordGateEventResult struct {
	Domain          progression.Status
	Missing         []string
	DomainCompleted bool
	Events          []shared.Event
}

// RecordGateEventHandler handles the RecordGateEventCommand.
type RecordGateEventHandler struct {
	Deps
	log     *logger.Logger
	retrier *retry.Retrier
}

// NewRecordGateEventHandler creates a new RecordGateEventHandler.
func NewRecordGateEventHandler(deps Deps) *RecordGateEventHandler {
	deps = deps.withDefaults()
	return &RecordGateEventHandler{
		Deps:    deps,
		log:     deps.Logger.With(logger.Component("record_gate_event")),
		retrier: retry.ConflictRetrier(core.IsStaleWrite),
	}
}

// Handle sets the criterion and completes the domain if it was the last one.
func (h *RecordGateEventHandler) Handle(ctx context.Context, cmd RecordGateEventCommand) (*RecordGateEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("progression", "RecordGateEvent", shared.ErrValidation, "invalid command", err)
	}

	l, err := h.Learners.GetByID(ctx, cmd.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("record_gate_event: failed to get learner: %w", err)
	}
	local := l.LocalTime(h.Clock.Now())

	release, err := h.lockLearner(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("record_gate_event: %w", err)
	}
	defer release()

	var result *RecordGateEventResult
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.UnitOfWork.Do(ctx, func(ctx context.Context) error {
			var applyErr error
			result, applyErr = h.apply(ctx, l.ID, cmd, local)
			return applyErr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("record_gate_event: %w", err)
	}

	publishAll(h.Publisher, h.log, result.Events)
	h.log.Info("gate event recorded",
		logger.LearnerID(l.ID),
		logger.DomainID(string(cmd.Domain)),
		logger.String("event", string(cmd.Event)),
		logger.BandField(cmd.Band.String()),
		logger.Bool("completed", result.DomainCompleted),
	)
	return result, nil
}

func (h *RecordGateEventHandler) apply(ctx context.Context, learnerID string, cmd RecordGateEventCommand, local time.Time) (*RecordGateEventResult, error) {
	book, err := loadDomainBook(ctx, h.Domains, learnerID)
	if err != nil {
		return nil, err
	}
	status, ok := book.get(cmd.Domain)
	if !ok {
		return nil, shared.ErrDomainStatusNotFound
	}

	updated, err := progression.RecordGateEvent(status, cmd.Event, cmd.Band, local)
	if err != nil {
		return nil, err
	}
	book.put(updated)

	cards, err := h.Cards.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	events, err := settleDomain(gateFor(h.Engines, h.Features, learnerID), book, cmd.Domain, cards, learnerID, local)
	if err != nil {
		return nil, err
	}
	if err := book.save(ctx, h.Domains); err != nil {
		return nil, err
	}

	final, _ := book.get(cmd.Domain)
	return &RecordGateEventResult{
		Domain:          final,
		Missing:         final.Gate.Missing(),
		DomainCompleted: len(events) > 0,
		Events:          events,
	}, nil
}
