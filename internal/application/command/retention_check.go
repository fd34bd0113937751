package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/retry"
	"github.com/himo777777/Ortokompanion-sub000/pkg/seed"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE RETENTION CHECK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleRetentionCheckCommand asks for a retention check on one domain.
type ScheduleRetentionCheckCommand struct {
	LearnerID string
	Domain    topic.Domain
}

// Validate validates the command.
func (c ScheduleRetentionCheckCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("schedule_retention_check: learner_id is required")
	}
	if !c.Domain.IsValid() {
		return fmt.Errorf("schedule_retention_check: unknown domain %q", c.Domain)
	}
	return nil
}

// ScheduleRetentionCheckHandler handles the ScheduleRetentionCheckCommand.
type ScheduleRetentionCheckHandler struct {
	Deps
	log *logger.Logger
}

// NewScheduleRetentionCheckHandler creates a new ScheduleRetentionCheckHandler.
func NewScheduleRetentionCheckHandler(deps Deps) *ScheduleRetentionCheckHandler {
	deps = deps.withDefaults()
	return &ScheduleRetentionCheckHandler{Deps: deps, log: deps.Logger.With(logger.Component("schedule_retention_check"))}
}

// Handle samples the domain's cards and stores the check. A check already
// pending for the domain is returned as is.
func (h *ScheduleRetentionCheckHandler) Handle(ctx context.Context, cmd ScheduleRetentionCheckCommand) (*progression.RetentionCheck, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("progression", "ScheduleRetentionCheck", shared.ErrValidation, "invalid command", err)
	}

	l, err := h.Learners.GetByID(ctx, cmd.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("schedule_retention_check: failed to get learner: %w", err)
	}
	local := l.LocalTime(h.Clock.Now())

	release, err := h.lockLearner(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("schedule_retention_check: %w", err)
	}
	defer release()

	var (
		check   progression.RetentionCheck
		created bool
	)
	err = h.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		var applyErr error
		check, created, applyErr = h.apply(ctx, l.ID, cmd.Domain, local)
		return applyErr
	})
	if err != nil {
		return nil, fmt.Errorf("schedule_retention_check: %w", err)
	}
	if !created {
		h.log.Debug("retention check already pending",
			logger.LearnerID(l.ID), logger.DomainID(string(cmd.Domain)), logger.String("check_id", check.ID))
		return &check, nil
	}

	publishAll(h.Publisher, h.log, []shared.Event{shared.NewRetentionCheckScheduledEvent(
		l.ID, check.ID, string(check.Domain), check.ScheduledFor, len(check.CardIDs), local)})

	h.log.Info("retention check scheduled",
		logger.LearnerID(l.ID),
		logger.DomainID(string(cmd.Domain)),
		logger.String("check_id", check.ID),
		logger.Time("scheduled_for", check.ScheduledFor),
	)
	return &check, nil
}

func (h *ScheduleRetentionCheckHandler) apply(ctx context.Context, learnerID string, d topic.Domain, local time.Time) (progression.RetentionCheck, bool, error) {
	status, err := h.Domains.Get(ctx, learnerID, d)
	if err != nil {
		return progression.RetentionCheck{}, false, fmt.Errorf("failed to get domain status: %w", err)
	}
	if !status.IsOpen() {
		return progression.RetentionCheck{}, false, shared.NewDomainError("progression", "ScheduleRetentionCheck", shared.ErrInvalidState,
			fmt.Sprintf("domain %s is %s", d, status.State))
	}

	if pending, ok, err := pendingCheck(ctx, h.Retention, learnerID, d); err != nil || ok {
		return pending, false, err
	}

	cards, err := h.Cards.ListByLearner(ctx, learnerID)
	if err != nil {
		return progression.RetentionCheck{}, false, fmt.Errorf("failed to list cards: %w", err)
	}
	rng := seed.ForLearnerDay(learnerID, shared.DateKey(local), "retention:"+string(d))
	check, err := h.Engines.Gate.CreateRetentionCheck(h.NewID(), learnerID, d, cards, rng, local)
	if err != nil {
		return progression.RetentionCheck{}, false, err
	}
	if err := h.Retention.Create(ctx, check); err != nil {
		return progression.RetentionCheck{}, false, fmt.Errorf("failed to store check: %w", err)
	}
	return check, true, nil
}

// pendingCheck finds the learner's uncompleted check on d. A learner has at
// most one per domain.
func pendingCheck(ctx context.Context, repo progression.RetentionRepository, learnerID string, d topic.Domain) (progression.RetentionCheck, bool, error) {
	pending, err := repo.ListPending(ctx, learnerID)
	if err != nil {
		return progression.RetentionCheck{}, false, fmt.Errorf("failed to list pending retention checks: %w", err)
	}
	for _, c := range pending {
		if c.Domain == d {
			return c, true, nil
		}
	}
	return progression.RetentionCheck{}, false, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE RETENTION CHECK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CompleteRetentionCheckCommand evaluates a due check.
type CompleteRetentionCheckCommand struct {
	CheckID string
}

// CompleteRetentionCheckResult contains the evaluated check.
type CompleteRetentionCheckResult struct {
	Check           progression.RetentionCheck
	Passed          bool
	Domain          progression.Status
	DomainCompleted bool
	Events          []shared.Event
}

// CompleteRetentionCheckHandler handles the CompleteRetentionCheckCommand.
type CompleteRetentionCheckHandler struct {
	Deps
	log     *logger.Logger
	retrier *retry.Retrier
}

// NewCompleteRetentionCheckHandler creates a new CompleteRetentionCheckHandler.
func NewCompleteRetentionCheckHandler(deps Deps) *CompleteRetentionCheckHandler {
	deps = deps.withDefaults()
	return &CompleteRetentionCheckHandler{
		Deps:    deps,
		log:     deps.Logger.With(logger.Component("complete_retention_check")),
		retrier: retry.ConflictRetrier(core.IsStaleWrite),
	}
}

// Handle observes the sampled cards' stability and records the outcome on the
// domain's gate. A gated domain whose criteria now all hold is completed.
func (h *CompleteRetentionCheckHandler) Handle(ctx context.Context, cmd CompleteRetentionCheckCommand) (*CompleteRetentionCheckResult, error) {
	if cmd.CheckID == "" {
		return nil, shared.NewDomainError("progression", "CompleteRetentionCheck", shared.ErrValidation, "check_id is required")
	}

	check, err := h.Retention.Get(ctx, cmd.CheckID)
	if err != nil {
		return nil, fmt.Errorf("complete_retention_check: failed to get check: %w", err)
	}
	l, err := h.Learners.GetByID(ctx, check.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("complete_retention_check: failed to get learner: %w", err)
	}
	local := l.LocalTime(h.Clock.Now())

	release, err := h.lockLearner(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("complete_retention_check: %w", err)
	}
	defer release()

	var result *CompleteRetentionCheckResult
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.UnitOfWork.Do(ctx, func(ctx context.Context) error {
			var applyErr error
			result, applyErr = h.apply(ctx, check.ID, local)
			return applyErr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("complete_retention_check: %w", err)
	}

	publishAll(h.Publisher, h.log, result.Events)
	h.log.Info("retention check completed",
		logger.LearnerID(l.ID),
		logger.DomainID(string(result.Check.Domain)),
		logger.Float64("observed_stability", *result.Check.ObservedStability),
		logger.Bool("passed", result.Passed),
	)
	return result, nil
}

func (h *CompleteRetentionCheckHandler) apply(ctx context.Context, checkID string, local time.Time) (*CompleteRetentionCheckResult, error) {
	check, err := h.Retention.Get(ctx, checkID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload check: %w", err)
	}

	sampled, err := h.Cards.ListByIDs(ctx, check.CardIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load sampled cards: %w", err)
	}
	done, err := h.Engines.Gate.CompleteRetentionCheck(check, sampled, local)
	if err != nil {
		return nil, err
	}
	if err := h.Retention.Save(ctx, done); err != nil {
		return nil, fmt.Errorf("failed to save check: %w", err)
	}

	result := &CompleteRetentionCheckResult{Check: done, Passed: done.Passed()}
	result.Events = append(result.Events, shared.NewRetentionCheckCompletedEvent(
		done.LearnerID, done.ID, string(done.Domain), *done.ObservedStability, done.Passed(), local))

	book, err := loadDomainBook(ctx, h.Domains, done.LearnerID)
	if err != nil {
		return nil, err
	}
	status, ok := book.get(done.Domain)
	if !ok {
		return nil, shared.ErrDomainStatusNotFound
	}
	if updated := progression.ApplyRetentionResult(status, done, local); updated != status {
		book.put(updated)
	}

	if done.Passed() {
		cards, err := h.Cards.ListByLearner(ctx, done.LearnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to list cards: %w", err)
		}
		events, err := settleDomain(gateFor(h.Engines, h.Features, done.LearnerID), book, done.Domain, cards, done.LearnerID, local)
		if err != nil {
			return nil, err
		}
		result.DomainCompleted = len(events) > 0
		result.Events = append(result.Events, events...)
	}

	if err := book.save(ctx, h.Domains); err != nil {
		return nil, err
	}
	result.Domain, _ = book.get(done.Domain)
	return result, nil
}
