// Package command contains write operations (CQRS - Commands).
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
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/retry"
	"github.com/himo777777/Ortokompanion-sub000/pkg/seed"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD SESSION COMMAND
// Applies the outcomes of one finished session: grades every answered item,
// schedules its card, updates the band and advances domain progression.
// ══════════════════════════════════════════════════════════════════════════════

// SessionItem is the telemetry of one answered item.
type SessionItem struct {
	ContentID        string
	Correct          bool
	HintsUsed        int
	TimeSpentSeconds int

	// ExpectedSeconds is the item's baseline time; zero uses the policy default.
	ExpectedSeconds int

	// Confidence in [0,1] as reported by the session runner. Inferred from
	// the other fields when nil.
	Confidence *float64
}

// RecordSessionCommand contains one finished session.
type RecordSessionCommand struct {
	LearnerID string
	Items     []SessionItem

	// CompletedAt defaults to now if zero.
	CompletedAt time.Time
}

// Validate validates the command.
func (c RecordSessionCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("record_session: learner_id is required")
	}
	if len(c.Items) == 0 {
		return errors.New("record_session: at least one item is required")
	}
	for i, it := range c.Items {
		switch {
		case it.ContentID == "":
			return fmt.Errorf("record_session: item %d: content_id is required", i)
		case it.HintsUsed < 0:
			return fmt.Errorf("record_session: item %d: hints_used must not be negative", i)
		case it.TimeSpentSeconds < 0 || it.ExpectedSeconds < 0:
			return fmt.Errorf("record_session: item %d: times must not be negative", i)
		case it.Confidence != nil && (*it.Confidence < 0 || *it.Confidence > 1):
			return fmt.Errorf("record_session: item %d: confidence must be within [0,1]", i)
		}
	}
	return nil
}

// ItemReview is the scheduling outcome of one item.
type ItemReview struct {
	ContentID    string
	CardID       string
	Domain       topic.Domain
	Grade        srs.Grade
	NewCard      bool
	IntervalDays int
	DueDate      time.Time
	Stability    float64
	BecameLeech  bool
}

// RecordSessionResult contains the result of recording a session.
type RecordSessionResult struct {
	LearnerID string
	Reviews   []ItemReview

	// Day is today's merged performance record.
	Day band.DayPerformance

	Band       band.Band
	Streak     int
	Adjustment *band.Adjustment

	GatedDomains     []topic.Domain
	CompletedDomains []topic.Domain

	Events     []shared.Event
	RecordedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordSessionHandler handles the RecordSessionCommand.
type RecordSessionHandler struct {
	Deps
	log     *logger.Logger
	retrier *retry.Retrier
}

// NewRecordSessionHandler creates a new RecordSessionHandler. Retention may be
// nil, in which case gated domains get no automatic retention check.
func NewRecordSessionHandler(deps Deps) *RecordSessionHandler {
	deps = deps.withDefaults()
	return &RecordSessionHandler{
		Deps:    deps,
		log:     deps.Logger.With(logger.Component("record_session")),
		retrier: retry.ConflictRetrier(core.IsStaleWrite),
	}
}

// Handle executes the record session command.
func (h *RecordSessionHandler) Handle(ctx context.Context, cmd RecordSessionCommand) (*RecordSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("session", "Record", shared.ErrValidation, "invalid command", err)
	}

	at := cmd.CompletedAt
	if at.IsZero() {
		at = h.Clock.Now()
	}

	l, err := h.Learners.GetByID(ctx, cmd.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("record_session: failed to get learner: %w", err)
	}
	local := l.LocalTime(at)

	release, err := h.lockLearner(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("record_session: %w", err)
	}
	defer release()

	start := time.Now()
	var result *RecordSessionResult
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.UnitOfWork.Do(ctx, func(ctx context.Context) error {
			var applyErr error
			result, applyErr = h.apply(ctx, l, cmd, local)
			return applyErr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("record_session: %w", err)
	}

	publishAll(h.Publisher, h.log, result.Events)

	h.log.Info("session recorded",
		logger.LearnerID(l.ID),
		logger.Int("items", len(cmd.Items)),
		logger.BandField(result.Band.String()),
		logger.Bool("band_changed", result.Adjustment != nil),
		logger.Latency(time.Since(start)),
	)
	return result, nil
}

func (h *RecordSessionHandler) apply(ctx context.Context, l *learner.Learner, cmd RecordSessionCommand, local time.Time) (*RecordSessionResult, error) {
	result := &RecordSessionResult{
		LearnerID:  l.ID,
		RecordedAt: local,
		Reviews:    make([]ItemReview, 0, len(cmd.Items)),
	}
	engine := h.Engines.SRS

	outcomes := make([]band.ItemOutcome, 0, len(cmd.Items))
	newItems := make(map[topic.Domain]int)
	touched := topic.NewSet()

	// 1. Grade and schedule every item.
	for _, it := range cmd.Items {
		card, created, err := h.cardFor(ctx, l.ID, it.ContentID, local)
		if err != nil {
			return nil, err
		}

		ratio := engine.TimeRatio(it.TimeSpentSeconds, it.ExpectedSeconds)
		confidence := srs.InferConfidence(it.Correct, it.HintsUsed, ratio)
		if it.Confidence != nil {
			confidence = *it.Confidence
		}
		grade := engine.BehaviorToGrade(srs.Behavior{
			Correct:    it.Correct,
			HintsUsed:  it.HintsUsed,
			TimeRatio:  ratio,
			Confidence: confidence,
		})

		updated, review := engine.ProcessReview(card, grade, it.TimeSpentSeconds, it.HintsUsed, local)
		if err := h.Cards.SaveCard(ctx, updated); err != nil {
			return nil, fmt.Errorf("failed to save card: %w", err)
		}
		if err := h.Cards.SaveResult(ctx, review); err != nil {
			return nil, fmt.Errorf("failed to save review result: %w", err)
		}

		if created {
			newItems[updated.Domain]++
			result.Events = append(result.Events,
				shared.NewCardCreatedEvent(l.ID, updated.ID, string(updated.Domain), updated.ContentID, local))
		}
		result.Events = append(result.Events, shared.NewCardReviewedEvent(
			l.ID, updated.ID, string(updated.Domain), int(grade), updated.IntervalDays, updated.DueDate, updated.Stability, local))
		if review.BecameLeech {
			result.Events = append(result.Events,
				shared.NewCardBecameLeechEvent(l.ID, updated.ID, string(updated.Domain), updated.FailCount, local))
		}

		touched[updated.Domain] = struct{}{}
		outcomes = append(outcomes, band.ItemOutcome{
			Correct:    it.Correct,
			HintsUsed:  it.HintsUsed,
			TimeRatio:  ratio,
			Confidence: confidence,
		})
		result.Reviews = append(result.Reviews, ItemReview{
			ContentID:    it.ContentID,
			CardID:       updated.ID,
			Domain:       updated.Domain,
			Grade:        grade,
			NewCard:      created,
			IntervalDays: updated.IntervalDays,
			DueDate:      updated.DueDate,
			Stability:    updated.Stability,
			BecameLeech:  review.BecameLeech,
		})
	}

	// 2. Band: day record, streak, rolling performance, adjustment.
	if err := h.updateBand(ctx, l.ID, outcomes, local, result); err != nil {
		return nil, err
	}

	// 3. Domain progression.
	if err := h.advanceDomains(ctx, l.ID, newItems, touched, local, result); err != nil {
		return nil, err
	}

	result.Events = append(result.Events, shared.NewSessionRecordedEvent(
		l.ID, len(cmd.Items), result.Day.CorrectRate, result.Day.Difficult, local))
	return result, nil
}

// cardFor returns the learner's card for a content item, creating it on the
// first completion.
func (h *RecordSessionHandler) cardFor(ctx context.Context, learnerID, contentID string, local time.Time) (srs.ReviewCard, bool, error) {
	card, err := h.Cards.FindByContent(ctx, learnerID, contentID)
	if err == nil {
		return card, false, nil
	}
	if !shared.IsNotFound(err) {
		return srs.ReviewCard{}, false, fmt.Errorf("failed to find card: %w", err)
	}

	item, err := h.Catalog.Item(ctx, contentID)
	if err != nil {
		return srs.ReviewCard{}, false, fmt.Errorf("failed to look up content %s: %w", contentID, err)
	}
	card, err = srs.NewCard(srs.NewCardParams{
		ID:        h.NewID(),
		LearnerID: learnerID,
		Domain:    item.Domain,
		ItemType:  item.ItemType,
		ContentID: item.ID,
	}, h.Engines.Policy.SRS, local)
	if err != nil {
		return srs.ReviewCard{}, false, err
	}
	return card, true, nil
}

func (h *RecordSessionHandler) updateBand(ctx context.Context, learnerID string, outcomes []band.ItemOutcome, local time.Time, result *RecordSessionResult) error {
	ctrl := h.Engines.Band

	status, err := h.Bands.Get(ctx, learnerID)
	if err != nil {
		return fmt.Errorf("failed to get band status: %w", err)
	}

	sample := ctrl.SummarizeDay(local, outcomes)
	existing, err := h.Bands.GetDay(ctx, learnerID, local)
	switch {
	case err == nil:
		result.Day = ctrl.MergeDay(existing, sample)
	case shared.IsNotFound(err):
		result.Day = sample
	default:
		return fmt.Errorf("failed to get day performance: %w", err)
	}
	if err := h.Bands.SaveDay(ctx, learnerID, result.Day); err != nil {
		return fmt.Errorf("failed to save day performance: %w", err)
	}

	status = ctrl.RecordDay(status, sample.Snapshot(), local)

	recent, err := h.Bands.RecentDays(ctx, learnerID, h.Engines.Policy.Band.DemotionWindowDays)
	if err != nil {
		return fmt.Errorf("failed to list recent days: %w", err)
	}

	if adj := ctrl.CalculateAdjustment(status, recent, local); adj != nil {
		status, err = ctrl.Apply(status, *adj)
		if err != nil {
			return err
		}
		result.Adjustment = adj
		result.Events = append(result.Events,
			shared.NewBandChangedEvent(learnerID, adj.From.String(), adj.To.String(), adj.Reason, local))
	}

	saved, err := h.Bands.Save(ctx, status)
	if err != nil {
		return fmt.Errorf("failed to save band status: %w", err)
	}
	result.Band = saved.CurrentBand
	result.Streak = saved.StreakAtBand
	return nil
}

func (h *RecordSessionHandler) advanceDomains(ctx context.Context, learnerID string, newItems map[topic.Domain]int, touched topic.Set, local time.Time, result *RecordSessionResult) error {
	gate := gateFor(h.Engines, h.Features, learnerID)

	book, err := loadDomainBook(ctx, h.Domains, learnerID)
	if err != nil {
		return err
	}

	for _, d := range topic.All() {
		n := newItems[d]
		if n == 0 {
			continue
		}
		s, ok := book.get(d)
		if !ok {
			continue
		}
		s = progression.RecordItems(s, n, local)
		book.put(s)

		if gated, entered := gate.EnterGateIfEligible(s, local); entered {
			book.put(gated)
			result.GatedDomains = append(result.GatedDomains, d)
			result.Events = append(result.Events,
				shared.NewDomainGatedEvent(learnerID, string(d), gated.CompletionRate(), local))
		}
	}

	cards, err := h.Cards.ListByLearner(ctx, learnerID)
	if err != nil {
		return fmt.Errorf("failed to list cards: %w", err)
	}

	for _, d := range result.GatedDomains {
		events, err := h.scheduleRetention(ctx, gate, learnerID, d, cards, local)
		if err != nil {
			return err
		}
		result.Events = append(result.Events, events...)
	}

	for _, d := range touched.Sorted() {
		events, err := settleDomain(gate, book, d, cards, learnerID, local)
		if err != nil {
			return err
		}
		for _, e := range events {
			result.CompletedDomains = append(result.CompletedDomains, d)
			result.Events = append(result.Events, e)
		}
	}

	return book.save(ctx, h.Domains)
}

// scheduleRetention opens a retention check for a newly gated domain unless
// one is already pending.
func (h *RecordSessionHandler) scheduleRetention(ctx context.Context, gate *progression.Gate, learnerID string, d topic.Domain, cards []srs.ReviewCard, local time.Time) ([]shared.Event, error) {
	if h.Retention == nil || len(srs.ByDomain(cards, d)) == 0 {
		return nil, nil
	}
	if _, ok, err := pendingCheck(ctx, h.Retention, learnerID, d); err != nil || ok {
		return nil, err
	}

	rng := seed.ForLearnerDay(learnerID, shared.DateKey(local), "retention:"+string(d))
	check, err := gate.CreateRetentionCheck(h.NewID(), learnerID, d, cards, rng, local)
	if err != nil {
		return nil, err
	}
	if err := h.Retention.Create(ctx, check); err != nil {
		return nil, fmt.Errorf("failed to create retention check: %w", err)
	}
	return []shared.Event{shared.NewRetentionCheckScheduledEvent(
		learnerID, check.ID, string(d), check.ScheduledFor, len(check.CardIDs), local)}, nil
}
