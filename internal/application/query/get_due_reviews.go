package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DUE REVIEWS QUERY
// Cards due today, most urgent first.
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultDueLimit = 20
	maxDueLimit     = 200
)

// GetDueReviewsQuery contains the parameters of the due reviews query.
type GetDueReviewsQuery struct {
	LearnerID string

	// Limit caps the result; defaults to 20, at most 200.
	Limit int

	// IncludeLeeches also returns cards flagged as leeches.
	IncludeLeeches bool
}

// Validate validates the query and applies defaults.
func (q *GetDueReviewsQuery) Validate() error {
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	if q.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = defaultDueLimit
	}
	q.Limit = min(q.Limit, maxDueLimit)
	return nil
}

// DueCardDTO is one due card.
type DueCardDTO struct {
	CardID       string       `json:"card_id"`
	ContentID    string       `json:"content_id"`
	Domain       topic.Domain `json:"domain"`
	ItemType     srs.ItemType `json:"item_type"`
	DueDate      time.Time    `json:"due_date"`
	DaysOverdue  int          `json:"days_overdue"`
	IntervalDays int          `json:"interval_days"`
	Stability    float64      `json:"stability"`
	Urgency      float64      `json:"urgency"`
	IsLeech      bool         `json:"is_leech"`
}

// DueReviewsDTO is the result of the due reviews query.
type DueReviewsDTO struct {
	LearnerID string       `json:"learner_id"`
	AsOf      time.Time    `json:"as_of"`
	TotalDue  int          `json:"total_due"`
	Cards     []DueCardDTO `json:"cards"`
}

// GetDueReviewsHandler handles the GetDueReviewsQuery.
type GetDueReviewsHandler struct {
	Deps
	log *logger.Logger
}

// NewGetDueReviewsHandler creates a new GetDueReviewsHandler.
func NewGetDueReviewsHandler(deps Deps) *GetDueReviewsHandler {
	deps = deps.withDefaults()
	return &GetDueReviewsHandler{Deps: deps, log: deps.Logger.With(logger.Component("get_due_reviews"))}
}

// Handle executes the query.
func (h *GetDueReviewsHandler) Handle(ctx context.Context, q GetDueReviewsQuery) (*DueReviewsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("srs", "GetDueReviews", shared.ErrValidation, "invalid query", err)
	}

	l, err := h.Learners.GetByID(ctx, q.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("get_due_reviews: failed to get learner: %w", err)
	}
	now := l.LocalTime(h.Clock.Now())

	cards, err := h.Cards.ListDue(ctx, l.ID, timeutil.StartOfNextDay(now))
	if err != nil {
		return nil, fmt.Errorf("get_due_reviews: failed to list due cards: %w", err)
	}
	if !q.IncludeLeeches {
		cards = srs.ExcludeLeeches(cards)
	}

	engine := h.Engines.SRS
	due := engine.GetDueCards(cards, now)

	recent, err := h.Cards.RecentDomains(ctx, l.ID, now.Add(-recentDomainsWindow))
	if err != nil {
		return nil, fmt.Errorf("get_due_reviews: failed to list recent domains: %w", err)
	}
	ranked := engine.PrioritizeCards(due, l.PrimaryDomain, recent, q.Limit, now)

	out := &DueReviewsDTO{
		LearnerID: l.ID,
		AsOf:      now,
		TotalDue:  len(due),
		Cards:     make([]DueCardDTO, 0, len(ranked)),
	}
	for _, p := range ranked {
		c := p.Card
		out.Cards = append(out.Cards, DueCardDTO{
			CardID:       c.ID,
			ContentID:    c.ContentID,
			Domain:       c.Domain,
			ItemType:     c.ItemType,
			DueDate:      c.DueDate,
			DaysOverdue:  max(shared.DaysBetween(c.DueDate.In(now.Location()), now), 0),
			IntervalDays: c.IntervalDays,
			Stability:    c.Stability,
			Urgency:      p.Urgency,
			IsLeech:      c.IsLeech,
		})
	}
	return out, nil
}
