package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Band, domain progression with the gate breakdown, and card health.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery contains the parameters of the progress query.
type GetProgressQuery struct {
	LearnerID string

	// IncludeLocked also lists domains that are not unlocked yet.
	IncludeLocked bool
}

// Validate validates the query.
func (q *GetProgressQuery) Validate() error {
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	return nil
}

// BandDTO is the learner's band state.
type BandDTO struct {
	Current         band.Band        `json:"current"`
	Label           string           `json:"label"`
	StreakAtBand    int              `json:"streak_at_band"`
	Performance     band.Performance `json:"performance"`
	LastSessionDate *time.Time       `json:"last_session_date,omitempty"`
	LastPromotion   *time.Time       `json:"last_promotion,omitempty"`
	LastDemotion    *time.Time       `json:"last_demotion,omitempty"`
	Changes         int              `json:"changes"`
}

// DomainProgressDTO is one domain's progression.
type DomainProgressDTO struct {
	Domain         topic.Domain             `json:"domain"`
	Label          string                   `json:"label"`
	State          progression.State        `json:"state"`
	ItemsCompleted int                      `json:"items_completed"`
	TotalItems     int                      `json:"total_items"`
	CompletionRate float64                  `json:"completion_rate"`
	Gate           progression.GateProgress `json:"gate"`
	Missing        []string                 `json:"missing,omitempty"`
	Stability      progression.Stability    `json:"stability"`
	NextSuggested  topic.Domain             `json:"next_suggested,omitempty"`
	PendingCheck   *time.Time               `json:"pending_retention_check,omitempty"`
}

// ProgressDTO is the result of the progress query.
type ProgressDTO struct {
	LearnerID     string              `json:"learner_id"`
	PrimaryDomain topic.Domain        `json:"primary_domain"`
	Band          BandDTO             `json:"band"`
	Domains       []DomainProgressDTO `json:"domains"`
	TotalCards    int                 `json:"total_cards"`
	Leeches       int                 `json:"leeches"`
	DueToday      int                 `json:"due_today"`
	AsOf          time.Time           `json:"as_of"`
}

// GetProgressHandler handles the GetProgressQuery.
type GetProgressHandler struct {
	Deps
	log *logger.Logger
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(deps Deps) *GetProgressHandler {
	deps = deps.withDefaults()
	return &GetProgressHandler{Deps: deps, log: deps.Logger.With(logger.Component("get_progress"))}
}

// Handle executes the query.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("progression", "GetProgress", shared.ErrValidation, "invalid query", err)
	}

	l, err := h.Learners.GetByID(ctx, q.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: failed to get learner: %w", err)
	}
	now := l.LocalTime(h.Clock.Now())

	status, err := h.Bands.Get(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: failed to get band status: %w", err)
	}
	statuses, err := h.Domains.ListByLearner(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: failed to list domain statuses: %w", err)
	}
	cards, err := h.Cards.ListByLearner(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: failed to list cards: %w", err)
	}
	leeches, err := h.Cards.CountLeeches(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: failed to count leeches: %w", err)
	}

	pending := make(map[topic.Domain]time.Time)
	if h.Retention != nil {
		checks, err := h.Retention.ListPending(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("get_progress: failed to list retention checks: %w", err)
		}
		for _, c := range checks {
			if at, ok := pending[c.Domain]; !ok || c.ScheduledFor.Before(at) {
				pending[c.Domain] = c.ScheduledFor
			}
		}
	}

	gate := h.Engines.GateFor(h.Features.Enabled(core.FeatureRecallDomains, l.ID))
	out := &ProgressDTO{
		LearnerID:     l.ID,
		PrimaryDomain: l.PrimaryDomain,
		Band: BandDTO{
			Current:         status.CurrentBand,
			Label:           status.CurrentBand.Definition().Label,
			StreakAtBand:    status.StreakAtBand,
			Performance:     status.Performance,
			LastSessionDate: status.LastSessionDate,
			LastPromotion:   status.LastPromotion,
			LastDemotion:    status.LastDemotion,
			Changes:         max(len(status.History)-1, 0),
		},
		Domains:    make([]DomainProgressDTO, 0, len(statuses)),
		TotalCards: len(cards),
		Leeches:    leeches,
		DueToday:   len(h.Engines.SRS.GetDueCards(srs.ExcludeLeeches(cards), now)),
		AsOf:       now,
	}

	for _, s := range statuses {
		if s.State == progression.StateLocked && !q.IncludeLocked {
			continue
		}
		gp := s.Gate
		if s.State == progression.StateGated {
			gp = gate.Evaluate(s, cards)
		}
		d := DomainProgressDTO{
			Domain:         s.Domain,
			Label:          s.Domain.Label(),
			State:          s.State,
			ItemsCompleted: s.ItemsCompleted,
			TotalItems:     s.TotalItems,
			CompletionRate: s.CompletionRate(),
			Gate:           gp,
			Stability:      gate.SRSStability(s.Domain, cards),
			NextSuggested:  s.NextSuggested,
		}
		if s.State != progression.StateCompleted {
			d.Missing = gp.Missing()
		}
		if at, ok := pending[s.Domain]; ok {
			d.PendingCheck = &at
		}
		out.Domains = append(out.Domains, d)
	}
	return out, nil
}
