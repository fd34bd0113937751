package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/seed"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DAILY MIX QUERY
// Returns the learner's session plan for one calendar day. A plan is composed
// once per day and then served from the redis cache or the mix table.
// ══════════════════════════════════════════════════════════════════════════════

// recentDomainsWindow is how far back review history counts as "recent".
const recentDomainsWindow = 3 * 24 * time.Hour

// minCacheTTL keeps a plan cached briefly even when requested seconds before midnight.
const minCacheTTL = time.Minute

// Source tells where a plan came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceStore    Source = "store"
	SourceComposed Source = "composed"
)

// GetDailyMixQuery contains the parameters of the daily mix query.
type GetDailyMixQuery struct {
	LearnerID string

	// Date is a YYYY-MM-DD day in the learner's timezone; empty means today.
	Date string

	// Refresh recomposes the plan even when one is stored.
	Refresh bool
}

// Validate validates the query.
func (q *GetDailyMixQuery) Validate() error {
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	return nil
}

// DailyMixResult is the plan together with how it was obtained.
type DailyMixResult struct {
	Mix    dailymix.DailyMix `json:"mix"`
	Source Source            `json:"source"`

	// FirstSession is set when the learner has no recorded session yet and
	// the plan was softened by one band.
	FirstSession bool `json:"first_session"`
}

// GetDailyMixHandler handles the GetDailyMixQuery.
type GetDailyMixHandler struct {
	Deps
	log *logger.Logger
}

// NewGetDailyMixHandler creates a new GetDailyMixHandler.
func NewGetDailyMixHandler(deps Deps) *GetDailyMixHandler {
	deps = deps.withDefaults()
	return &GetDailyMixHandler{Deps: deps, log: deps.Logger.With(logger.Component("get_daily_mix"))}
}

// Handle executes the query.
func (h *GetDailyMixHandler) Handle(ctx context.Context, q GetDailyMixQuery) (*DailyMixResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("dailymix", "Get", shared.ErrValidation, "invalid query", err)
	}

	l, err := h.Learners.GetByID(ctx, q.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("get_daily_mix: failed to get learner: %w", err)
	}
	now := l.LocalTime(h.Clock.Now())

	at := now
	if q.Date != "" {
		day, err := timeutil.ParseDate(q.Date, l.Location())
		if err != nil {
			return nil, shared.WrapError("dailymix", "Get", shared.ErrInvalidInput, "invalid date", err)
		}
		if !shared.IsSameDay(day, now) {
			at = day
		}
	}

	if !q.Refresh {
		if mix, ok := h.fromCache(ctx, l.ID, at); ok {
			return &DailyMixResult{Mix: mix, Source: SourceCache}, nil
		}
		if mix, ok, err := h.fromStore(ctx, l.ID, at); err != nil {
			return nil, err
		} else if ok {
			h.toCache(ctx, mix, now)
			return &DailyMixResult{Mix: mix, Source: SourceStore}, nil
		}
	}

	start := time.Now()
	mix, firstSession, err := h.Compose(ctx, l, at)
	if err != nil {
		return nil, fmt.Errorf("get_daily_mix: %w", err)
	}
	mix.GeneratedAt = now

	if h.Mixes != nil {
		if err := h.Mixes.Save(ctx, mix); err != nil {
			return nil, fmt.Errorf("get_daily_mix: failed to store mix: %w", err)
		}
	}
	h.toCache(ctx, mix, now)

	event := shared.NewDailyMixPreparedEvent(l.ID, shared.DateKey(mix.Date), mix.TargetBand.String(), mix.TotalMinutes, mix.RecoveryDay, now)
	if err := h.Publisher.Publish(event); err != nil {
		h.log.Warn("failed to publish event", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}

	h.log.Debug("daily mix composed",
		logger.LearnerID(l.ID),
		logger.String("date", shared.DateKey(mix.Date)),
		logger.BandField(mix.TargetBand.String()),
		logger.Int("items", mix.ItemCount()),
		logger.Bool("recovery_day", mix.RecoveryDay),
		logger.Latency(time.Since(start)),
	)
	return &DailyMixResult{Mix: mix, Source: SourceComposed, FirstSession: firstSession}, nil
}

// Compose builds the plan for the learner-local day of at without touching
// the cache or the store. The boolean reports day-one softening.
func (h *GetDailyMixHandler) Compose(ctx context.Context, l *learner.Learner, at time.Time) (dailymix.DailyMix, bool, error) {
	ctrl := h.Engines.Band
	day := timeutil.StartOfDay(at)

	status, err := h.Bands.Get(ctx, l.ID)
	if err != nil {
		return dailymix.DailyMix{}, false, fmt.Errorf("failed to get band status: %w", err)
	}

	target := status.CurrentBand
	firstSession := status.LastSessionDate == nil && h.Features.Enabled(core.FeatureDayOneSoftening, l.ID)
	if firstSession {
		target = ctrl.DayOneBand(target)
	}

	recovery, previousDifficult, err := h.dayContext(ctx, l.ID, day)
	if err != nil {
		return dailymix.DailyMix{}, false, err
	}
	if !h.Features.Enabled(core.FeatureRecoveryDay, l.ID) {
		recovery = false
	}

	cards, err := h.Cards.ListByLearner(ctx, l.ID)
	if err != nil {
		return dailymix.DailyMix{}, false, fmt.Errorf("failed to list cards: %w", err)
	}
	seen := make(map[string]struct{}, len(cards))
	for _, c := range cards {
		seen[c.ContentID] = struct{}{}
	}

	statuses, err := h.Domains.ListByLearner(ctx, l.ID)
	if err != nil {
		return dailymix.DailyMix{}, false, fmt.Errorf("failed to list domain statuses: %w", err)
	}

	// Locked domains are never a primary focus, but the neighbours of the
	// focus domain are interleaved whatever their state.
	primary := focusDomain(l.PrimaryDomain, statuses)
	wanted := topic.NewSet(primary.Neighbors()...)
	var completed []topic.Domain
	for _, s := range statuses {
		switch s.State {
		case progression.StateLocked:
			continue
		case progression.StateCompleted:
			completed = append(completed, s.Domain)
		}
		wanted[s.Domain] = struct{}{}
	}

	available := make(map[topic.Domain][]dailymix.ContentItem, len(wanted))
	for _, d := range wanted.Sorted() {
		items, err := h.Catalog.ItemsByDomain(ctx, d)
		if err != nil {
			return dailymix.DailyMix{}, false, fmt.Errorf("failed to load content for %s: %w", d, err)
		}
		if unseen := dailymix.Unseen(items, seen); len(unseen) > 0 {
			available[d] = unseen
		}
	}

	recent, err := h.Cards.RecentDomains(ctx, l.ID, at.Add(-recentDomainsWindow))
	if err != nil {
		return dailymix.DailyMix{}, false, fmt.Errorf("failed to list recent domains: %w", err)
	}

	req := dailymix.Request{
		LearnerID:            l.ID,
		Now:                  at,
		PrimaryDomain:        primary,
		TargetBand:           target,
		Cards:                cards,
		AvailableNewContent:  available,
		CompletedDomains:     completed,
		RecentDomains:        recent,
		IsRecoveryDay:        recovery,
		PreviousDayDifficult: previousDifficult,
		DisableInterleaving:  !h.Features.Enabled(core.FeatureInterleaving, l.ID),
		TargetMinutes:        l.TargetMinutes,
	}
	rng := seed.ForLearnerDay(l.ID, shared.DateKey(day), "mix")
	return h.Engines.Composer.Compose(req, rng), firstSession, nil
}

// dayContext looks at the recorded days before day: two difficult ones in a
// row make it a recovery day; a difficult yesterday asks for a follow-up.
func (h *GetDailyMixHandler) dayContext(ctx context.Context, learnerID string, day time.Time) (recovery, previousDifficult bool, err error) {
	recent, err := h.Bands.RecentDays(ctx, learnerID, h.Engines.Policy.Band.DemotionWindowDays+1)
	if err != nil {
		return false, false, fmt.Errorf("failed to list recent days: %w", err)
	}

	prior := make([]band.DayPerformance, 0, len(recent))
	for _, d := range recent {
		if d.Date.Before(day) {
			prior = append(prior, d)
		}
	}
	if len(prior) == 0 {
		return false, false, nil
	}

	last := prior[len(prior)-1]
	previousDifficult = last.Difficult && shared.DaysBetween(last.Date.In(day.Location()), day) == 1
	return h.Engines.Band.HasTwoDifficultDaysInRow(prior), previousDifficult, nil
}

// focusDomain is the primary domain while it is open, otherwise the first
// open domain in catalogue order.
func focusDomain(primary topic.Domain, statuses []progression.Status) topic.Domain {
	for _, s := range statuses {
		if s.Domain == primary && s.IsOpen() {
			return primary
		}
	}
	for _, s := range statuses {
		if s.IsOpen() {
			return s.Domain
		}
	}
	return primary
}

func (h *GetDailyMixHandler) fromCache(ctx context.Context, learnerID string, day time.Time) (dailymix.DailyMix, bool) {
	if h.Cache == nil {
		return dailymix.DailyMix{}, false
	}
	var mix dailymix.DailyMix
	err := h.guard(ctx, func(ctx context.Context) error {
		var err error
		mix, err = h.Cache.Get(ctx, learnerID, day)
		return err
	})
	switch {
	case err == nil:
		return mix, true
	case shared.IsNotFound(err):
		return dailymix.DailyMix{}, false
	default:
		h.log.Warn("daily mix cache read failed", logger.LearnerID(learnerID), logger.Err(err))
		return dailymix.DailyMix{}, false
	}
}

func (h *GetDailyMixHandler) fromStore(ctx context.Context, learnerID string, day time.Time) (dailymix.DailyMix, bool, error) {
	if h.Mixes == nil {
		return dailymix.DailyMix{}, false, nil
	}
	mix, err := h.Mixes.Get(ctx, learnerID, day)
	switch {
	case err == nil:
		return mix, true, nil
	case shared.IsNotFound(err):
		return dailymix.DailyMix{}, false, nil
	default:
		return dailymix.DailyMix{}, false, fmt.Errorf("get_daily_mix: failed to read stored mix: %w", err)
	}
}

// toCache stores mix until the end of its day. Failures only cost a recompute.
func (h *GetDailyMixHandler) toCache(ctx context.Context, mix dailymix.DailyMix, now time.Time) {
	if h.Cache == nil {
		return
	}
	ttl := max(timeutil.EndOfDay(mix.Date).Sub(now), minCacheTTL)
	err := h.guard(ctx, func(ctx context.Context) error {
		return h.Cache.Set(ctx, mix, ttl)
	})
	if err != nil {
		h.log.Warn("daily mix cache write failed", logger.LearnerID(mix.LearnerID), logger.Err(err))
	}
}

func (h *GetDailyMixHandler) guard(ctx context.Context, fn func(context.Context) error) error {
	if h.Breaker == nil {
		return fn(ctx)
	}
	return h.Breaker.Execute(ctx, fn)
}
