package srs

import (
	"cmp"
	"slices"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// GetDueCards returns the cards due on or before now's calendar day,
// ordered by due date (oldest first). Cards due later never appear.
func (e *Engine) GetDueCards(cards []ReviewCard, now time.Time) []ReviewCard {
	due := make([]ReviewCard, 0, len(cards))
	for _, c := range cards {
		if c.IsDue(now) {
			due = append(due, c)
		}
	}
	slices.SortStableFunc(due, func(a, b ReviewCard) int {
		return a.DueDate.Compare(b.DueDate)
	})
	return due
}

// Prioritized pairs a card with its urgency score.
type Prioritized struct {
	Card    ReviewCard
	Urgency float64
}

// Urgency scores a card as dueSoon × lowStability × domainRecency.
func (e *Engine) Urgency(card ReviewCard, primary topic.Domain, recent topic.Set, now time.Time) float64 {
	overdueDays := now.Sub(card.DueDate).Hours() / 24
	dueSoon := clamp(overdueDays/e.policy.DueSoonWindowDays, 0, 1)
	lowStability := 1 - card.Stability

	recency := e.policy.RecencyOther
	switch {
	case card.Domain == primary:
		recency = e.policy.RecencyPrimary
	case recent.Has(card.Domain):
		recency = e.policy.RecencyRecent
	}

	return dueSoon * lowStability * recency
}

// PrioritizeCards orders cards by descending urgency. Ties keep the oldest
// due date first, then card id. A positive limit truncates the result.
func (e *Engine) PrioritizeCards(cards []ReviewCard, primary topic.Domain, recent []topic.Domain, limit int, now time.Time) []Prioritized {
	recentSet := topic.NewSet(recent...)

	scored := make([]Prioritized, 0, len(cards))
	for _, c := range cards {
		scored = append(scored, Prioritized{Card: c, Urgency: e.Urgency(c, primary, recentSet, now)})
	}

	slices.SortStableFunc(scored, func(a, b Prioritized) int {
		if c := cmp.Compare(b.Urgency, a.Urgency); c != 0 {
			return c
		}
		if c := a.Card.DueDate.Compare(b.Card.DueDate); c != 0 {
			return c
		}
		return cmp.Compare(a.Card.ID, b.Card.ID)
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Cards strips the scores.
func Cards(ps []Prioritized) []ReviewCard {
	out := make([]ReviewCard, len(ps))
	for i, p := range ps {
		out[i] = p.Card
	}
	return out
}

// ExcludeLeeches drops cards flagged for remedial handling.
func ExcludeLeeches(cards []ReviewCard) []ReviewCard {
	return slices.DeleteFunc(slices.Clone(cards), func(c ReviewCard) bool { return c.IsLeech })
}

// ByDomain filters cards belonging to d.
func ByDomain(cards []ReviewCard, d topic.Domain) []ReviewCard {
	out := make([]ReviewCard, 0)
	for _, c := range cards {
		if c.Domain == d {
			out = append(out, c)
		}
	}
	return out
}
