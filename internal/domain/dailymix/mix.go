// Package dailymix composes a learner's time-boxed daily session from new
// content, interleaved practice from a neighbouring domain, and due reviews.
package dailymix

import (
	"context"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ContentItem is an addressable piece of content offered by the catalogue.
type ContentItem struct {
	ID       string       `json:"id" yaml:"id"`
	Domain   topic.Domain `json:"domain" yaml:"domain"`
	Band     band.Band    `json:"band" yaml:"band"`
	ItemType srs.ItemType `json:"item_type" yaml:"type"`
}

// Slice is a block of content from one domain.
type Slice struct {
	Domain           topic.Domain `json:"domain"`
	ItemIDs          []string     `json:"item_ids"`
	EstimatedMinutes int          `json:"estimated_minutes"`
}

// ReviewSlice is the block of due SRS reviews.
type ReviewSlice struct {
	CardIDs          []string `json:"card_ids"`
	EstimatedMinutes int      `json:"estimated_minutes"`
}

// DailyMix is one day's session plan. It is derived state: recomputed each
// day and only stored as a cache of the decision.
type DailyMix struct {
	LearnerID    string       `json:"learner_id"`
	Date         time.Time    `json:"date"`
	TargetBand   band.Band    `json:"target_band"`
	NewContent   Slice        `json:"new_content"`
	Interleaving *Slice       `json:"interleaving,omitempty"`
	Review       ReviewSlice  `json:"review"`
	TotalMinutes int          `json:"total_minutes"`

	RecoveryDay       bool   `json:"recovery_day"`
	ExtraHints        bool   `json:"extra_hints"`
	Encouragement     string `json:"encouragement,omitempty"`
	DifficultFollowUp bool   `json:"difficult_follow_up"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ItemCount is the number of items in the plan.
func (m DailyMix) ItemCount() int {
	n := len(m.NewContent.ItemIDs) + len(m.Review.CardIDs)
	if m.Interleaving != nil {
		n += len(m.Interleaving.ItemIDs)
	}
	return n
}

// Unseen drops items the learner already has cards for. Order is kept.
func Unseen(items []ContentItem, seen map[string]struct{}) []ContentItem {
	out := make([]ContentItem, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}

// Catalog supplies addressable content. Items come back in catalogue order.
type Catalog interface {
	ItemsByDomain(ctx context.Context, domain topic.Domain) ([]ContentItem, error)
	Item(ctx context.Context, id string) (ContentItem, error)

	// Totals returns the number of items per domain.
	Totals(ctx context.Context) (map[topic.Domain]int, error)
}

// Cache stores composed mixes until the end of the learner's day.
type Cache interface {
	Get(ctx context.Context, learnerID string, date time.Time) (DailyMix, error)
	Set(ctx context.Context, mix DailyMix, ttl time.Duration) error
	Invalidate(ctx context.Context, learnerID string, date time.Time) error
}

// Repository keeps a durable copy of composed mixes.
type Repository interface {
	Save(ctx context.Context, mix DailyMix) error
	Get(ctx context.Context, learnerID string, date time.Time) (DailyMix, error)
	Delete(ctx context.Context, learnerID string, date time.Time) error
}
