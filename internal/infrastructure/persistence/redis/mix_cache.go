package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// MixCache implements dailymix.Cache. Mixes are stored as JSON under
// MixKey(learnerID, date).
type MixCache struct {
	store Store
}

var _ dailymix.Cache = (*MixCache)(nil)

// NewMixCache creates a mix cache over store.
func NewMixCache(store Store) *MixCache {
	return &MixCache{store: store}
}

// Get returns the cached mix or shared.ErrCacheMiss.
func (c *MixCache) Get(ctx context.Context, learnerID string, date time.Time) (dailymix.DailyMix, error) {
	data, err := c.store.Get(ctx, MixKey(learnerID, shared.DateKey(date)))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return dailymix.DailyMix{}, shared.ErrCacheMiss
		}
		return dailymix.DailyMix{}, fmt.Errorf("mix_cache: failed to get: %w", err)
	}

	var mix dailymix.DailyMix
	if err := json.Unmarshal(data, &mix); err != nil {
		return dailymix.DailyMix{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return mix, nil
}

// Set caches mix for ttl. A non-positive ttl is rejected: a mix that never
// expires would outlive its day.
func (c *MixCache) Set(ctx context.Context, mix dailymix.DailyMix, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrCacheInvalidTTL
	}
	data, err := json.Marshal(mix)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	if err := c.store.Set(ctx, MixKey(mix.LearnerID, shared.DateKey(mix.Date)), data, ttl); err != nil {
		return fmt.Errorf("mix_cache: failed to set: %w", err)
	}
	return nil
}

// Invalidate drops the cached mix for the calendar day of date.
func (c *MixCache) Invalidate(ctx context.Context, learnerID string, date time.Time) error {
	if err := c.store.Delete(ctx, MixKey(learnerID, shared.DateKey(date))); err != nil {
		return fmt.Errorf("mix_cache: failed to invalidate: %w", err)
	}
	return nil
}
