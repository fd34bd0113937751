package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// memStore is an in-process Store. TTLs are recorded, never enforced.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return s.err
}

func (s *memStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = []byte(value)
	s.ttls[key] = ttl
	return true, nil
}

func (s *memStore) DeleteIfEquals(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if string(s.data[key]) != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func TestMixCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := NewMixCache(store)

	loc, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)

	_, err = cache.Get(ctx, "l-1", day)
	assert.ErrorIs(t, err, shared.ErrCacheMiss)

	mix := dailymix.DailyMix{
		LearnerID:  "l-1",
		Date:       day,
		TargetBand: band.C,
		NewContent: dailymix.Slice{Domain: topic.Trauma, ItemIDs: []string{"t-1", "t-2"}, EstimatedMinutes: 6},
		Review:     dailymix.ReviewSlice{CardIDs: []string{"c-1"}, EstimatedMinutes: 2},
	}
	require.NoError(t, cache.Set(ctx, mix, 10*time.Hour))
	assert.Equal(t, 10*time.Hour, store.ttls["mix:l-1:2026-03-02"])

	// Any instant of the same calendar day hits the entry.
	got, err := cache.Get(ctx, "l-1", day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, band.C, got.TargetBand)
	assert.Equal(t, []string{"t-1", "t-2"}, got.NewContent.ItemIDs)
	assert.True(t, got.Date.Equal(day))

	require.NoError(t, cache.Invalidate(ctx, "l-1", day))
	_, err = cache.Get(ctx, "l-1", day)
	assert.ErrorIs(t, err, shared.ErrCacheMiss)

	assert.ErrorIs(t, cache.Set(ctx, mix, 0), ErrCacheInvalidTTL)
}

func TestMixCache_BackendError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")

	_, err := NewMixCache(store).Get(context.Background(), "l-1", time.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrCacheMiss))
}

func TestSessionLock(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	lock := NewSessionLock(store, DefaultLockConfig(), nil)

	release, err := lock.Acquire(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, TTLSessionLock, store.ttls["lock:learner:l-1"])

	_, err = lock.Acquire(ctx, "l-1")
	assert.True(t, shared.IsConflict(err))

	other, err := lock.Acquire(ctx, "l-2")
	require.NoError(t, err)
	other()

	release()
	release, err = lock.Acquire(ctx, "l-1")
	require.NoError(t, err)
	release()
}

func TestSessionLock_ReleaseKeepsForeignToken(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	lock := NewSessionLock(store, DefaultLockConfig(), nil)

	release, err := lock.Acquire(ctx, "l-1")
	require.NoError(t, err)

	// The lock expired and someone else took it.
	store.data["lock:learner:l-1"] = []byte("someone-else")
	release()
	assert.Equal(t, "someone-else", string(store.data["lock:learner:l-1"]))
}

func TestSessionLock_WaitsForHolder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	lock := NewSessionLock(store, LockConfig{Attempts: 20, RetryDelay: 5 * time.Millisecond}, nil)

	release, err := lock.Acquire(ctx, "l-1")
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	second, err := lock.Acquire(ctx, "l-1")
	require.NoError(t, err)
	second()
}

func TestSessionLock_BackendErrorIsNotRetried(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	lock := NewSessionLock(store, LockConfig{Attempts: 5, RetryDelay: time.Second}, nil)

	start := time.Now()
	_, err := lock.Acquire(context.Background(), "l-1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestConfigOptions(t *testing.T) {
	opts, err := DefaultConfig().Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	cfg := DefaultConfig()
	cfg.URL = "redis://:secret@cache.internal:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}
