package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

var day = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func TestStore_RollbackUndoesTransactionWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Do(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Learners().Create(ctx, &learner.Learner{ID: "l-1"}))
		require.NoError(t, s.Mixes().Save(ctx, dailymix.DailyMix{LearnerID: "l-1", Date: day}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Learners().GetByID(ctx, "l-1")
	assert.ErrorIs(t, err, shared.ErrLearnerNotFound)
	_, err = s.Mixes().Get(ctx, "l-1", day)
	assert.ErrorIs(t, err, shared.ErrDailyMixNotFound)
}

func TestStore_RollbackKeepsWritesMadeOutside(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")
	saved := make(chan error, 1)

	err := s.Do(ctx, func(txCtx context.Context) error {
		require.NoError(t, s.Learners().Create(txCtx, &learner.Learner{ID: "l-1"}))
		go func() { saved <- s.Mixes().Save(ctx, dailymix.DailyMix{LearnerID: "l-2", Date: day}) }()

		select {
		case err := <-saved:
			t.Error("write outside the transaction did not wait for it")
			saved <- err
		case <-time.After(50 * time.Millisecond):
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, <-saved)

	_, err = s.Learners().GetByID(ctx, "l-1")
	assert.ErrorIs(t, err, shared.ErrLearnerNotFound)
	got, err := s.Mixes().Get(ctx, "l-2", day)
	require.NoError(t, err)
	assert.Equal(t, "l-2", got.LearnerID)
}

func TestStore_NestedDoJoinsOuter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Do(ctx, func(ctx context.Context) error {
		return s.Do(ctx, func(ctx context.Context) error {
			return s.Learners().Create(ctx, &learner.Learner{ID: "l-1"})
		})
	})
	require.NoError(t, err)

	_, err = s.Learners().GetByID(ctx, "l-1")
	assert.NoError(t, err)
}
