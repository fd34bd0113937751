package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_IsKind(t *testing.T) {
	err := fmt.Errorf("load: %w", ErrUnknownBand)

	assert.True(t, IsConfiguration(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "band.ParseBand")

	wrapped := WrapError("progression", "Complete", ErrInvariantViolation, "gate not met", errors.New("retention"))
	assert.True(t, IsInvariantViolation(wrapped))
	assert.Equal(t, "progression.Complete: gate not met: retention", wrapped.Error())
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(NewDomainError("band", "Save", ErrOptimisticLock, "stale")))
	assert.True(t, IsConflict(ErrRetentionCheckNotDue))
	assert.False(t, IsConflict(ErrCardNotFound))
	assert.False(t, IsConflict(ErrGateNotMet))
}

func TestDomainError_MatchesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError("progression", "Save", ErrConcurrentModification, "status write lost", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Equal(t, ErrNotFound, errors.Unwrap(ErrCardNotFound))
	assert.True(t, IsValidation(ErrInvalidLearnerID))
}

func TestNewLearnerID(t *testing.T) {
	id, err := NewLearnerID(" 6F1C2A8E-0B4D-4C1A-9E55-3C2B1A0D9F77 ")
	require.NoError(t, err)
	assert.Equal(t, LearnerID("6f1c2a8e-0b4d-4c1a-9e55-3c2b1a0d9f77"), id)

	_, err = NewLearnerID("nope")
	assert.True(t, IsValidation(err))
}

func TestCalendarHelpers(t *testing.T) {
	stockholm, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)

	late := time.Date(2026, 3, 28, 23, 30, 0, 0, stockholm)
	next := time.Date(2026, 3, 29, 0, 10, 0, 0, stockholm)

	assert.False(t, IsSameDay(late, next))
	assert.True(t, IsSameDay(late, late.Add(20*time.Minute)))
	assert.Equal(t, 1, DaysBetween(late, next))
	// DST starts on 2026-03-29 in Stockholm.
	assert.Equal(t, 2, DaysBetween(late, time.Date(2026, 3, 30, 9, 0, 0, 0, stockholm)))
	assert.Equal(t, -1, DaysBetween(next, late))
	assert.Equal(t, "2026-03-28", DateKey(late))
}

func TestPagination(t *testing.T) {
	p := NewPagination(3, 500)
	assert.Equal(t, MaxPageSize, p.Limit())
	assert.Equal(t, 200, p.Offset())
}
