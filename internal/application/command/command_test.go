package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING
// ══════════════════════════════════════════════════════════════════════════════

func TestOnboardLearner(t *testing.T) {
	f := newFixture(t)
	res := f.onboard()

	assert.Equal(t, testLearnerID, res.Learner.ID)
	assert.Equal(t, band.B, res.StartingBand)
	assert.Equal(t, band.A, res.FirstSessionBand)
	assert.Equal(t, "Europe/Stockholm", res.Learner.CreatedAt.Location().String())

	status, err := f.store.Bands().Get(f.ctx, testLearnerID)
	require.NoError(t, err)
	assert.Equal(t, band.B, status.CurrentBand)
	assert.Equal(t, 1, status.Version)
	assert.Nil(t, status.LastSessionDate)

	domains, err := f.store.Domains().ListByLearner(f.ctx, testLearnerID)
	require.NoError(t, err)
	require.Len(t, domains, len(topic.All()))
	for _, d := range domains {
		if d.Domain == topic.Trauma {
			assert.Equal(t, progression.StateActive, d.State)
			assert.Equal(t, 4, d.TotalItems)
			continue
		}
		assert.Equal(t, progression.StateLocked, d.State, d.Domain)
	}

	assert.Equal(t, []shared.EventType{shared.EventLearnerOnboarded}, f.events.types())
}

func TestOnboardLearner_DayOneSofteningOff(t *testing.T) {
	f := newFixture(t)
	f.deps.Features = featureOff("band.day_one_softening")

	res := f.onboard()
	assert.Equal(t, band.B, res.FirstSessionBand)
}

func TestOnboardLearner_Rejects(t *testing.T) {
	f := newFixture(t)
	h := NewOnboardLearnerHandler(f.deps)

	_, err := h.Handle(f.ctx, OnboardLearnerCommand{LearnerID: testLearnerID, PrimaryDomain: topic.Hip})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(f.ctx, OnboardLearnerCommand{LearnerID: testLearnerID, EducationLevel: "surgeon", PrimaryDomain: topic.Hip})
	assert.True(t, shared.IsConfiguration(err))

	_, err = h.Handle(f.ctx, OnboardLearnerCommand{LearnerID: testLearnerID, EducationLevel: band.LevelIntern, PrimaryDomain: "elbow"})
	assert.ErrorIs(t, err, shared.ErrUnknownDomain)
}

func TestOnboardLearner_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	_, err := NewOnboardLearnerHandler(f.deps).Handle(f.ctx, OnboardLearnerCommand{
		LearnerID:      testLearnerID,
		EducationLevel: band.LevelStudent,
		PrimaryDomain:  topic.Hip,
	})
	assert.True(t, shared.IsAlreadyExists(err))

	status, err := f.store.Bands().Get(f.ctx, testLearnerID)
	require.NoError(t, err)
	assert.Equal(t, band.B, status.CurrentBand)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDING SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordSession_CreatesAndSchedulesCards(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	res := f.record(fastCorrect("trauma-1", "trauma-2")...)

	require.Len(t, res.Reviews, 2)
	for _, r := range res.Reviews {
		assert.True(t, r.NewCard)
		assert.Equal(t, srs.GradePerfect, r.Grade)
		assert.Equal(t, 1, r.IntervalDays)
		assert.Equal(t, topic.Trauma, r.Domain)
		assert.InDelta(t, 0.65, r.Stability, 1e-9)
	}

	local := res.RecordedAt
	assert.Equal(t, "Europe/Stockholm", local.Location().String())
	assert.True(t, res.Reviews[0].DueDate.Equal(local.AddDate(0, 0, 1)))

	assert.Equal(t, 2, res.Day.Items)
	assert.InDelta(t, 1.0, res.Day.CorrectRate, 1e-9)
	assert.False(t, res.Day.Difficult)
	assert.Equal(t, band.B, res.Band)
	assert.Equal(t, 1, res.Streak)
	assert.Nil(t, res.Adjustment)

	assert.Len(t, f.store.Results(), 2)
	trauma, err := f.store.Domains().Get(f.ctx, testLearnerID, topic.Trauma)
	require.NoError(t, err)
	assert.Equal(t, 2, trauma.ItemsCompleted)
	assert.Equal(t, progression.StateActive, trauma.State)

	assert.Contains(t, f.events.types(), shared.EventCardCreated)
	assert.Contains(t, f.events.types(), shared.EventSessionRecorded)
}

func TestRecordSession_RepeatReviewUsesLadder(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	f.record(fastCorrect("trauma-1")...)

	f.advance(24 * time.Hour)
	res := f.record(fastCorrect("trauma-1")...)

	require.Len(t, res.Reviews, 1)
	assert.False(t, res.Reviews[0].NewCard)
	assert.Equal(t, 3, res.Reviews[0].IntervalDays)
	assert.Equal(t, 2, res.Streak)

	trauma, err := f.store.Domains().Get(f.ctx, testLearnerID, topic.Trauma)
	require.NoError(t, err)
	assert.Equal(t, 1, trauma.ItemsCompleted)
}

func TestRecordSession_SameDayMergesPerformance(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	f.record(fastCorrect("trauma-1")...)

	f.advance(time.Hour)
	res := f.record(SessionItem{ContentID: "trauma-2", Correct: false, HintsUsed: 2, TimeSpentSeconds: 200})

	assert.Equal(t, 2, res.Day.Items)
	assert.InDelta(t, 0.5, res.Day.CorrectRate, 1e-9)
	assert.Equal(t, 1, res.Streak)
	assert.Equal(t, srs.GradeBlackout, res.Reviews[0].Grade)
}

func TestRecordSession_ReportedConfidenceWins(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	high := 0.9
	res := f.record(SessionItem{ContentID: "trauma-1", Correct: false, TimeSpentSeconds: 100, Confidence: &high})
	assert.Equal(t, srs.GradeHard, res.Reviews[0].Grade)
}

func TestRecordSession_EntersGateAndSchedulesRetention(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	res := f.record(fastCorrect("trauma-1", "trauma-2", "trauma-3")...)

	assert.Equal(t, []topic.Domain{topic.Trauma}, res.GatedDomains)
	assert.Empty(t, res.CompletedDomains)

	trauma, err := f.store.Domains().Get(f.ctx, testLearnerID, topic.Trauma)
	require.NoError(t, err)
	assert.Equal(t, progression.StateGated, trauma.State)
	assert.True(t, trauma.Gate.SRSCardsStable)
	assert.False(t, trauma.Gate.AllPassed())

	pending, err := f.store.RetentionChecks().ListPending(f.ctx, testLearnerID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, topic.Trauma, pending[0].Domain)
	assert.Len(t, pending[0].CardIDs, 3)
	assert.True(t, pending[0].ScheduledFor.Equal(res.RecordedAt.AddDate(0, 0, 7)))

	types := f.events.types()
	assert.Contains(t, types, shared.EventDomainGated)
	assert.Contains(t, types, shared.EventRetentionCheckScheduled)

	// A second session does not schedule another check.
	f.advance(time.Hour)
	f.record(fastCorrect("trauma-4")...)
	pending, err = f.store.RetentionChecks().ListPending(f.ctx, testLearnerID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRecordSession_UnknownContent(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	_, err := NewRecordSessionHandler(f.deps).Handle(f.ctx, RecordSessionCommand{
		LearnerID: testLearnerID,
		Items:     fastCorrect("trauma-1", "nope"),
	})
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))

	// The whole session rolled back.
	cards, err := f.store.Cards().ListByLearner(f.ctx, testLearnerID)
	require.NoError(t, err)
	assert.Empty(t, cards)
	assert.Empty(t, f.store.Results())
}

func TestRecordSession_Validation(t *testing.T) {
	f := newFixture(t)
	h := NewRecordSessionHandler(f.deps)

	cases := map[string]RecordSessionCommand{
		"no learner":     {Items: fastCorrect("trauma-1")},
		"no items":       {LearnerID: testLearnerID},
		"no content":     {LearnerID: testLearnerID, Items: []SessionItem{{Correct: true}}},
		"negative hints": {LearnerID: testLearnerID, Items: []SessionItem{{ContentID: "x", HintsUsed: -1}}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.Handle(f.ctx, cmd)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestRecordSession_LockedLearner(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	release, err := f.store.SessionLock().Acquire(f.ctx, testLearnerID)
	require.NoError(t, err)

	_, err = NewRecordSessionHandler(f.deps).Handle(f.ctx, RecordSessionCommand{
		LearnerID: testLearnerID,
		Items:     fastCorrect("trauma-1"),
	})
	assert.True(t, shared.IsConflict(err))

	release()
	f.record(fastCorrect("trauma-1")...)
}

type flakyBands struct {
	band.Repository
	failures int
	saves    int
}

func (b *flakyBands) Save(ctx context.Context, s band.Status) (band.Status, error) {
	b.saves++
	if b.failures > 0 {
		b.failures--
		return s, shared.ErrOptimisticLock
	}
	return b.Repository.Save(ctx, s)
}

func TestRecordSession_RetriesStaleWrite(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	flaky := &flakyBands{Repository: f.store.Bands(), failures: 1}
	f.deps.Bands = flaky

	res := f.record(fastCorrect("trauma-1", "trauma-2")...)

	assert.Equal(t, 2, flaky.saves)
	assert.Len(t, res.Reviews, 2)
	cards, err := f.store.Cards().ListByLearner(f.ctx, testLearnerID)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Len(t, f.store.Results(), 2)
}

// ══════════════════════════════════════════════════════════════════════════════
// GATE COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

func TestDomainCompletion_FullGate(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	f.record(fastCorrect("trauma-1", "trauma-2", "trauma-3")...)

	gates := NewRecordGateEventHandler(f.deps)
	res, err := gates.Handle(f.ctx, RecordGateEventCommand{
		LearnerID: testLearnerID, Domain: topic.Trauma, Event: progression.EventComplicationCasePassed, Band: band.E,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mini_osce", "retention_check"}, res.Missing)
	assert.False(t, res.DomainCompleted)

	res, err = gates.Handle(f.ctx, RecordGateEventCommand{
		LearnerID: testLearnerID, Domain: topic.Trauma, Event: progression.EventMiniOSCEPassed,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"retention_check"}, res.Missing)

	pending, err := f.store.RetentionChecks().ListPending(f.ctx, testLearnerID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	checks := NewCompleteRetentionCheckHandler(f.deps)
	_, err = checks.Handle(f.ctx, CompleteRetentionCheckCommand{CheckID: pending[0].ID})
	assert.ErrorIs(t, err, shared.ErrNotYetDue)

	f.advance(7 * 24 * time.Hour)
	done, err := checks.Handle(f.ctx, CompleteRetentionCheckCommand{CheckID: pending[0].ID})
	require.NoError(t, err)
	assert.True(t, done.Passed)
	assert.True(t, done.DomainCompleted)
	assert.Equal(t, progression.StateCompleted, done.Domain.State)
	require.NotNil(t, done.Check.ObservedStability)
	assert.InDelta(t, 0.65, *done.Check.ObservedStability, 1e-9)

	next := done.Domain.NextSuggested
	require.NotEmpty(t, next)
	assert.NotEqual(t, topic.Trauma, next)
	nextStatus, err := f.store.Domains().Get(f.ctx, testLearnerID, next)
	require.NoError(t, err)
	assert.Equal(t, progression.StateActive, nextStatus.State)

	assert.Contains(t, f.events.types(), shared.EventDomainCompleted)

	_, err = checks.Handle(f.ctx, CompleteRetentionCheckCommand{CheckID: pending[0].ID})
	assert.ErrorIs(t, err, shared.ErrRetentionCheckDone)
}

func TestRecordGateEvent_MiniOSCERequiresGate(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	_, err := NewRecordGateEventHandler(f.deps).Handle(f.ctx, RecordGateEventCommand{
		LearnerID: testLearnerID, Domain: topic.Trauma, Event: progression.EventMiniOSCEPassed,
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRecordGateEvent_LockedDomain(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	_, err := NewRecordGateEventHandler(f.deps).Handle(f.ctx, RecordGateEventCommand{
		LearnerID: testLearnerID, Domain: topic.Hip, Event: progression.EventComplicationCasePassed, Band: band.E,
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRecordGateEvent_ComplicationCaseBelowHardestBand(t *testing.T) {
	f := newFixture(t)
	f.onboard()

	_, err := NewRecordGateEventHandler(f.deps).Handle(f.ctx, RecordGateEventCommand{
		LearnerID: testLearnerID, Domain: topic.Trauma, Event: progression.EventComplicationCasePassed, Band: band.B,
	})
	assert.True(t, shared.IsInvariantViolation(err))

	status, err := f.store.Domains().Get(f.ctx, testLearnerID, topic.Trauma)
	require.NoError(t, err)
	assert.False(t, status.Gate.ComplicationCasePassed)

	_, err = NewRecordGateEventHandler(f.deps).Handle(f.ctx, RecordGateEventCommand{
		LearnerID: testLearnerID, Domain: topic.Trauma, Event: progression.EventComplicationCasePassed, Band: band.Band(9),
	})
	assert.True(t, shared.IsValidation(err))
}

func TestScheduleRetentionCheck(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	f.record(fastCorrect("trauma-1", "trauma-2")...)

	h := NewScheduleRetentionCheckHandler(f.deps)
	check, err := h.Handle(f.ctx, ScheduleRetentionCheckCommand{LearnerID: testLearnerID, Domain: topic.Trauma})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id-001", "id-002"}, check.CardIDs)
	assert.InDelta(t, 0.6, check.RequiredStability, 1e-9)

	_, err = h.Handle(f.ctx, ScheduleRetentionCheckCommand{LearnerID: testLearnerID, Domain: topic.Hip})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestScheduleRetentionCheck_ReusesPendingCheck(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	f.record(fastCorrect("trauma-1", "trauma-2")...)

	h := NewScheduleRetentionCheckHandler(f.deps)
	first, err := h.Handle(f.ctx, ScheduleRetentionCheckCommand{LearnerID: testLearnerID, Domain: topic.Trauma})
	require.NoError(t, err)
	again, err := h.Handle(f.ctx, ScheduleRetentionCheckCommand{LearnerID: testLearnerID, Domain: topic.Trauma})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	pending, err := f.store.RetentionChecks().ListPending(f.ctx, testLearnerID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	scheduled := 0
	for _, et := range f.events.types() {
		if et == shared.EventRetentionCheckScheduled {
			scheduled++
		}
	}
	assert.Equal(t, 1, scheduled)
}

func TestScheduleRetentionCheck_LockedLearner(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	f.record(fastCorrect("trauma-1")...)

	release, err := f.store.SessionLock().Acquire(f.ctx, testLearnerID)
	require.NoError(t, err)
	defer release()

	_, err = NewScheduleRetentionCheckHandler(f.deps).Handle(f.ctx, ScheduleRetentionCheckCommand{LearnerID: testLearnerID, Domain: topic.Trauma})
	assert.True(t, shared.IsConflict(err))

	pending, err := f.store.RetentionChecks().ListPending(f.ctx, testLearnerID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCompleteRetentionCheck_FailureKeepsGateOpen(t *testing.T) {
	f := newFixture(t)
	f.onboard()
	f.record(fastCorrect("trauma-1", "trauma-2", "trauma-3")...)

	// Three blackouts drop stability below the requirement.
	f.advance(24 * time.Hour)
	f.record(
		SessionItem{ContentID: "trauma-1", HintsUsed: 2, TimeSpentSeconds: 60},
		SessionItem{ContentID: "trauma-2", HintsUsed: 2, TimeSpentSeconds: 60},
		SessionItem{ContentID: "trauma-3", HintsUsed: 2, TimeSpentSeconds: 60},
	)

	pending, err := f.store.RetentionChecks().ListPending(f.ctx, testLearnerID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.advance(7 * 24 * time.Hour)
	res, err := NewCompleteRetentionCheckHandler(f.deps).Handle(f.ctx, CompleteRetentionCheckCommand{CheckID: pending[0].ID})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.False(t, res.DomainCompleted)
	assert.Equal(t, progression.StateGated, res.Domain.State)
	assert.False(t, res.Domain.Gate.RetentionCheckPassed)
}
