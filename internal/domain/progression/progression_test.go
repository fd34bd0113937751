package progression

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newGate() *Gate {
	return NewGate(policy.Default().Gate)
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func reviewedCards(d topic.Domain, n int, stability float64) []srs.ReviewCard {
	cards := make([]srs.ReviewCard, n)
	for i := range cards {
		at := t0.Add(-time.Duration(i) * time.Hour)
		cards[i] = srs.ReviewCard{
			ID:           fmt.Sprintf("%s-%02d", d, i),
			Domain:       d,
			Stability:    stability,
			LastReviewed: &at,
		}
	}
	return cards
}

func gatedStatus(gp GateProgress) Status {
	return Status{LearnerID: "l-1", Domain: topic.Knee, State: StateGated, TotalItems: 10, ItemsCompleted: 8, Gate: gp}
}

func TestInitialStatuses_OnlyPrimaryActive(t *testing.T) {
	statuses, err := InitialStatuses("l-1", topic.Spine, map[topic.Domain]int{topic.Spine: 40}, t0)
	require.NoError(t, err)
	require.Len(t, statuses, len(topic.All()))

	for _, s := range statuses {
		if s.Domain == topic.Spine {
			assert.Equal(t, StateActive, s.State)
			assert.Equal(t, 40, s.TotalItems)
			require.NotNil(t, s.UnlockedAt)
		} else {
			assert.Equal(t, StateLocked, s.State, s.Domain)
			assert.Nil(t, s.UnlockedAt)
		}
	}

	_, err = InitialStatuses("l-1", "dermatology", nil, t0)
	assert.Error(t, err)
}

func TestRecordGateEvent_ComplicationCaseNeedsHardestBand(t *testing.T) {
	s := Status{Domain: topic.Knee, State: StateActive, TotalItems: 10}

	for _, b := range []band.Band{band.A, band.B, band.C, band.D} {
		got, err := RecordGateEvent(s, EventComplicationCasePassed, b, t0)
		assert.True(t, shared.IsInvariantViolation(err), b.String())
		assert.False(t, got.Gate.ComplicationCasePassed, b.String())
	}

	got, err := RecordGateEvent(s, EventComplicationCasePassed, band.E, t0)
	require.NoError(t, err)
	assert.True(t, got.Gate.ComplicationCasePassed)
	assert.Equal(t, t0, got.UpdatedAt)
}

func TestStateTransitions(t *testing.T) {
	g := newGate()
	s := Status{Domain: topic.Hip, State: StateLocked, TotalItems: 10}

	_, err := RecordGateEvent(s, EventComplicationCasePassed, band.E, t0)
	assert.Error(t, err)

	s, err = Unlock(s, t0)
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State)
	_, err = Unlock(s, t0)
	assert.ErrorIs(t, err, shared.ErrStateTransition)

	s = RecordItems(s, 6, t0)
	_, entered := g.EnterGateIfEligible(s, t0)
	assert.False(t, entered)

	_, err = RecordGateEvent(s, EventMiniOSCEPassed, band.E, t0)
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	s = RecordItems(s, 1, t0)
	s, entered = g.EnterGateIfEligible(s, t0)
	assert.True(t, entered)
	assert.Equal(t, StateGated, s.State)

	s = RecordItems(s, 50, t0)
	assert.Equal(t, 10, s.ItemsCompleted)
	assert.InDelta(t, 1.0, s.CompletionRate(), 1e-9)

	s, err = RecordGateEvent(s, EventMiniOSCEPassed, band.B, t0)
	require.NoError(t, err)
	s, err = RecordGateEvent(s, EventComplicationCasePassed, band.E, t0)
	require.NoError(t, err)
	assert.True(t, s.Gate.MiniOSCEPassed)
	assert.True(t, s.Gate.ComplicationCasePassed)

	_, err = RecordGateEvent(s, "bribe", band.E, t0)
	assert.True(t, shared.IsValidation(err))
}

func TestIsRequirementMet_AllSixteenCombinations(t *testing.T) {
	g := newGate()
	stable := reviewedCards(topic.Knee, 10, 0.8)
	unstable := reviewedCards(topic.Knee, 10, 0.5)

	for mask := 0; mask < 16; mask++ {
		osce := mask&1 != 0
		retention := mask&2 != 0
		srsStable := mask&4 != 0
		complication := mask&8 != 0

		s := gatedStatus(GateProgress{
			MiniOSCEPassed:         osce,
			RetentionCheckPassed:   retention,
			ComplicationCasePassed: complication,
		})
		cards := unstable
		if srsStable {
			cards = stable
		}

		want := osce && retention && srsStable && complication
		assert.Equal(t, want, g.IsRequirementMet(s, cards), "mask=%04b", mask)
	}
}

func TestIsRequirementMet_IgnoresStoredStabilityFlag(t *testing.T) {
	g := newGate()
	s := gatedStatus(GateProgress{true, true, true, true})
	assert.False(t, g.IsRequirementMet(s, nil))
}

func TestSRSStability_UsesMostRecentTen(t *testing.T) {
	g := newGate()
	recent := reviewedCards(topic.Knee, 10, 0.9)
	old := reviewedCards(topic.Knee, 5, 0.1)
	for i := range old {
		at := t0.AddDate(0, -1, 0)
		old[i].ID = fmt.Sprintf("old-%d", i)
		old[i].LastReviewed = &at
	}
	unreviewed := srs.ReviewCard{ID: "new", Domain: topic.Knee, Stability: 0.1}
	other := reviewedCards(topic.Hip, 10, 0.1)

	cards := append(append(append(old, recent...), unreviewed), other...)
	st := g.SRSStability(topic.Knee, cards)

	assert.Equal(t, 10, st.Sampled)
	assert.InDelta(t, 0.9, st.Average, 1e-9)
	assert.True(t, st.Stable)
}

func TestSRSStability_FloorIsInclusive(t *testing.T) {
	g := newGate()
	assert.True(t, g.SRSStability(topic.Knee, reviewedCards(topic.Knee, 10, 0.75)).Stable)
	assert.False(t, g.SRSStability(topic.Knee, reviewedCards(topic.Knee, 10, 0.65)).Stable)
}

func TestDomainWithTooFewReviewedCardsCannotComplete(t *testing.T) {
	g := newGate()
	s := gatedStatus(GateProgress{
		MiniOSCEPassed:         true,
		RetentionCheckPassed:   true,
		ComplicationCasePassed: true,
	})
	cards := reviewedCards(topic.Knee, 9, 1.0)

	gp := g.Evaluate(s, cards)
	assert.False(t, gp.SRSCardsStable)
	assert.False(t, g.IsRequirementMet(s, cards))

	s.Gate = gp
	_, err := g.CompleteDomain(s, topic.All(), nil, seeded(1), t0)
	assert.True(t, shared.IsInvariantViolation(err))
	assert.ErrorIs(t, err, shared.ErrGateNotMet)
	assert.Equal(t, []string{"srs_stability"}, gp.Missing())
}

func TestCompleteDomain(t *testing.T) {
	g := newGate()
	s := gatedStatus(GateProgress{true, true, true, true})

	done, err := g.CompleteDomain(s, topic.All(), []topic.Domain{topic.Hip}, seeded(7), t0)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.NextSuggested.IsValid())
	assert.NotEqual(t, topic.Knee, done.NextSuggested)

	_, err = g.CompleteDomain(done, topic.All(), nil, seeded(7), t0)
	assert.ErrorIs(t, err, shared.ErrStateTransition)

	active := s
	active.State = StateActive
	_, err = g.CompleteDomain(active, topic.All(), nil, seeded(7), t0)
	assert.ErrorIs(t, err, shared.ErrStateTransition)
}

func TestCompleteDomain_LastDomainHasNoSuggestion(t *testing.T) {
	g := newGate()
	s := gatedStatus(GateProgress{true, true, true, true})
	var others []topic.Domain
	for _, d := range topic.All() {
		if d != topic.Knee {
			others = append(others, d)
		}
	}

	done, err := g.CompleteDomain(s, topic.All(), others, seeded(3), t0)
	require.NoError(t, err)
	assert.Empty(t, done.NextSuggested)
}

func TestSelectNextDomain_Distribution(t *testing.T) {
	g := newGate()
	rng := seeded(42)
	completed := topic.NewSet(topic.Knee, topic.Tumor)
	// Knee neighbours: hip, sports, foot-ankle.
	neighbors := topic.NewSet(topic.Hip, topic.Sports, topic.FootAnkle)

	counts := map[string]int{}
	const draws = 20000
	for range draws {
		d, ok := g.SelectNextDomain(topic.Knee, completed, topic.All(), rng)
		require.True(t, ok)
		switch {
		case neighbors.Has(d):
			counts["neighbor"]++
		case completed.Has(d):
			counts["recall"]++
			assert.Equal(t, topic.Tumor, d)
		default:
			counts["unvisited"]++
		}
	}

	assert.InDelta(t, 0.7, float64(counts["neighbor"])/draws, 0.02)
	assert.InDelta(t, 0.2, float64(counts["unvisited"])/draws, 0.02)
	assert.InDelta(t, 0.1, float64(counts["recall"])/draws, 0.02)
}

func TestSelectNextDomain_EmptyPoolsRenormalize(t *testing.T) {
	g := newGate()
	all := []topic.Domain{topic.HandWrist, topic.ShoulderElbow, topic.Trauma}

	// Every neighbour of hand-wrist is completed: only recall remains.
	d, ok := g.SelectNextDomain(topic.HandWrist, topic.NewSet(topic.ShoulderElbow, topic.Trauma), all, seeded(5))
	require.True(t, ok)
	assert.Contains(t, []topic.Domain{topic.ShoulderElbow, topic.Trauma}, d)

	_, ok = g.SelectNextDomain(topic.HandWrist, topic.NewSet(all...), all, seeded(5))
	assert.False(t, ok)
}

func TestSelectNextDomain_Deterministic(t *testing.T) {
	g := newGate()
	a, _ := g.SelectNextDomain(topic.Trauma, topic.NewSet(), topic.All(), seeded(11))
	b, _ := g.SelectNextDomain(topic.Trauma, topic.NewSet(), topic.All(), seeded(11))
	assert.Equal(t, a, b)
}

func TestRetentionCheck_Lifecycle(t *testing.T) {
	g := newGate()
	cards := append(reviewedCards(topic.Knee, 14, 0.8), reviewedCards(topic.Hip, 5, 0.2)...)

	check, err := g.CreateRetentionCheck("rc-1", "l-1", topic.Knee, cards, seeded(9), t0)
	require.NoError(t, err)
	assert.Len(t, check.CardIDs, 10)
	assert.Equal(t, t0.AddDate(0, 0, 7), check.ScheduledFor)
	assert.InDelta(t, 0.7, check.RequiredStability, 1e-9)
	for _, id := range check.CardIDs {
		assert.Contains(t, id, "knee-")
	}

	_, err = g.CompleteRetentionCheck(check, cards, t0.AddDate(0, 0, 6))
	assert.ErrorIs(t, err, shared.ErrRetentionCheckNotDue)

	done, err := g.CompleteRetentionCheck(check, cards, t0.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.NotNil(t, done.ObservedStability)
	assert.InDelta(t, 0.8, *done.ObservedStability, 1e-9)
	assert.True(t, done.Passed())
	assert.False(t, check.IsCompleted())

	_, err = g.CompleteRetentionCheck(done, cards, t0.AddDate(0, 0, 8))
	assert.ErrorIs(t, err, shared.ErrRetentionCheckDone)

	status := ApplyRetentionResult(gatedStatus(GateProgress{}), done, t0)
	assert.True(t, status.Gate.RetentionCheckPassed)
}

func TestRetentionCheck_SmallDomainAndFailure(t *testing.T) {
	g := newGate()
	cards := reviewedCards(topic.Tumor, 3, 0.4)

	check, err := g.CreateRetentionCheck("rc-2", "l-1", topic.Tumor, cards, seeded(1), t0)
	require.NoError(t, err)
	assert.Len(t, check.CardIDs, 3)

	done, err := g.CompleteRetentionCheck(check, cards, t0.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, done.Passed())
	assert.False(t, ApplyRetentionResult(gatedStatus(GateProgress{}), done, t0).Gate.RetentionCheckPassed)

	_, err = g.CreateRetentionCheck("rc-3", "l-1", topic.Spine, cards, seeded(1), t0)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRetentionCheck_SampleIndependentOfInputOrder(t *testing.T) {
	g := newGate()
	cards := reviewedCards(topic.Knee, 20, 0.8)
	reversed := make([]srs.ReviewCard, len(cards))
	for i := range cards {
		reversed[len(cards)-1-i] = cards[i]
	}

	a, err := g.CreateRetentionCheck("a", "l", topic.Knee, cards, seeded(4), t0)
	require.NoError(t, err)
	b, err := g.CreateRetentionCheck("b", "l", topic.Knee, reversed, seeded(4), t0)
	require.NoError(t, err)
	assert.Equal(t, a.CardIDs, b.CardIDs)
}
