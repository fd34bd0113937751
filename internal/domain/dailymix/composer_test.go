package dailymix

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

var t0 = time.Date(2026, 5, 10, 7, 30, 0, 0, time.UTC)

func newComposer() *Composer {
	p := policy.Default()
	return NewComposer(p.Mix, srs.NewEngine(p.SRS), band.NewController(p.Band))
}

func rng(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 1))
}

func content(d topic.Domain, bands ...band.Band) []ContentItem {
	out := make([]ContentItem, len(bands))
	for i, b := range bands {
		out[i] = ContentItem{ID: fmt.Sprintf("%s-%s-%d", d, b, i), Domain: d, Band: b, ItemType: srs.ItemQuiz}
	}
	return out
}

func dueCard(id string, d topic.Domain, overdueDays int, stability float64, leech bool) srs.ReviewCard {
	return srs.ReviewCard{
		ID:           id,
		Domain:       d,
		DueDate:      t0.AddDate(0, 0, -overdueDays),
		Stability:    stability,
		IntervalDays: 3,
		ReviewCount:  4,
		IsLeech:      leech,
	}
}

func baseRequest() Request {
	return Request{
		LearnerID:     "l-1",
		Now:           t0,
		PrimaryDomain: topic.Hip,
		TargetBand:    band.C,
		TargetMinutes: 20,
		AvailableNewContent: map[topic.Domain][]ContentItem{
			topic.Hip:  content(topic.Hip, band.A, band.D, band.C, band.B, band.C, band.E, band.B, band.C, band.D),
			topic.Knee: content(topic.Knee, band.C, band.C, band.C),
		},
		Cards: []srs.ReviewCard{
			dueCard("leech", topic.Hip, 10, 0.1, true),
			dueCard("hip-overdue", topic.Hip, 7, 0.2, false),
			dueCard("spine-overdue", topic.Spine, 14, 0.4, false),
			dueCard("knee-today", topic.Knee, 0, 0.5, false),
			dueCard("future", topic.Hip, -3, 0.1, false),
		},
		RecentDomains: []topic.Domain{topic.Knee},
	}
}

func TestCompose_SplitsBudget(t *testing.T) {
	mix := newComposer().Compose(baseRequest(), rng(1))

	assert.Equal(t, band.C, mix.TargetBand)
	assert.Equal(t, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), mix.Date)

	assert.Equal(t, topic.Hip, mix.NewContent.Domain)
	assert.Equal(t, []string{"hip-C-2", "hip-C-4", "hip-C-7", "hip-B-3", "hip-B-6", "hip-D-1"}, mix.NewContent.ItemIDs)
	assert.Equal(t, 12, mix.NewContent.EstimatedMinutes)

	require.NotNil(t, mix.Interleaving)
	assert.Equal(t, topic.Knee, mix.Interleaving.Domain)
	assert.Len(t, mix.Interleaving.ItemIDs, 2)
	assert.Equal(t, 4, mix.Interleaving.EstimatedMinutes)

	assert.Equal(t, []string{"hip-overdue", "spine-overdue"}, mix.Review.CardIDs)
	assert.Equal(t, 4, mix.Review.EstimatedMinutes)

	assert.Equal(t, 20, mix.TotalMinutes)
	assert.Equal(t, 10, mix.ItemCount())
	assert.False(t, mix.RecoveryDay)
	assert.False(t, mix.ExtraHints)
}

func TestCompose_ItemCountRoundsUp(t *testing.T) {
	req := baseRequest()
	req.TargetMinutes = 25
	req.AvailableNewContent[topic.Hip] = content(topic.Hip, band.C, band.C, band.C, band.C, band.C, band.C, band.C, band.C, band.C, band.C)
	req.AvailableNewContent[topic.Knee] = content(topic.Knee, band.C, band.C, band.C, band.C, band.C)

	mix := newComposer().Compose(req, rng(1))
	assert.Len(t, mix.NewContent.ItemIDs, 8)
	require.NotNil(t, mix.Interleaving)
	assert.Len(t, mix.Interleaving.ItemIDs, 3)
	assert.Len(t, mix.Review.CardIDs, 3)
	assert.Equal(t, 28, mix.TotalMinutes)
}

func TestCompose_ReviewSliceSkipsLeechesAndFutureCards(t *testing.T) {
	req := baseRequest()
	req.TargetMinutes = 100

	mix := newComposer().Compose(req, rng(1))
	assert.ElementsMatch(t, []string{"hip-overdue", "spine-overdue", "knee-today"}, mix.Review.CardIDs)
	assert.NotContains(t, mix.Review.CardIDs, "leech")
	assert.NotContains(t, mix.Review.CardIDs, "future")
}

func TestCompose_RecoveryDay(t *testing.T) {
	req := baseRequest()
	req.IsRecoveryDay = true

	mix := newComposer().Compose(req, rng(1))
	assert.True(t, mix.RecoveryDay)
	assert.True(t, mix.ExtraHints)
	assert.NotEmpty(t, mix.Encouragement)
	assert.Equal(t, band.B, mix.TargetBand)
	assert.Equal(t, "hip-B-3", mix.NewContent.ItemIDs[0])
	assert.False(t, mix.DifficultFollowUp)

	req.IsRecoveryDay = false
	req.PreviousDayDifficult = true
	assert.True(t, newComposer().Compose(req, rng(1)).DifficultFollowUp)
}

func TestCompose_InterleavingFallsBackToCompletedDomain(t *testing.T) {
	req := baseRequest()
	req.PrimaryDomain = topic.Tumor
	req.AvailableNewContent = map[topic.Domain][]ContentItem{
		topic.Tumor:     content(topic.Tumor, band.C, band.C),
		topic.HandWrist: content(topic.HandWrist, band.C, band.C),
	}
	req.CompletedDomains = []topic.Domain{topic.HandWrist}

	mix := newComposer().Compose(req, rng(3))
	require.NotNil(t, mix.Interleaving)
	assert.Equal(t, topic.HandWrist, mix.Interleaving.Domain)
	assert.Len(t, mix.NewContent.ItemIDs, 2)
}

func TestCompose_NoContentAnywhere(t *testing.T) {
	req := baseRequest()
	req.AvailableNewContent = nil
	req.Cards = nil

	mix := newComposer().Compose(req, rng(1))
	assert.Empty(t, mix.NewContent.ItemIDs)
	assert.NotNil(t, mix.NewContent.ItemIDs)
	assert.Nil(t, mix.Interleaving)
	assert.Empty(t, mix.Review.CardIDs)
	assert.Zero(t, mix.TotalMinutes)
}

func TestCompose_InterleavingDisabled(t *testing.T) {
	req := baseRequest()
	req.DisableInterleaving = true
	assert.Nil(t, newComposer().Compose(req, rng(1)).Interleaving)
}

func TestCompose_DefaultsAndDeterminism(t *testing.T) {
	req := baseRequest()
	req.TargetMinutes = 0
	req.AvailableNewContent[topic.Spine] = content(topic.Spine, band.C, band.D)
	req.AvailableNewContent[topic.Trauma] = content(topic.Trauma, band.B, band.B)

	a := newComposer().Compose(req, rng(99))
	b := newComposer().Compose(req, rng(99))
	assert.Equal(t, a, b)
	assert.Equal(t, 20, a.TotalMinutes)

	seen := map[topic.Domain]bool{}
	for seed := uint64(0); seed < 50; seed++ {
		m := newComposer().Compose(req, rng(seed))
		require.NotNil(t, m.Interleaving)
		seen[m.Interleaving.Domain] = true
	}
	assert.Len(t, seen, 3)
	for d := range seen {
		assert.Contains(t, topic.Hip.Neighbors(), d)
	}
}

func TestItemsFor(t *testing.T) {
	c := newComposer()
	assert.Equal(t, 0, c.ItemsFor(0))
	assert.Equal(t, 1, c.ItemsFor(1))
	assert.Equal(t, 6, c.ItemsFor(20*0.6))
	assert.Equal(t, 2, c.ItemsFor(20*0.2))
	assert.Equal(t, 3, c.ItemsFor(30*0.2))
}
