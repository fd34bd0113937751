package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/catalog"
	"github.com/himo777777/Ortokompanion-sub000/internal/infrastructure/persistence/memory"
)

const testLearnerID = "0b7a4c1e-3f3d-4c52-9d0e-8f4f3e7a9b21"

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	now    time.Time
	store  *memory.Store
	events *recorder
	deps   Deps
	ids    int
}

// testPolicy keeps the defaults but lets a domain pass its SRS criterion
// after three first reviews.
func testPolicy() policy.Policy {
	p := policy.Default()
	p.Gate.MinReviewedCards = 3
	p.Gate.StabilityFloor = 0.6
	p.Gate.RetentionMinStability = 0.6
	return p
}

func testCatalog(t *testing.T) *catalog.Catalog {
	var items []dailymix.ContentItem
	for i := 1; i <= 4; i++ {
		items = append(items, dailymix.ContentItem{ID: fmt.Sprintf("trauma-%d", i), Domain: topic.Trauma, Band: band.B, ItemType: srs.ItemQuiz})
	}
	for i := 1; i <= 2; i++ {
		items = append(items, dailymix.ContentItem{ID: fmt.Sprintf("hip-%d", i), Domain: topic.Hip, Band: band.B, ItemType: srs.ItemMicroCase})
	}
	c, err := catalog.New(items)
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	engines, err := core.NewEngines(testPolicy())
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		now:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		store:  memory.NewStore(),
		events: &recorder{},
	}
	f.deps = Deps{
		Learners:   f.store.Learners(),
		Cards:      f.store.Cards(),
		Bands:      f.store.Bands(),
		Domains:    f.store.Domains(),
		Retention:  f.store.RetentionChecks(),
		Catalog:    testCatalog(t),
		Lock:       f.store.SessionLock(),
		UnitOfWork: f.store,
		Engines:    engines,
		Publisher:  f.events,
		Clock:      shared.ClockFunc(func() time.Time { return f.now }),
		NewID: func() string {
			f.ids++
			return fmt.Sprintf("id-%03d", f.ids)
		},
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) onboard() *OnboardLearnerResult {
	f.t.Helper()
	res, err := NewOnboardLearnerHandler(f.deps).Handle(f.ctx, OnboardLearnerCommand{
		LearnerID:      testLearnerID,
		EducationLevel: band.LevelIntern,
		PrimaryDomain:  topic.Trauma,
		Timezone:       "Europe/Stockholm",
	})
	require.NoError(f.t, err)
	return res
}

func featureOff(name string) core.Features {
	return core.FeaturesFunc(func(feature, _ string) bool { return feature != name })
}

// fastCorrect answers in half the expected time without hints.
func fastCorrect(ids ...string) []SessionItem {
	out := make([]SessionItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, SessionItem{ContentID: id, Correct: true, TimeSpentSeconds: 60})
	}
	return out
}

func (f *fixture) record(items ...SessionItem) *RecordSessionResult {
	f.t.Helper()
	res, err := NewRecordSessionHandler(f.deps).Handle(f.ctx, RecordSessionCommand{
		LearnerID: testLearnerID,
		Items:     items,
	})
	require.NoError(f.t, err)
	return res
}
