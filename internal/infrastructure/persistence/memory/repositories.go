package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNERS
// ══════════════════════════════════════════════════════════════════════════════

// LearnerRepository implements learner.Repository.
type LearnerRepository struct{ s *Store }

var _ learner.Repository = (*LearnerRepository)(nil)

func (r *LearnerRepository) Create(ctx context.Context, l *learner.Learner) error {
	defer r.s.lockWrite(ctx)()
	if _, ok := r.s.data.learners[l.ID]; ok {
		return shared.ErrLearnerAlreadyExists
	}
	r.s.data.learners[l.ID] = cloneLearner(*l)
	return nil
}

func (r *LearnerRepository) GetByID(_ context.Context, id string) (*learner.Learner, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.data.learners[id]
	if !ok {
		return nil, shared.ErrLearnerNotFound
	}
	out := cloneLearner(l)
	return &out, nil
}

// List returns learners ordered by creation time, then ID.
func (r *LearnerRepository) List(_ context.Context, page shared.Pagination) ([]*learner.Learner, error) {
	r.s.mu.RLock()
	all := make([]learner.Learner, 0, len(r.s.data.learners))
	for _, l := range r.s.data.learners {
		all = append(all, cloneLearner(l))
	}
	r.s.mu.RUnlock()

	slices.SortFunc(all, func(a, b learner.Learner) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	from := min(page.Offset(), len(all))
	to := min(from+page.Limit(), len(all))
	out := make([]*learner.Learner, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, &all[i])
	}
	return out, nil
}

func cloneLearner(l learner.Learner) learner.Learner {
	l.SecondaryInterests = slices.Clone(l.SecondaryInterests)
	return l
}

// ══════════════════════════════════════════════════════════════════════════════
// CARDS
// ══════════════════════════════════════════════════════════════════════════════

// CardRepository implements srs.Repository.
type CardRepository struct{ s *Store }

var _ srs.Repository = (*CardRepository)(nil)

func (r *CardRepository) SaveCard(ctx context.Context, card srs.ReviewCard) error {
	defer r.s.lockWrite(ctx)()
	for id, c := range r.s.data.cards {
		if id != card.ID && c.LearnerID == card.LearnerID && c.ContentID == card.ContentID {
			return shared.NewDomainError("srs", "SaveCard", shared.ErrAlreadyExists, "card for content already exists")
		}
	}
	r.s.data.cards[card.ID] = card
	return nil
}

func (r *CardRepository) GetCard(_ context.Context, id string) (srs.ReviewCard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.data.cards[id]
	if !ok {
		return srs.ReviewCard{}, shared.ErrCardNotFound
	}
	return c, nil
}

func (r *CardRepository) FindByContent(_ context.Context, learnerID, contentID string) (srs.ReviewCard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.data.cards {
		if c.LearnerID == learnerID && c.ContentID == contentID {
			return c, nil
		}
	}
	return srs.ReviewCard{}, shared.ErrCardNotFound
}

func (r *CardRepository) ListByLearner(_ context.Context, learnerID string) ([]srs.ReviewCard, error) {
	return r.filter(func(c srs.ReviewCard) bool { return c.LearnerID == learnerID }), nil
}

func (r *CardRepository) ListByIDs(_ context.Context, ids []string) ([]srs.ReviewCard, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return r.filter(func(c srs.ReviewCard) bool {
		_, ok := want[c.ID]
		return ok
	}), nil
}

func (r *CardRepository) ListDue(_ context.Context, learnerID string, before time.Time) ([]srs.ReviewCard, error) {
	return r.filter(func(c srs.ReviewCard) bool {
		return c.LearnerID == learnerID && c.DueDate.Before(before)
	}), nil
}

func (r *CardRepository) SaveResult(ctx context.Context, result srs.ReviewResult) error {
	defer r.s.lockWrite(ctx)()
	r.s.data.results = append(r.s.data.results, result)
	return nil
}

func (r *CardRepository) RecentDomains(_ context.Context, learnerID string, since time.Time) ([]topic.Domain, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := topic.NewSet()
	var out []topic.Domain
	for i := len(r.s.data.results) - 1; i >= 0; i-- {
		res := r.s.data.results[i]
		if res.LearnerID != learnerID || res.ReviewedAt.Before(since) || seen.Has(res.Domain) {
			continue
		}
		seen[res.Domain] = struct{}{}
		out = append(out, res.Domain)
	}
	return out, nil
}

func (r *CardRepository) CountLeeches(_ context.Context, learnerID string) (int, error) {
	return len(r.filter(func(c srs.ReviewCard) bool { return c.LearnerID == learnerID && c.IsLeech })), nil
}

// filter returns matching cards ordered by ID.
func (r *CardRepository) filter(keep func(srs.ReviewCard) bool) []srs.ReviewCard {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]srs.ReviewCard, 0)
	for _, c := range r.s.data.cards {
		if keep(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b srs.ReviewCard) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// BAND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// BandRepository implements band.Repository.
type BandRepository struct{ s *Store }

var _ band.Repository = (*BandRepository)(nil)

func (r *BandRepository) Get(_ context.Context, learnerID string) (band.Status, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.data.bands[learnerID]
	if !ok {
		return band.Status{}, shared.ErrBandStatusNotFound
	}
	return st.Clone(), nil
}

func (r *BandRepository) Create(ctx context.Context, status band.Status) error {
	defer r.s.lockWrite(ctx)()
	if _, ok := r.s.data.bands[status.LearnerID]; ok {
		return shared.NewDomainError("band", "Create", shared.ErrAlreadyExists, "band status already exists")
	}
	status = status.Clone()
	status.Version = 1
	r.s.data.bands[status.LearnerID] = status
	return nil
}

func (r *BandRepository) Save(ctx context.Context, status band.Status) (band.Status, error) {
	defer r.s.lockWrite(ctx)()
	stored, ok := r.s.data.bands[status.LearnerID]
	if !ok {
		return status, shared.ErrBandStatusNotFound
	}
	if stored.Version != status.Version {
		return status, shared.ErrOptimisticLock
	}
	status = status.Clone()
	status.Version++
	r.s.data.bands[status.LearnerID] = status
	return status.Clone(), nil
}

func (r *BandRepository) SaveDay(ctx context.Context, learnerID string, day band.DayPerformance) error {
	defer r.s.lockWrite(ctx)()
	days, ok := r.s.data.days[learnerID]
	if !ok {
		days = make(map[string]band.DayPerformance)
		r.s.data.days[learnerID] = days
	}
	days[shared.DateKey(day.Date)] = day
	return nil
}

func (r *BandRepository) GetDay(_ context.Context, learnerID string, date time.Time) (band.DayPerformance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	day, ok := r.s.data.days[learnerID][shared.DateKey(date)]
	if !ok {
		return band.DayPerformance{}, shared.NewDomainError("band", "GetDay", shared.ErrNotFound, "no performance for day")
	}
	return day, nil
}

func (r *BandRepository) RecentDays(_ context.Context, learnerID string, limit int) ([]band.DayPerformance, error) {
	r.s.mu.RLock()
	days := make([]band.DayPerformance, 0, len(r.s.data.days[learnerID]))
	for _, d := range r.s.data.days[learnerID] {
		days = append(days, d)
	}
	r.s.mu.RUnlock()

	slices.SortFunc(days, func(a, b band.DayPerformance) int { return a.Date.Compare(b.Date) })
	if limit > 0 && len(days) > limit {
		days = days[len(days)-limit:]
	}
	return days, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN STATUS
// ══════════════════════════════════════════════════════════════════════════════

// DomainRepository implements progression.Repository.
type DomainRepository struct{ s *Store }

var _ progression.Repository = (*DomainRepository)(nil)

func (r *DomainRepository) CreateAll(ctx context.Context, statuses []progression.Status) error {
	defer r.s.lockWrite(ctx)()
	for _, st := range statuses {
		if _, ok := r.s.data.domains[st.LearnerID][st.Domain]; ok {
			return shared.NewDomainError("progression", "CreateAll", shared.ErrAlreadyExists, "domain status already exists")
		}
	}
	for _, st := range statuses {
		byDomain, ok := r.s.data.domains[st.LearnerID]
		if !ok {
			byDomain = make(map[topic.Domain]progression.Status)
			r.s.data.domains[st.LearnerID] = byDomain
		}
		st.Version = 1
		byDomain[st.Domain] = st
	}
	return nil
}

func (r *DomainRepository) Get(_ context.Context, learnerID string, domain topic.Domain) (progression.Status, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.data.domains[learnerID][domain]
	if !ok {
		return progression.Status{}, shared.ErrDomainStatusNotFound
	}
	return st, nil
}

func (r *DomainRepository) ListByLearner(_ context.Context, learnerID string) ([]progression.Status, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]progression.Status, 0, len(r.s.data.domains[learnerID]))
	for _, d := range topic.All() {
		if st, ok := r.s.data.domains[learnerID][d]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (r *DomainRepository) Save(ctx context.Context, status progression.Status) (progression.Status, error) {
	defer r.s.lockWrite(ctx)()
	stored, ok := r.s.data.domains[status.LearnerID][status.Domain]
	if !ok {
		return status, shared.ErrDomainStatusNotFound
	}
	if stored.Version != status.Version {
		return status, shared.ErrOptimisticLock
	}
	status.Version++
	r.s.data.domains[status.LearnerID][status.Domain] = status
	return status, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RETENTION CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// RetentionRepository implements progression.RetentionRepository.
type RetentionRepository struct{ s *Store }

var _ progression.RetentionRepository = (*RetentionRepository)(nil)

func (r *RetentionRepository) Create(ctx context.Context, check progression.RetentionCheck) error {
	defer r.s.lockWrite(ctx)()
	if _, ok := r.s.data.checks[check.ID]; ok {
		return shared.NewDomainError("progression", "CreateRetentionCheck", shared.ErrAlreadyExists, "retention check already exists")
	}
	check.CardIDs = slices.Clone(check.CardIDs)
	r.s.data.checks[check.ID] = check
	return nil
}

func (r *RetentionRepository) Get(_ context.Context, id string) (progression.RetentionCheck, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.data.checks[id]
	if !ok {
		return progression.RetentionCheck{}, shared.ErrRetentionCheckNotFound
	}
	return c, nil
}

func (r *RetentionRepository) Save(ctx context.Context, check progression.RetentionCheck) error {
	defer r.s.lockWrite(ctx)()
	if _, ok := r.s.data.checks[check.ID]; !ok {
		return shared.ErrRetentionCheckNotFound
	}
	r.s.data.checks[check.ID] = check
	return nil
}

func (r *RetentionRepository) ListPending(_ context.Context, learnerID string) ([]progression.RetentionCheck, error) {
	return r.filter(func(c progression.RetentionCheck) bool {
		return c.LearnerID == learnerID && !c.IsCompleted()
	}, 0), nil
}

func (r *RetentionRepository) ListDue(_ context.Context, before time.Time, limit int) ([]progression.RetentionCheck, error) {
	return r.filter(func(c progression.RetentionCheck) bool {
		return !c.IsCompleted() && !c.ScheduledFor.After(before)
	}, limit), nil
}

// filter returns matching checks ordered by schedule, then ID.
func (r *RetentionRepository) filter(keep func(progression.RetentionCheck) bool, limit int) []progression.RetentionCheck {
	r.s.mu.RLock()
	out := make([]progression.RetentionCheck, 0)
	for _, c := range r.s.data.checks {
		if keep(c) {
			out = append(out, c)
		}
	}
	r.s.mu.RUnlock()

	slices.SortFunc(out, func(a, b progression.RetentionCheck) int {
		if c := a.ScheduledFor.Compare(b.ScheduledFor); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY MIXES
// ══════════════════════════════════════════════════════════════════════════════

// MixRepository implements dailymix.Repository.
type MixRepository struct{ s *Store }

var _ dailymix.Repository = (*MixRepository)(nil)

func mixKey(learnerID string, date time.Time) string {
	return learnerID + "|" + shared.DateKey(date)
}

func (r *MixRepository) Save(ctx context.Context, mix dailymix.DailyMix) error {
	defer r.s.lockWrite(ctx)()
	r.s.data.mixes[mixKey(mix.LearnerID, mix.Date)] = mix
	return nil
}

func (r *MixRepository) Get(_ context.Context, learnerID string, date time.Time) (dailymix.DailyMix, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.data.mixes[mixKey(learnerID, date)]
	if !ok {
		return dailymix.DailyMix{}, shared.ErrDailyMixNotFound
	}
	return m, nil
}

func (r *MixRepository) Delete(ctx context.Context, learnerID string, date time.Time) error {
	defer r.s.lockWrite(ctx)()
	delete(r.s.data.mixes, mixKey(learnerID, date))
	return nil
}

// PruneBefore deletes mixes for calendar dates before the day of before.
func (r *MixRepository) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.lockWrite(ctx)()
	cutoff := shared.DateKey(before)
	var n int64
	for k, m := range r.s.data.mixes {
		if shared.DateKey(m.Date) < cutoff {
			delete(r.s.data.mixes, k)
			n++
		}
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOCK
// ══════════════════════════════════════════════════════════════════════════════

// SessionLock implements learner.SessionLock. Acquire fails fast when the
// learner is already locked.
type SessionLock struct{ s *Store }

var _ learner.SessionLock = (*SessionLock)(nil)

func (l *SessionLock) Acquire(_ context.Context, learnerID string) (func(), error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.data.locks[learnerID] {
		return nil, shared.NewDomainError("learner", "Lock", shared.ErrConcurrentModification, "a session is already being recorded")
	}
	l.s.data.locks[learnerID] = true

	var once bool
	return func() {
		l.s.mu.Lock()
		defer l.s.mu.Unlock()
		if !once {
			once = true
			delete(l.s.data.locks, learnerID)
		}
	}, nil
}
