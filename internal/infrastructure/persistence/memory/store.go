// Package memory implements every repository port on process memory.
// It backs the CLI preview mode and the application tests; state is lost on exit.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store holds all state behind one lock. Transactions run one at a time and
// roll back to a snapshot when fn fails. A write made outside a transaction
// waits for the running one to finish, so a rollback never discards it.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data state
}

type txKey struct{}

type state struct {
	learners map[string]learner.Learner
	cards    map[string]srs.ReviewCard
	results  []srs.ReviewResult
	bands    map[string]band.Status
	days     map[string]map[string]band.DayPerformance
	domains  map[string]map[topic.Domain]progression.Status
	checks   map[string]progression.RetentionCheck
	mixes    map[string]dailymix.DailyMix
	locks    map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: state{
		learners: make(map[string]learner.Learner),
		cards:    make(map[string]srs.ReviewCard),
		bands:    make(map[string]band.Status),
		days:     make(map[string]map[string]band.DayPerformance),
		domains:  make(map[string]map[topic.Domain]progression.Status),
		checks:   make(map[string]progression.RetentionCheck),
		mixes:    make(map[string]dailymix.DailyMix),
		locks:    make(map[string]bool),
	}}
}

func (s state) clone() state {
	out := state{
		learners: maps.Clone(s.learners),
		cards:    maps.Clone(s.cards),
		results:  append([]srs.ReviewResult(nil), s.results...),
		bands:    maps.Clone(s.bands),
		days:     make(map[string]map[string]band.DayPerformance, len(s.days)),
		domains:  make(map[string]map[topic.Domain]progression.Status, len(s.domains)),
		checks:   maps.Clone(s.checks),
		mixes:    maps.Clone(s.mixes),
		locks:    s.locks,
	}
	for k, v := range s.days {
		out.days[k] = maps.Clone(v)
	}
	for k, v := range s.domains {
		out.domains[k] = maps.Clone(v)
	}
	return out
}

// Do runs fn as one transaction. A Do nested in another joins it.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lockWrite takes the data lock for a write and returns its release.
func (s *Store) lockWrite(ctx context.Context) func() {
	if s.inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// Learners returns the learner repository.
func (s *Store) Learners() *LearnerRepository { return &LearnerRepository{s: s} }

// Cards returns the review card repository.
func (s *Store) Cards() *CardRepository { return &CardRepository{s: s} }

// Bands returns the band status repository.
func (s *Store) Bands() *BandRepository { return &BandRepository{s: s} }

// Domains returns the domain status repository.
func (s *Store) Domains() *DomainRepository { return &DomainRepository{s: s} }

// RetentionChecks returns the retention check repository.
func (s *Store) RetentionChecks() *RetentionRepository { return &RetentionRepository{s: s} }

// Mixes returns the daily mix repository.
func (s *Store) Mixes() *MixRepository { return &MixRepository{s: s} }

// SessionLock returns a non-blocking per-learner lock.
func (s *Store) SessionLock() *SessionLock { return &SessionLock{s: s} }

// Results returns a copy of the review audit trail in insertion order.
func (s *Store) Results() []srs.ReviewResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]srs.ReviewResult(nil), s.data.results...)
}
