package command

import (
	"context"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/seed"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN BOOK
// In-transaction view of a learner's domain statuses that remembers what changed.
// ══════════════════════════════════════════════════════════════════════════════

type domainBook struct {
	byDomain map[topic.Domain]progression.Status
	changed  map[topic.Domain]bool
}

func loadDomainBook(ctx context.Context, repo progression.Repository, learnerID string) (*domainBook, error) {
	list, err := repo.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain statuses: %w", err)
	}
	b := &domainBook{
		byDomain: make(map[topic.Domain]progression.Status, len(list)),
		changed:  make(map[topic.Domain]bool),
	}
	for _, s := range list {
		b.byDomain[s.Domain] = s
	}
	return b, nil
}

func (b *domainBook) get(d topic.Domain) (progression.Status, bool) {
	s, ok := b.byDomain[d]
	return s, ok
}

func (b *domainBook) put(s progression.Status) {
	b.byDomain[s.Domain] = s
	b.changed[s.Domain] = true
}

// completed lists completed domains in catalogue order.
func (b *domainBook) completed() []topic.Domain {
	var out []topic.Domain
	for _, d := range topic.All() {
		if s, ok := b.byDomain[d]; ok && s.State == progression.StateCompleted {
			out = append(out, d)
		}
	}
	return out
}

// save writes changed statuses in catalogue order.
func (b *domainBook) save(ctx context.Context, repo progression.Repository) error {
	for _, d := range topic.All() {
		if !b.changed[d] {
			continue
		}
		saved, err := repo.Save(ctx, b.byDomain[d])
		if err != nil {
			return fmt.Errorf("failed to save domain status %s: %w", d, err)
		}
		b.byDomain[d] = saved
	}
	clear(b.changed)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTLING
// ══════════════════════════════════════════════════════════════════════════════

// settleDomain refreshes the SRS criterion of a gated domain and completes it
// once every criterion holds. The suggested next domain is unlocked if it is
// still locked.
func settleDomain(
	gate *progression.Gate,
	book *domainBook,
	d topic.Domain,
	cards []srs.ReviewCard,
	learnerID string,
	local time.Time,
) ([]shared.Event, error) {
	s, ok := book.get(d)
	if !ok || s.State != progression.StateGated {
		return nil, nil
	}

	if evaluated := gate.Evaluate(s, cards); evaluated != s.Gate {
		s.Gate = evaluated
		s.UpdatedAt = local
		book.put(s)
	}
	if !s.Gate.AllPassed() {
		return nil, nil
	}

	rng := seed.ForLearnerDay(learnerID, shared.DateKey(local), "next-domain:"+string(d))
	done, err := gate.CompleteDomain(s, topic.All(), book.completed(), rng, local)
	if err != nil {
		return nil, err
	}
	book.put(done)

	events := []shared.Event{
		shared.NewDomainCompletedEvent(learnerID, string(d), string(done.NextSuggested), local),
	}

	if next, ok := book.get(done.NextSuggested); ok && next.State == progression.StateLocked {
		unlocked, err := progression.Unlock(next, local)
		if err != nil {
			return nil, err
		}
		book.put(unlocked)
	}
	return events, nil
}

func gateFor(engines *core.Engines, features core.Features, learnerID string) *progression.Gate {
	return engines.GateFor(features.Enabled(core.FeatureRecallDomains, learnerID))
}
