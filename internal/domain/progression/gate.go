package progression

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// Gate evaluates the completion criteria of domains. It holds no state.
type Gate struct {
	policy policy.Gate
}

// NewGate creates a gate for the given policy.
func NewGate(p policy.Gate) *Gate {
	return &Gate{policy: p}
}

// Stability is the SRS stability measured over a domain's recent reviews.
type Stability struct {
	Average float64 `json:"average"`
	Sampled int     `json:"sampled"`
	Stable  bool    `json:"stable"`
}

// SRSStability averages the stability of the most recently reviewed cards of
// domain. It is stable only when enough cards were reviewed and the average
// reaches the floor.
func (g *Gate) SRSStability(domain topic.Domain, cards []srs.ReviewCard) Stability {
	reviewed := make([]srs.ReviewCard, 0)
	for _, c := range cards {
		if c.Domain == domain && c.LastReviewed != nil {
			reviewed = append(reviewed, c)
		}
	}
	slices.SortStableFunc(reviewed, func(a, b srs.ReviewCard) int {
		return b.LastReviewed.Compare(*a.LastReviewed)
	})
	if len(reviewed) > g.policy.StabilitySampleSize {
		reviewed = reviewed[:g.policy.StabilitySampleSize]
	}

	if len(reviewed) == 0 {
		return Stability{}
	}
	var sum float64
	for _, c := range reviewed {
		sum += c.Stability
	}
	avg := sum / float64(len(reviewed))
	return Stability{
		Average: avg,
		Sampled: len(reviewed),
		Stable:  len(reviewed) >= g.policy.MinReviewedCards && avg >= g.policy.StabilityFloor,
	}
}

// Evaluate refreshes the SRS stability criterion from cards and returns the
// updated gate progress.
func (g *Gate) Evaluate(s Status, cards []srs.ReviewCard) GateProgress {
	gp := s.Gate
	gp.SRSCardsStable = g.SRSStability(s.Domain, cards).Stable
	return gp
}

// IsRequirementMet reports whether all four criteria hold, measuring SRS
// stability from cards.
func (g *Gate) IsRequirementMet(s Status, cards []srs.ReviewCard) bool {
	return g.Evaluate(s, cards).AllPassed()
}

// EnterGateIfEligible moves an active domain to gated once enough of its
// content is completed.
func (g *Gate) EnterGateIfEligible(s Status, now time.Time) (Status, bool) {
	if s.State != StateActive || s.TotalItems <= 0 || s.CompletionRate() < g.policy.CapstoneCompletion {
		return s, false
	}
	s.State = StateGated
	s.UpdatedAt = now
	return s, true
}

// CompleteDomain marks a gated domain completed and pre-computes the next
// suggested domain. completed lists domains already completed before this one.
func (g *Gate) CompleteDomain(s Status, all []topic.Domain, completed []topic.Domain, rng *rand.Rand, now time.Time) (Status, error) {
	if s.State != StateGated {
		return s, transitionError("CompleteDomain", s, StateCompleted)
	}
	if !s.Gate.AllPassed() {
		return s, shared.WrapError("progression", "CompleteDomain", shared.ErrInvariantViolation,
			"domain "+string(s.Domain)+" is missing gate criteria", shared.ErrGateNotMet)
	}

	done := topic.NewSet(completed...)
	done[s.Domain] = struct{}{}

	s.State = StateCompleted
	at := now
	s.CompletedAt = &at
	s.UpdatedAt = now
	s.NextSuggested = ""
	if next, ok := g.SelectNextDomain(s.Domain, done, all, rng); ok {
		s.NextSuggested = next
	}
	return s, nil
}

// SelectNextDomain draws the next domain to suggest. Probability mass goes to
// uncompleted neighbours of current, then other uncompleted domains, then
// completed domains for long-term recall. Empty pools are skipped and the
// remaining weights renormalized. It returns false once every domain is completed.
func (g *Gate) SelectNextDomain(current topic.Domain, completed topic.Set, all []topic.Domain, rng *rand.Rand) (topic.Domain, bool) {
	allCompleted := true
	for _, d := range all {
		if !completed.Has(d) {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		return "", false
	}

	universe := topic.NewSet(all...)
	neighborSet := topic.NewSet()
	var neighbors, unvisited, recall []topic.Domain

	for _, n := range current.Neighbors() {
		if universe.Has(n) && !completed.Has(n) && n != current {
			neighbors = append(neighbors, n)
			neighborSet[n] = struct{}{}
		}
	}
	for _, d := range universe.Sorted() {
		switch {
		case d == current || neighborSet.Has(d):
		case completed.Has(d):
			recall = append(recall, d)
		default:
			unvisited = append(unvisited, d)
		}
	}

	pools := []struct {
		weight  float64
		domains []topic.Domain
	}{
		{g.policy.NeighborWeight, neighbors},
		{g.policy.UnvisitedWeight, unvisited},
		{g.policy.RecallWeight, recall},
	}

	var total float64
	for _, p := range pools {
		if len(p.domains) > 0 {
			total += p.weight
		}
	}
	if total <= 0 {
		// Only zero-weight pools are left; take the first non-empty one.
		for _, p := range pools {
			if len(p.domains) > 0 {
				return p.domains[rng.IntN(len(p.domains))], true
			}
		}
		return "", false
	}

	r := rng.Float64() * total
	for _, p := range pools {
		if len(p.domains) == 0 || p.weight <= 0 {
			continue
		}
		if r < p.weight {
			return p.domains[rng.IntN(len(p.domains))], true
		}
		r -= p.weight
	}

	// Floating point remainder: fall back to the last weighted pool.
	for i := len(pools) - 1; i >= 0; i-- {
		if len(pools[i].domains) > 0 && pools[i].weight > 0 {
			return pools[i].domains[rng.IntN(len(pools[i].domains))], true
		}
	}
	return "", false
}
