package progression

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// RetentionCheck re-tests a sample of a domain's cards after a delay.
type RetentionCheck struct {
	ID                string
	LearnerID         string
	Domain            topic.Domain
	CardIDs           []string
	CreatedAt         time.Time
	ScheduledFor      time.Time
	RequiredStability float64
	CompletedAt       *time.Time
	ObservedStability *float64
}

// IsCompleted reports whether the check has been evaluated.
func (r RetentionCheck) IsCompleted() bool {
	return r.CompletedAt != nil
}

// IsDue reports whether the check may be evaluated at now.
func (r RetentionCheck) IsDue(now time.Time) bool {
	return !now.Before(r.ScheduledFor)
}

// Passed reports whether the observed average stability reached the requirement.
func (r RetentionCheck) Passed() bool {
	return r.ObservedStability != nil && *r.ObservedStability >= r.RequiredStability
}

// CreateRetentionCheck samples up to the configured number of the domain's
// cards at random and schedules the check after the configured delay.
func (g *Gate) CreateRetentionCheck(id, learnerID string, domain topic.Domain, cards []srs.ReviewCard, rng *rand.Rand, now time.Time) (RetentionCheck, error) {
	pool := srs.ByDomain(cards, domain)
	if len(pool) == 0 {
		return RetentionCheck{}, shared.NewDomainError("progression", "CreateRetentionCheck", shared.ErrInvalidState,
			"domain "+string(domain)+" has no cards to sample")
	}

	// Sort first so the draw depends only on the rng, not on input order.
	slices.SortFunc(pool, func(a, b srs.ReviewCard) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	n := min(len(pool), g.policy.RetentionSampleSize)
	ids := make([]string, n)
	for i := range n {
		ids[i] = pool[i].ID
	}

	return RetentionCheck{
		ID:                id,
		LearnerID:         learnerID,
		Domain:            domain,
		CardIDs:           ids,
		CreatedAt:         now,
		ScheduledFor:      now.AddDate(0, 0, g.policy.RetentionDelayDays),
		RequiredStability: g.policy.RetentionMinStability,
	}, nil
}

// CompleteRetentionCheck records the current average stability of the
// sampled cards. Cards that no longer exist are ignored.
func (g *Gate) CompleteRetentionCheck(check RetentionCheck, cards []srs.ReviewCard, now time.Time) (RetentionCheck, error) {
	if check.IsCompleted() {
		return check, shared.ErrRetentionCheckDone
	}
	if !check.IsDue(now) {
		return check, shared.ErrRetentionCheckNotDue
	}

	sampled := make(map[string]struct{}, len(check.CardIDs))
	for _, id := range check.CardIDs {
		sampled[id] = struct{}{}
	}

	var sum float64
	var n int
	for _, c := range cards {
		if _, ok := sampled[c.ID]; ok {
			sum += c.Stability
			n++
		}
	}

	observed := 0.0
	if n > 0 {
		observed = sum / float64(n)
	}

	out := check
	out.CardIDs = slices.Clone(check.CardIDs)
	at := now
	out.CompletedAt = &at
	out.ObservedStability = &observed
	return out, nil
}

// ApplyRetentionResult copies a completed check's outcome onto the domain.
// A failed check leaves an earlier pass in place.
func ApplyRetentionResult(s Status, check RetentionCheck, now time.Time) Status {
	if check.Passed() {
		s.Gate.RetentionCheckPassed = true
		s.UpdatedAt = now
	}
	return s
}
