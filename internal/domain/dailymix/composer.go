package dailymix

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

// Request carries everything the composer needs for one learner and day.
type Request struct {
	LearnerID     string
	Now           time.Time
	PrimaryDomain topic.Domain
	TargetBand    band.Band

	// Cards are all of the learner's review cards.
	Cards []srs.ReviewCard

	// AvailableNewContent holds unseen content per domain in catalogue order.
	AvailableNewContent map[topic.Domain][]ContentItem

	CompletedDomains []topic.Domain
	RecentDomains    []topic.Domain

	IsRecoveryDay        bool
	PreviousDayDifficult bool
	DisableInterleaving  bool

	// TargetMinutes falls back to the policy default when not positive.
	TargetMinutes int
}

// Composer builds daily mixes. It holds no state.
type Composer struct {
	policy   policy.Mix
	engine   *srs.Engine
	controls *band.Controller
}

// NewComposer creates a composer.
func NewComposer(p policy.Mix, engine *srs.Engine, controller *band.Controller) *Composer {
	return &Composer{policy: p, engine: engine, controls: controller}
}

// ItemsFor converts a time budget into an item count.
func (c *Composer) ItemsFor(minutes float64) int {
	if minutes <= 0 {
		return 0
	}
	// Tolerate ratio products such as 0.6*20 landing just above an integer.
	return int(math.Ceil(minutes/float64(c.policy.MinutesPerItem) - 1e-9))
}

func (c *Composer) minutesFor(items int) int {
	return items * c.policy.MinutesPerItem
}

// Compose produces the plan for req. rng drives the interleaving choice.
func (c *Composer) Compose(req Request, rng *rand.Rand) DailyMix {
	minutes := req.TargetMinutes
	if minutes <= 0 {
		minutes = c.policy.DefaultMinutes
	}
	minutes = min(minutes, c.policy.MaxMinutes)

	mix := DailyMix{
		LearnerID:   req.LearnerID,
		Date:        timeutil.StartOfDay(req.Now),
		TargetBand:  req.TargetBand,
		GeneratedAt: req.Now,
	}

	if req.IsRecoveryDay {
		recovery := c.controls.RecoveryMix(req.TargetBand)
		mix.TargetBand = recovery.TargetBand
		mix.RecoveryDay = true
		mix.ExtraHints = recovery.ExtraHints
		mix.Encouragement = recovery.Encouragement
	} else if req.PreviousDayDifficult {
		mix.DifficultFollowUp = true
	}

	total := float64(minutes)

	newIDs := c.pickContent(req.AvailableNewContent[req.PrimaryDomain], mix.TargetBand, c.ItemsFor(total*c.policy.NewContentRatio))
	mix.NewContent = Slice{
		Domain:           req.PrimaryDomain,
		ItemIDs:          newIDs,
		EstimatedMinutes: c.minutesFor(len(newIDs)),
	}

	if !req.DisableInterleaving {
		if d, ok := c.interleavingDomain(req, rng); ok {
			ids := c.pickContent(req.AvailableNewContent[d], mix.TargetBand, c.ItemsFor(total*c.policy.InterleavingRatio))
			if len(ids) > 0 {
				mix.Interleaving = &Slice{Domain: d, ItemIDs: ids, EstimatedMinutes: c.minutesFor(len(ids))}
			}
		}
	}

	reviewCount := c.ItemsFor(total * c.policy.ReviewRatio)
	due := c.engine.GetDueCards(srs.ExcludeLeeches(req.Cards), req.Now)
	ranked := srs.Cards(c.engine.PrioritizeCards(due, req.PrimaryDomain, req.RecentDomains, reviewCount, req.Now))
	cardIDs := make([]string, 0, len(ranked))
	for _, card := range ranked {
		cardIDs = append(cardIDs, card.ID)
	}
	mix.Review = ReviewSlice{CardIDs: cardIDs, EstimatedMinutes: c.minutesFor(len(cardIDs))}

	mix.TotalMinutes = mix.NewContent.EstimatedMinutes + mix.Review.EstimatedMinutes
	if mix.Interleaving != nil {
		mix.TotalMinutes += mix.Interleaving.EstimatedMinutes
	}
	return mix
}

// pickContent takes up to n items preferring the target band, then the
// closest bands, easier before harder. Catalogue order is kept within a band.
func (c *Composer) pickContent(items []ContentItem, target band.Band, n int) []string {
	if n <= 0 || len(items) == 0 {
		return []string{}
	}

	ordered := slices.Clone(items)
	slices.SortStableFunc(ordered, func(a, b ContentItem) int {
		if d := cmp.Compare(a.Band.Distance(target), b.Band.Distance(target)); d != 0 {
			return d
		}
		return cmp.Compare(a.Band, b.Band)
	})

	ids := make([]string, 0, min(n, len(ordered)))
	for _, it := range ordered[:min(n, len(ordered))] {
		ids = append(ids, it.ID)
	}
	return ids
}

// interleavingDomain picks a random neighbour of the primary domain that has
// content, falling back to a completed domain for long-term recall.
func (c *Composer) interleavingDomain(req Request, rng *rand.Rand) (topic.Domain, bool) {
	hasContent := func(d topic.Domain) bool {
		return d != req.PrimaryDomain && len(req.AvailableNewContent[d]) > 0
	}

	var candidates []topic.Domain
	for _, n := range req.PrimaryDomain.Neighbors() {
		if hasContent(n) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		for _, d := range topic.NewSet(req.CompletedDomains...).Sorted() {
			if hasContent(d) {
				candidates = append(candidates, d)
			}
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rng.IntN(len(candidates))], true
}
