package srs

import (
	"math"
	"slices"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
)

// Engine applies the scheduling rules of a policy. It holds no state.
type Engine struct {
	policy policy.SRS
}

// NewEngine creates an engine for the given policy.
func NewEngine(p policy.SRS) *Engine {
	return &Engine{policy: p}
}

// Policy returns the engine's thresholds.
func (e *Engine) Policy() policy.SRS {
	return e.policy
}

// CalculateNextReview computes the new ease, interval, due date and stability
// for a card graded at now.
func (e *Engine) CalculateNextReview(card ReviewCard, grade Grade, now time.Time) Schedule {
	g := grade.clamp()
	ease := e.nextEase(card.EaseFactor, g)
	interval := e.nextInterval(card, g, ease)

	return Schedule{
		EaseFactor:   ease,
		IntervalDays: interval,
		DueDate:      now.AddDate(0, 0, interval),
		Stability:    e.nextStability(card, g),
	}
}

// nextEase is the SM-2 ease update clamped to the policy bounds.
func (e *Engine) nextEase(ease float64, g Grade) float64 {
	q := float64(5 - g)
	ease += 0.1 - q*(0.08+q*0.02)
	return clamp(ease, e.policy.MinEase, e.policy.MaxEase)
}

func (e *Engine) nextInterval(card ReviewCard, g Grade, ease float64) int {
	ladder := e.policy.NewCardLadder

	var interval int
	switch {
	case card.IsNew(ladder):
		if g.IsPass() {
			interval = ladder[max(card.ReviewCount, 0)]
		} else {
			interval = ladder[0]
		}
	case g >= GradeGood:
		interval = int(math.Min(math.Round(float64(card.IntervalDays)*ease), math.MaxInt32))
	case g == GradeHard:
		interval = card.IntervalDays
	default:
		interval = 1
	}

	if e.policy.MaxIntervalDays > 0 {
		interval = min(interval, e.policy.MaxIntervalDays)
	}
	return max(interval, 1)
}

func (e *Engine) nextStability(card ReviewCard, g Grade) float64 {
	s := card.Stability
	switch {
	case g >= GradeEasy:
		s += e.policy.StabilityGainEasy
	case g == GradeGood:
		s += e.policy.StabilityGainGood
	case g == GradeHard:
		s += e.policy.StabilityGainHard
	default:
		s -= e.policy.StabilityLossFail
	}
	if g.IsPass() && card.IntervalDays >= e.policy.DurableIntervalDays {
		s += e.policy.DurableRecallBonus
	}
	return clamp(s, e.policy.MinStability, e.policy.MaxStability)
}

// ProcessReview applies a graded review and returns the updated card together
// with its audit record. The input card is not modified.
func (e *Engine) ProcessReview(card ReviewCard, grade Grade, timeSpentSeconds, hintsUsed int, now time.Time) (ReviewCard, ReviewResult) {
	g := grade.clamp()
	next := e.CalculateNextReview(card, g, now)

	updated := card
	updated.CompetencyTags = slices.Clone(card.CompetencyTags)
	updated.GoalIDs = slices.Clone(card.GoalIDs)
	updated.EaseFactor = next.EaseFactor
	updated.IntervalDays = next.IntervalDays
	updated.DueDate = next.DueDate
	updated.Stability = next.Stability
	updated.Difficulty = e.difficultyFromEase(next.EaseFactor)
	updated.ReviewCount = card.ReviewCount + 1
	updated.LastGrade = &g
	reviewedAt := now
	updated.LastReviewed = &reviewedAt

	wasLeech := card.IsLeech
	switch {
	case g < GradeHard:
		updated.FailCount = card.FailCount + 1
		if updated.FailCount >= e.policy.LeechThreshold {
			updated.IsLeech = true
		}
	case g.IsPass():
		updated.FailCount = 0
		updated.IsLeech = false
	}

	result := ReviewResult{
		CardID:           card.ID,
		LearnerID:        card.LearnerID,
		Domain:           card.Domain,
		Grade:            g,
		TimeSpentSeconds: max(timeSpentSeconds, 0),
		HintsUsed:        max(hintsUsed, 0),
		ReviewedAt:       now,
		PreviousInterval: card.IntervalDays,
		EaseFactor:       updated.EaseFactor,
		IntervalDays:     updated.IntervalDays,
		DueDate:          updated.DueDate,
		Stability:        updated.Stability,
		BecameLeech:      updated.IsLeech && !wasLeech,
	}

	return updated, result
}

// difficultyFromEase maps ease onto [0,1], 1 being the hardest.
func (e *Engine) difficultyFromEase(ease float64) float64 {
	span := e.policy.MaxEase - e.policy.MinEase
	if span <= 0 {
		return 0
	}
	return clamp((e.policy.MaxEase-ease)/span, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
