// Package srs implements the spaced-repetition engine: ease and stability
// updates, interval scheduling, due selection and urgency ordering.
// Every function is pure; callers pass the current time explicitly.
package srs

import (
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

// Grade is a recall grade on the SM-2 scale.
type Grade int

const (
	GradeBlackout Grade = 0 // no recall
	GradeWrong    Grade = 1 // wrong, answer felt familiar
	GradeHard     Grade = 2 // wrong, close
	GradeGood     Grade = 3 // correct with effort
	GradeEasy     Grade = 4 // correct after hesitation
	GradePerfect  Grade = 5 // immediate and correct
)

// NewGrade validates a raw grade from an external caller.
func NewGrade(v int) (Grade, error) {
	g := Grade(v)
	if !g.IsValid() {
		return 0, shared.ErrInvalidGrade
	}
	return g, nil
}

// IsValid reports whether the grade lies in [0,5].
func (g Grade) IsValid() bool {
	return g >= GradeBlackout && g <= GradePerfect
}

// clamp keeps engine arithmetic total for unchecked values.
func (g Grade) clamp() Grade {
	switch {
	case g < GradeBlackout:
		return GradeBlackout
	case g > GradePerfect:
		return GradePerfect
	default:
		return g
	}
}

// IsPass reports whether the grade counts as successful recall.
func (g Grade) IsPass() bool {
	return g >= GradeGood
}

// ItemType is the kind of content behind a card.
type ItemType string

const (
	ItemQuiz          ItemType = "quiz"
	ItemMicroCase     ItemType = "micro-case"
	ItemTeachingPearl ItemType = "teaching-pearl"
)

// IsValid reports whether t is a known item type.
func (t ItemType) IsValid() bool {
	switch t {
	case ItemQuiz, ItemMicroCase, ItemTeachingPearl:
		return true
	}
	return false
}

// ReviewCard is one learner's schedule for one content item.
type ReviewCard struct {
	ID        string
	LearnerID string
	Domain    topic.Domain
	ItemType  ItemType
	ContentID string

	EaseFactor   float64
	Stability    float64
	IntervalDays int
	DueDate      time.Time
	Difficulty   float64

	LastGrade    *Grade
	LastReviewed *time.Time
	ReviewCount  int
	FailCount    int
	IsLeech      bool

	CompetencyTags []string
	GoalIDs        []string

	CreatedAt time.Time
}

// IsNew reports whether the card is still on the fixed ladder.
func (c ReviewCard) IsNew(ladder []int) bool {
	return c.ReviewCount < len(ladder)
}

// IsDue reports whether the card is due on or before now's calendar day.
func (c ReviewCard) IsDue(now time.Time) bool {
	return c.DueDate.Before(timeutil.StartOfNextDay(now))
}

// NewCardParams describes a card to create.
type NewCardParams struct {
	ID             string
	LearnerID      string
	Domain         topic.Domain
	ItemType       ItemType
	ContentID      string
	CompetencyTags []string
	GoalIDs        []string
}

// NewCard creates an unreviewed card due immediately. It becomes scheduled
// once the first grade is applied through ProcessReview.
func NewCard(p NewCardParams, pol policy.SRS, now time.Time) (ReviewCard, error) {
	if p.ID == "" || p.LearnerID == "" || p.ContentID == "" {
		return ReviewCard{}, shared.NewDomainError("srs", "NewCard", shared.ErrEmptyValue, "card id, learner id and content id are required")
	}
	if !p.Domain.IsValid() {
		return ReviewCard{}, shared.ErrUnknownDomain
	}
	itemType := p.ItemType
	if itemType == "" {
		itemType = ItemQuiz
	}
	if !itemType.IsValid() {
		return ReviewCard{}, shared.NewDomainError("srs", "NewCard", shared.ErrInvalidInput, "unknown item type "+string(itemType))
	}

	return ReviewCard{
		ID:             p.ID,
		LearnerID:      p.LearnerID,
		Domain:         p.Domain,
		ItemType:       itemType,
		ContentID:      p.ContentID,
		EaseFactor:     pol.DefaultEase,
		Stability:      pol.InitialStability,
		IntervalDays:   1,
		DueDate:        now,
		Difficulty:     pol.InitialDifficulty,
		CompetencyTags: p.CompetencyTags,
		GoalIDs:        p.GoalIDs,
		CreatedAt:      now,
	}, nil
}

// ReviewResult is the immutable audit record of one review.
type ReviewResult struct {
	CardID           string
	LearnerID        string
	Domain           topic.Domain
	Grade            Grade
	TimeSpentSeconds int
	HintsUsed        int
	ReviewedAt       time.Time

	PreviousInterval int
	EaseFactor       float64
	IntervalDays     int
	DueDate          time.Time
	Stability        float64
	BecameLeech      bool
}

// Schedule is the outcome of CalculateNextReview.
type Schedule struct {
	EaseFactor   float64
	IntervalDays int
	DueDate      time.Time
	Stability    float64
}
