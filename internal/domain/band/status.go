package band

import (
	"context"
	"slices"
	"time"
)

// Performance is the rolling snapshot used for promotion decisions.
// Rates are in [0,1]; HintUsage is average hints per item.
type Performance struct {
	CorrectRate    float64 `json:"correct_rate"`
	HintUsage      float64 `json:"hint_usage"`
	TimeEfficiency float64 `json:"time_efficiency"`
	Confidence     float64 `json:"confidence"`
}

// DayPerformance aggregates one calendar day of answered items.
type DayPerformance struct {
	Date           time.Time `json:"date"`
	Items          int       `json:"items"`
	CorrectRate    float64   `json:"correct_rate"`
	HintUsage      float64   `json:"hint_usage"`
	TimeEfficiency float64   `json:"time_efficiency"`
	Confidence     float64   `json:"confidence"`
	Difficult      bool      `json:"difficult"`
}

// Snapshot returns the day as a performance sample.
func (d DayPerformance) Snapshot() Performance {
	return Performance{
		CorrectRate:    d.CorrectRate,
		HintUsage:      d.HintUsage,
		TimeEfficiency: d.TimeEfficiency,
		Confidence:     d.Confidence,
	}
}

// Change is one entry of the band history.
type Change struct {
	From   Band      `json:"from"`
	To     Band      `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Status is a learner's band state. It is a versioned value: the controller
// returns transformed copies and the repository rejects stale versions.
type Status struct {
	LearnerID       string
	CurrentBand     Band
	History         []Change
	StreakAtBand    int
	Performance     Performance
	LastPromotion   *time.Time
	LastDemotion    *time.Time
	LastSessionDate *time.Time
	Version         int
	UpdatedAt       time.Time
}

// NewStatus creates the initial status for a learner.
func NewStatus(learnerID string, start Band, now time.Time) Status {
	return Status{
		LearnerID:   learnerID,
		CurrentBand: start,
		History: []Change{{
			From:   start,
			To:     start,
			At:     now,
			Reason: "starting band",
		}},
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (s Status) Clone() Status {
	out := s
	out.History = slices.Clone(s.History)
	out.LastPromotion = cloneTime(s.LastPromotion)
	out.LastDemotion = cloneTime(s.LastDemotion)
	out.LastSessionDate = cloneTime(s.LastSessionDate)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Repository persists band state and daily performance.
type Repository interface {
	// Get returns the status of a learner.
	Get(ctx context.Context, learnerID string) (Status, error)

	// Create stores a new status with version 1.
	Create(ctx context.Context, status Status) error

	// Save writes status if the stored version equals status.Version and
	// returns the status with its new version.
	Save(ctx context.Context, status Status) (Status, error)

	// SaveDay upserts the performance of one calendar day.
	SaveDay(ctx context.Context, learnerID string, day DayPerformance) error

	// GetDay returns the performance for the calendar day of date.
	GetDay(ctx context.Context, learnerID string, date time.Time) (DayPerformance, error)

	// RecentDays returns up to limit most recent days in chronological order.
	RecentDays(ctx context.Context, learnerID string, limit int) ([]DayPerformance, error)
}
