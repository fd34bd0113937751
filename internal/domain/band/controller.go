package band

import (
	"fmt"
	"math"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/timeutil"
)

// Direction of a band adjustment.
type Direction string

const (
	Promotion Direction = "promotion"
	Demotion  Direction = "demotion"
)

// Adjustment is a single-step band move with the metrics that justified it.
type Adjustment struct {
	From      Band        `json:"from"`
	To        Band        `json:"to"`
	Direction Direction   `json:"direction"`
	Reason    string      `json:"reason"`
	Metrics   Performance `json:"metrics"`

	// Demotion window figures; zero for promotions.
	DifficultDays     int     `json:"difficult_days"`
	WindowCorrectRate float64 `json:"window_correct_rate"`

	At time.Time `json:"at"`
}

// Recovery is the plan for an easier day after sustained difficulty.
type Recovery struct {
	TargetBand    Band   `json:"target_band"`
	ExtraHints    bool   `json:"extra_hints"`
	Encouragement string `json:"encouragement"`
}

// ItemOutcome is the telemetry of one answered item as seen by the controller.
type ItemOutcome struct {
	Correct    bool
	HintsUsed  int
	TimeRatio  float64
	Confidence float64
}

// Controller decides band moves. It holds no state.
type Controller struct {
	policy policy.Band
}

// NewController creates a controller for the given policy.
func NewController(p policy.Band) *Controller {
	return &Controller{policy: p}
}

// ShouldPromote reports whether the streak and rolling performance meet
// every promotion threshold. All comparisons are inclusive.
func (c *Controller) ShouldPromote(s Status) bool {
	return s.StreakAtBand >= c.policy.PromotionStreak &&
		s.Performance.CorrectRate >= c.policy.PromotionCorrectRate &&
		s.Performance.HintUsage <= c.policy.PromotionMaxHintUsage
}

// window returns the trailing demotion window of recent days.
func (c *Controller) window(recent []DayPerformance) []DayPerformance {
	n := c.policy.DemotionWindowDays
	if len(recent) > n {
		return recent[len(recent)-n:]
	}
	return recent
}

func (c *Controller) windowStats(recent []DayPerformance) (difficult int, avgCorrect float64) {
	w := c.window(recent)
	if len(w) == 0 {
		return 0, 0
	}
	var sum float64
	for _, d := range w {
		if d.Difficult {
			difficult++
		}
		sum += d.CorrectRate
	}
	return difficult, sum / float64(len(w))
}

// ShouldDemote reports whether the recent window holds enough difficult days
// or its average correct rate falls below the floor. recent is chronological.
func (c *Controller) ShouldDemote(recent []DayPerformance) bool {
	if len(recent) == 0 {
		return false
	}
	difficult, avg := c.windowStats(recent)
	return difficult >= c.policy.DemotionDifficultDays || avg < c.policy.DemotionMinCorrectRate
}

// CalculateAdjustment returns the band move warranted at now, or nil. At most
// one adjustment is made per calendar day of now.
func (c *Controller) CalculateAdjustment(s Status, recent []DayPerformance, now time.Time) *Adjustment {
	if adjustedOn(s.LastPromotion, now) || adjustedOn(s.LastDemotion, now) {
		return nil
	}

	if c.ShouldPromote(s) && s.CurrentBand < Highest {
		return &Adjustment{
			From:      s.CurrentBand,
			To:        s.CurrentBand.Harder(),
			Direction: Promotion,
			Reason: fmt.Sprintf("%d days at band %s with %.0f%% correct and %.1f hints per item",
				s.StreakAtBand, s.CurrentBand, s.Performance.CorrectRate*100, s.Performance.HintUsage),
			Metrics: s.Performance,
			At:      now,
		}
	}

	if c.ShouldDemote(recent) && s.CurrentBand > Lowest {
		difficult, avg := c.windowStats(recent)
		return &Adjustment{
			From:      s.CurrentBand,
			To:        s.CurrentBand.Easier(),
			Direction: Demotion,
			Reason: fmt.Sprintf("%d difficult days of the last %d, %.0f%% correct on average",
				difficult, len(c.window(recent)), avg*100),
			Metrics:           s.Performance,
			DifficultDays:     difficult,
			WindowCorrectRate: avg,
			At:                now,
		}
	}

	return nil
}

func adjustedOn(last *time.Time, now time.Time) bool {
	return last != nil && shared.IsSameDay(now, *last)
}

// Apply moves the band one step as described by adj and returns the new
// status. The input status is not modified.
func (c *Controller) Apply(s Status, adj Adjustment) (Status, error) {
	if adj.From != s.CurrentBand || adj.From.Distance(adj.To) != 1 || !adj.To.IsValid() {
		return s, shared.NewDomainError("band", "Apply", shared.ErrInvariantViolation,
			fmt.Sprintf("adjustment %s→%s does not start at %s or skips a band", adj.From, adj.To, s.CurrentBand))
	}

	out := s.Clone()
	out.CurrentBand = adj.To
	out.StreakAtBand = 0
	out.History = append(out.History, Change{From: adj.From, To: adj.To, At: adj.At, Reason: adj.Reason})
	at := adj.At
	switch adj.Direction {
	case Promotion:
		out.LastPromotion = &at
	case Demotion:
		out.LastDemotion = &at
	}
	out.UpdatedAt = adj.At
	return out, nil
}

// DayOneBand softens the first session by one band.
func (c *Controller) DayOneBand(calculated Band) Band {
	return calculated.Easier()
}

// RecoveryMix returns the easier plan used after two difficult days in a row.
func (c *Controller) RecoveryMix(current Band) Recovery {
	return Recovery{
		TargetBand:    current.Easier(),
		ExtraHints:    true,
		Encouragement: "The last two days were tough. Today is lighter, with extra hints, to rebuild momentum.",
	}
}

// HasTwoDifficultDaysInRow reports whether the two most recent recorded days
// were both difficult. days is chronological.
func (c *Controller) HasTwoDifficultDaysInRow(days []DayPerformance) bool {
	n := len(days)
	return n >= 2 && days[n-1].Difficult && days[n-2].Difficult
}

// UpdatePerformance blends today's sample into the rolling snapshot with an
// exponential moving average.
func (c *Controller) UpdatePerformance(current, today Performance) Performance {
	a := c.policy.SmoothingAlpha
	ema := func(prev, next float64) float64 {
		return a*next + (1-a)*prev
	}
	return Performance{
		CorrectRate:    ema(current.CorrectRate, today.CorrectRate),
		HintUsage:      ema(current.HintUsage, today.HintUsage),
		TimeEfficiency: ema(current.TimeEfficiency, today.TimeEfficiency),
		Confidence:     ema(current.Confidence, today.Confidence),
	}
}

// IsDifficult classifies a day.
func (c *Controller) IsDifficult(d DayPerformance) bool {
	return d.CorrectRate < c.policy.DifficultCorrectRate || d.HintUsage > c.policy.DifficultHintUsage
}

// SummarizeDay aggregates item outcomes answered on the calendar day of date.
func (c *Controller) SummarizeDay(date time.Time, items []ItemOutcome) DayPerformance {
	day := DayPerformance{Date: timeutil.StartOfDay(date), Items: len(items)}
	if len(items) == 0 {
		return day
	}

	var correct, hints int
	var efficiency, confidence float64
	for _, it := range items {
		if it.Correct {
			correct++
		}
		hints += max(it.HintsUsed, 0)
		efficiency += timeEfficiency(it.TimeRatio)
		confidence += math.Min(math.Max(it.Confidence, 0), 1)
	}

	n := float64(len(items))
	day.CorrectRate = float64(correct) / n
	day.HintUsage = float64(hints) / n
	day.TimeEfficiency = efficiency / n
	day.Confidence = confidence / n
	day.Difficult = c.IsDifficult(day)
	return day
}

// MergeDay combines two samples of the same calendar day weighted by items.
func (c *Controller) MergeDay(existing, session DayPerformance) DayPerformance {
	total := existing.Items + session.Items
	if total == 0 {
		return existing
	}
	w1 := float64(existing.Items) / float64(total)
	w2 := float64(session.Items) / float64(total)

	merged := DayPerformance{
		Date:           existing.Date,
		Items:          total,
		CorrectRate:    existing.CorrectRate*w1 + session.CorrectRate*w2,
		HintUsage:      existing.HintUsage*w1 + session.HintUsage*w2,
		TimeEfficiency: existing.TimeEfficiency*w1 + session.TimeEfficiency*w2,
		Confidence:     existing.Confidence*w1 + session.Confidence*w2,
	}
	if merged.Date.IsZero() {
		merged.Date = session.Date
	}
	merged.Difficult = c.IsDifficult(merged)
	return merged
}

// timeEfficiency is 1 for answers at or under the expected time and decays
// as the answer takes longer.
func timeEfficiency(ratio float64) float64 {
	if ratio <= 1 {
		return 1
	}
	return 1 / ratio
}

// RecordDay updates the streak and the rolling performance with a session
// sample answered at now. The streak counts consecutive calendar days at the
// current band and only moves on the first session of a day.
func (c *Controller) RecordDay(s Status, sample Performance, now time.Time) Status {
	out := s.Clone()

	switch {
	case s.LastSessionDate == nil:
		out.StreakAtBand = 1
		out.Performance = sample
	case shared.IsSameDay(now, *s.LastSessionDate):
		out.Performance = c.UpdatePerformance(s.Performance, sample)
	case shared.DaysBetween(s.LastSessionDate.In(now.Location()), now) == 1:
		out.StreakAtBand = s.StreakAtBand + 1
		out.Performance = c.UpdatePerformance(s.Performance, sample)
	default:
		out.StreakAtBand = 1
		out.Performance = c.UpdatePerformance(s.Performance, sample)
	}

	at := now
	out.LastSessionDate = &at
	out.UpdatedAt = now
	return out
}
