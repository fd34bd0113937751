// Package policy holds every tunable threshold of the scheduler in one place.
// The defaults reproduce the clinical curriculum's calibration; a deployment
// may overlay them from a tuning file, after which Validate must pass.
package policy

import (
	"errors"
	"fmt"
	"math"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// Policy groups the thresholds used by the four scheduling components.
type Policy struct {
	SRS  SRS  `yaml:"srs" json:"srs"`
	Band Band `yaml:"band" json:"band"`
	Gate Gate `yaml:"gate" json:"gate"`
	Mix  Mix  `yaml:"mix" json:"mix"`
}

// SRS configures the spaced-repetition engine.
type SRS struct {
	DefaultEase float64 `yaml:"default_ease" json:"default_ease"`
	MinEase     float64 `yaml:"min_ease" json:"min_ease"`
	MaxEase     float64 `yaml:"max_ease" json:"max_ease"`

	// NewCardLadder is indexed by review count while the card is new.
	NewCardLadder []int `yaml:"new_card_ladder" json:"new_card_ladder"`

	MaxIntervalDays int `yaml:"max_interval_days" json:"max_interval_days"`

	InitialStability float64 `yaml:"initial_stability" json:"initial_stability"`
	MinStability     float64 `yaml:"min_stability" json:"min_stability"`
	MaxStability     float64 `yaml:"max_stability" json:"max_stability"`

	StabilityGainEasy   float64 `yaml:"stability_gain_easy" json:"stability_gain_easy"`     // grade >= 4
	StabilityGainGood   float64 `yaml:"stability_gain_good" json:"stability_gain_good"`     // grade == 3
	StabilityGainHard   float64 `yaml:"stability_gain_hard" json:"stability_gain_hard"`     // grade == 2
	StabilityLossFail   float64 `yaml:"stability_loss_fail" json:"stability_loss_fail"`     // grade < 2
	DurableRecallBonus  float64 `yaml:"durable_recall_bonus" json:"durable_recall_bonus"`   // grade >= 3 on a long interval
	DurableIntervalDays int     `yaml:"durable_interval_days" json:"durable_interval_days"` // prior interval that earns the bonus
	LeechThreshold      int     `yaml:"leech_threshold" json:"leech_threshold"`             // consecutive failures
	DueSoonWindowDays   float64 `yaml:"due_soon_window_days" json:"due_soon_window_days"`   // overdue days that saturate urgency
	RecencyPrimary      float64 `yaml:"recency_primary" json:"recency_primary"`
	RecencyRecent       float64 `yaml:"recency_recent" json:"recency_recent"`
	RecencyOther        float64 `yaml:"recency_other" json:"recency_other"`
	InitialDifficulty   float64 `yaml:"initial_difficulty" json:"initial_difficulty"`

	// Grading of raw session telemetry.
	FastTimeRatio       float64 `yaml:"fast_time_ratio" json:"fast_time_ratio"`
	NormalTimeRatio     float64 `yaml:"normal_time_ratio" json:"normal_time_ratio"`
	LowConfidence       float64 `yaml:"low_confidence" json:"low_confidence"`
	HeavyHintThreshold  int     `yaml:"heavy_hint_threshold" json:"heavy_hint_threshold"`
	ExpectedItemSeconds int     `yaml:"expected_item_seconds" json:"expected_item_seconds"`
}

// Band configures the difficulty-band controller.
type Band struct {
	PromotionStreak       int     `yaml:"promotion_streak" json:"promotion_streak"`
	PromotionCorrectRate  float64 `yaml:"promotion_correct_rate" json:"promotion_correct_rate"`
	PromotionMaxHintUsage float64 `yaml:"promotion_max_hint_usage" json:"promotion_max_hint_usage"`

	DemotionWindowDays     int     `yaml:"demotion_window_days" json:"demotion_window_days"`
	DemotionDifficultDays  int     `yaml:"demotion_difficult_days" json:"demotion_difficult_days"`
	DemotionMinCorrectRate float64 `yaml:"demotion_min_correct_rate" json:"demotion_min_correct_rate"`

	// A day is difficult when its correct rate is below DifficultCorrectRate
	// or its average hints per item exceed DifficultHintUsage.
	DifficultCorrectRate float64 `yaml:"difficult_correct_rate" json:"difficult_correct_rate"`
	DifficultHintUsage   float64 `yaml:"difficult_hint_usage" json:"difficult_hint_usage"`

	SmoothingAlpha float64 `yaml:"smoothing_alpha" json:"smoothing_alpha"`
}

// Gate configures domain progression.
type Gate struct {
	StabilityFloor      float64 `yaml:"stability_floor" json:"stability_floor"`
	StabilitySampleSize int     `yaml:"stability_sample_size" json:"stability_sample_size"`
	MinReviewedCards    int     `yaml:"min_reviewed_cards" json:"min_reviewed_cards"`

	RetentionSampleSize   int     `yaml:"retention_sample_size" json:"retention_sample_size"`
	RetentionDelayDays    int     `yaml:"retention_delay_days" json:"retention_delay_days"`
	RetentionMinStability float64 `yaml:"retention_min_stability" json:"retention_min_stability"`

	// CapstoneCompletion is the items-completed ratio at which an active
	// domain becomes gated.
	CapstoneCompletion float64 `yaml:"capstone_completion" json:"capstone_completion"`

	// Probability mass for next-domain selection. Pools that are empty are
	// dropped and the remaining weights renormalized.
	NeighborWeight  float64 `yaml:"neighbor_weight" json:"neighbor_weight"`
	UnvisitedWeight float64 `yaml:"unvisited_weight" json:"unvisited_weight"`
	RecallWeight    float64 `yaml:"recall_weight" json:"recall_weight"`
}

// Mix configures the daily mix composer.
type Mix struct {
	NewContentRatio   float64 `yaml:"new_content_ratio" json:"new_content_ratio"`
	InterleavingRatio float64 `yaml:"interleaving_ratio" json:"interleaving_ratio"`
	ReviewRatio       float64 `yaml:"review_ratio" json:"review_ratio"`
	MinutesPerItem    int     `yaml:"minutes_per_item" json:"minutes_per_item"`
	DefaultMinutes    int     `yaml:"default_minutes" json:"default_minutes"`
	MaxMinutes        int     `yaml:"max_minutes" json:"max_minutes"`
}

// Default returns the production calibration.
func Default() Policy {
	return Policy{
		SRS: SRS{
			DefaultEase:         2.5,
			MinEase:             1.3,
			MaxEase:             3.0,
			NewCardLadder:       []int{1, 3, 7},
			MaxIntervalDays:     3650,
			InitialStability:    0.5,
			MinStability:        0.1,
			MaxStability:        1.0,
			StabilityGainEasy:   0.15,
			StabilityGainGood:   0.08,
			StabilityGainHard:   0.03,
			StabilityLossFail:   0.15,
			DurableRecallBonus:  0.05,
			DurableIntervalDays: 7,
			LeechThreshold:      8,
			DueSoonWindowDays:   7,
			RecencyPrimary:      1.0,
			RecencyRecent:       0.7,
			RecencyOther:        0.5,
			InitialDifficulty:   0.5,
			FastTimeRatio:       0.8,
			NormalTimeRatio:     1.2,
			LowConfidence:       0.3,
			HeavyHintThreshold:  2,
			ExpectedItemSeconds: 120,
		},
		Band: Band{
			PromotionStreak:        3,
			PromotionCorrectRate:   0.8,
			PromotionMaxHintUsage:  1.0,
			DemotionWindowDays:     3,
			DemotionDifficultDays:  2,
			DemotionMinCorrectRate: 0.5,
			DifficultCorrectRate:   0.5,
			DifficultHintUsage:     1.5,
			SmoothingAlpha:         0.3,
		},
		Gate: Gate{
			StabilityFloor:        0.7,
			StabilitySampleSize:   10,
			MinReviewedCards:      10,
			RetentionSampleSize:   10,
			RetentionDelayDays:    7,
			RetentionMinStability: 0.7,
			CapstoneCompletion:    0.7,
			NeighborWeight:        0.7,
			UnvisitedWeight:       0.2,
			RecallWeight:          0.1,
		},
		Mix: Mix{
			NewContentRatio:   0.6,
			InterleavingRatio: 0.2,
			ReviewRatio:       0.2,
			MinutesPerItem:    2,
			DefaultMinutes:    20,
			MaxMinutes:        180,
		},
	}
}

const ratioTolerance = 1e-6

// Validate checks internal consistency. Any failure is a configuration defect.
func (p Policy) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	s := p.SRS
	check(s.MinEase > 0 && s.MinEase <= s.DefaultEase && s.DefaultEase <= s.MaxEase,
		"srs ease bounds must satisfy 0 < min <= default <= max (got %.2f/%.2f/%.2f)", s.MinEase, s.DefaultEase, s.MaxEase)
	check(len(s.NewCardLadder) > 0, "srs new card ladder must not be empty")
	for i, rung := range s.NewCardLadder {
		check(rung >= 1, "srs ladder rung %d must be at least 1 day", i)
	}
	check(len(s.NewCardLadder) == 0 || s.MaxIntervalDays >= s.NewCardLadder[len(s.NewCardLadder)-1],
		"srs max interval must cover the new card ladder")
	check(s.MinStability > 0 && s.MinStability < s.MaxStability && s.MaxStability <= 1,
		"srs stability bounds must satisfy 0 < min < max <= 1")
	check(s.InitialStability >= s.MinStability && s.InitialStability <= s.MaxStability,
		"srs initial stability must lie within the stability bounds")
	check(s.LeechThreshold >= 1, "srs leech threshold must be positive")
	check(s.DueSoonWindowDays > 0, "srs due-soon window must be positive")
	check(s.FastTimeRatio > 0 && s.FastTimeRatio <= s.NormalTimeRatio, "srs time ratios must satisfy 0 < fast <= normal")
	check(s.ExpectedItemSeconds > 0, "srs expected item seconds must be positive")

	b := p.Band
	check(b.PromotionStreak >= 1, "band promotion streak must be positive")
	check(inUnit(b.PromotionCorrectRate), "band promotion correct rate must be within [0,1]")
	check(b.DemotionWindowDays >= 1, "band demotion window must be positive")
	check(b.DemotionDifficultDays >= 1 && b.DemotionDifficultDays <= b.DemotionWindowDays,
		"band demotion difficult days must lie within the window")
	check(inUnit(b.DemotionMinCorrectRate), "band demotion floor must be within [0,1]")
	check(b.SmoothingAlpha > 0 && b.SmoothingAlpha <= 1, "band smoothing alpha must be within (0,1]")

	g := p.Gate
	check(inUnit(g.StabilityFloor), "gate stability floor must be within [0,1]")
	check(g.StabilitySampleSize >= 1 && g.MinReviewedCards >= 1, "gate sample sizes must be positive")
	check(g.RetentionSampleSize >= 1, "gate retention sample size must be positive")
	check(g.RetentionDelayDays >= 7, "gate retention delay must be at least 7 days")
	check(inUnit(g.CapstoneCompletion), "gate capstone completion must be within [0,1]")
	check(g.NeighborWeight >= 0 && g.UnvisitedWeight >= 0 && g.RecallWeight >= 0, "gate selection weights must be non-negative")
	check(g.NeighborWeight+g.UnvisitedWeight+g.RecallWeight > 0, "gate selection weights must not all be zero")

	m := p.Mix
	sum := m.NewContentRatio + m.InterleavingRatio + m.ReviewRatio
	check(math.Abs(sum-1) < ratioTolerance, "mix ratios must sum to 1 (got %.3f)", sum)
	check(m.NewContentRatio >= 0 && m.InterleavingRatio >= 0 && m.ReviewRatio >= 0, "mix ratios must be non-negative")
	check(m.MinutesPerItem >= 1, "mix minutes per item must be positive")
	check(m.DefaultMinutes >= 1 && m.DefaultMinutes <= m.MaxMinutes, "mix default minutes must lie within (0, max]")

	if len(errs) > 0 {
		return shared.WrapError("policy", "Validate", shared.ErrConfiguration, "invalid policy", errors.Join(errs...))
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
