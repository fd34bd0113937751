package srs

// Behavior is the raw telemetry of one answered item.
type Behavior struct {
	Correct   bool
	HintsUsed int
	// TimeRatio is actual time divided by the item's expected time.
	TimeRatio float64
	// Confidence is in [0,1].
	Confidence float64
}

// BehaviorToGrade translates session telemetry into a recall grade.
func (e *Engine) BehaviorToGrade(b Behavior) Grade {
	p := e.policy

	if !b.Correct {
		switch {
		case b.Confidence < p.LowConfidence:
			return GradeBlackout
		case b.HintsUsed >= p.HeavyHintThreshold:
			return GradeWrong
		default:
			return GradeHard
		}
	}

	switch {
	case b.HintsUsed == 0 && b.TimeRatio < p.FastTimeRatio:
		return GradePerfect
	case b.HintsUsed <= 1 && b.TimeRatio < p.NormalTimeRatio:
		return GradeEasy
	default:
		return GradeGood
	}
}

// TimeRatio converts seconds spent into a ratio against the expected time.
// A non-positive expectation falls back to the policy default.
func (e *Engine) TimeRatio(timeSpentSeconds, expectedSeconds int) float64 {
	if expectedSeconds <= 0 {
		expectedSeconds = e.policy.ExpectedItemSeconds
	}
	if timeSpentSeconds <= 0 {
		return 0
	}
	return float64(timeSpentSeconds) / float64(expectedSeconds)
}

// InferConfidence estimates confidence when the session runner does not
// report one: correct answers start high, each hint and a slow answer
// lower it.
func InferConfidence(correct bool, hintsUsed int, timeRatio float64) float64 {
	c := 0.5
	if correct {
		c = 1.0
	}
	c -= 0.2 * float64(max(hintsUsed, 0))
	if timeRatio > 1.5 {
		c -= 0.2
	}
	return clamp(c, 0, 1)
}
