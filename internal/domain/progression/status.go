// Package progression tracks per-domain completion and enforces the four-part
// gate a learner must pass before a domain counts as completed.
package progression

import (
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// State is the lifecycle state of a domain for one learner.
type State string

const (
	StateLocked    State = "locked"
	StateActive    State = "active"
	StateGated     State = "gated"
	StateCompleted State = "completed"
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateLocked, StateActive, StateGated, StateCompleted:
		return true
	}
	return false
}

// GateProgress records the four gate criteria individually.
type GateProgress struct {
	MiniOSCEPassed         bool `json:"mini_osce_passed"`
	RetentionCheckPassed   bool `json:"retention_check_passed"`
	SRSCardsStable         bool `json:"srs_cards_stable"`
	ComplicationCasePassed bool `json:"complication_case_passed"`
}

// AllPassed reports whether every criterion holds.
func (g GateProgress) AllPassed() bool {
	return g.MiniOSCEPassed && g.RetentionCheckPassed && g.SRSCardsStable && g.ComplicationCasePassed
}

// Missing lists the criteria that do not hold yet.
func (g GateProgress) Missing() []string {
	var out []string
	if !g.MiniOSCEPassed {
		out = append(out, "mini_osce")
	}
	if !g.RetentionCheckPassed {
		out = append(out, "retention_check")
	}
	if !g.SRSCardsStable {
		out = append(out, "srs_stability")
	}
	if !g.ComplicationCasePassed {
		out = append(out, "complication_case")
	}
	return out
}

// Status is the progression record of one domain for one learner.
type Status struct {
	LearnerID      string
	Domain         topic.Domain
	State          State
	ItemsCompleted int
	TotalItems     int
	Gate           GateProgress
	UnlockedAt     *time.Time
	CompletedAt    *time.Time
	NextSuggested  topic.Domain
	Version        int
	UpdatedAt      time.Time
}

// CompletionRate is items completed over total items, 0 when the total is unknown.
func (s Status) CompletionRate() float64 {
	if s.TotalItems <= 0 {
		return 0
	}
	return min(float64(s.ItemsCompleted)/float64(s.TotalItems), 1)
}

// IsOpen reports whether new content from the domain may be served.
func (s Status) IsOpen() bool {
	return s.State == StateActive || s.State == StateGated
}

// InitialStatuses creates one status per domain. Only primary starts active.
func InitialStatuses(learnerID string, primary topic.Domain, totals map[topic.Domain]int, now time.Time) ([]Status, error) {
	if !primary.IsValid() {
		return nil, shared.ErrUnknownDomain
	}

	out := make([]Status, 0, len(topic.All()))
	for _, d := range topic.All() {
		s := Status{
			LearnerID:  learnerID,
			Domain:     d,
			State:      StateLocked,
			TotalItems: totals[d],
			UpdatedAt:  now,
		}
		if d == primary {
			s.State = StateActive
			at := now
			s.UnlockedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}

func transitionError(op string, s Status, to State) error {
	return shared.NewDomainError("progression", op, shared.ErrStateTransition,
		fmt.Sprintf("domain %s cannot move from %s to %s", s.Domain, s.State, to))
}

// Unlock opens a locked domain.
func Unlock(s Status, now time.Time) (Status, error) {
	if s.State != StateLocked {
		return s, transitionError("Unlock", s, StateActive)
	}
	s.State = StateActive
	at := now
	s.UnlockedAt = &at
	s.UpdatedAt = now
	return s, nil
}

// RecordItems adds completed content items, capped at the domain total when known.
func RecordItems(s Status, n int, now time.Time) Status {
	if n <= 0 {
		return s
	}
	s.ItemsCompleted += n
	if s.TotalItems > 0 && s.ItemsCompleted > s.TotalItems {
		s.ItemsCompleted = s.TotalItems
	}
	s.UpdatedAt = now
	return s
}

// GateEvent is an externally assessed gate criterion.
type GateEvent string

const (
	EventMiniOSCEPassed         GateEvent = "mini_osce_passed"
	EventComplicationCasePassed GateEvent = "complication_case_passed"
)

// IsValid reports whether e is a known gate event.
func (e GateEvent) IsValid() bool {
	return e == EventMiniOSCEPassed || e == EventComplicationCasePassed
}

// RecordGateEvent sets the flag for an assessed criterion taken at band at.
// The mini-OSCE is the capstone and is only accepted once the domain is
// gated. A complication case counts only when passed at the hardest band.
func RecordGateEvent(s Status, ev GateEvent, at band.Band, now time.Time) (Status, error) {
	switch ev {
	case EventMiniOSCEPassed:
		if s.State != StateGated {
			return s, shared.NewDomainError("progression", "RecordGateEvent", shared.ErrInvalidState,
				fmt.Sprintf("capstone for %s is not open in state %s", s.Domain, s.State))
		}
		s.Gate.MiniOSCEPassed = true
	case EventComplicationCasePassed:
		if !s.IsOpen() {
			return s, shared.NewDomainError("progression", "RecordGateEvent", shared.ErrInvalidState,
				fmt.Sprintf("domain %s is %s", s.Domain, s.State))
		}
		if at < band.Highest {
			return s, shared.NewDomainError("progression", "RecordGateEvent", shared.ErrInvariantViolation,
				fmt.Sprintf("complication case passed at band %s, needs %s", at, band.Highest))
		}
		s.Gate.ComplicationCasePassed = true
	default:
		return s, shared.NewDomainError("progression", "RecordGateEvent", shared.ErrInvalidInput, "unknown gate event "+string(ev))
	}
	s.UpdatedAt = now
	return s, nil
}
