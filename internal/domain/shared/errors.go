// Package shared holds the identifiers, value objects, events and error kinds
// every domain package builds on. Calendar arithmetic is delegated to
// pkg/timeutil.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is or the Is* helpers below; a
// DomainError carries exactly one of them.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrValidation      = errors.New("validation failed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("empty value")
	ErrValueOutOfRange = errors.New("out of range")

	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("illegal state transition")
	ErrNotYetDue       = errors.New("not yet due")

	// A configuration or invariant error is a bug in the caller or in the
	// tuning. It is reported, never replaced with a default.
	ErrConfiguration      = errors.New("misconfigured")
	ErrInvariantViolation = errors.New("invariant violated")

	ErrConcurrentModification = errors.New("concurrent modification")
	ErrOptimisticLock         = errors.New("stale version")
)

// DomainError is an error kind raised by an operation of a domain package.
// It prints as "domain.Op: message[: cause]".
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	s := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

// Unwrap yields the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err
}

// Is matches the kind first and then the cause, so a wrapped error keeps
// both identities.
func (e *DomainError) Is(target error) bool {
	for _, err := range []error{e.Kind, e.Err} {
		if err != nil && errors.Is(err, target) {
			return true
		}
	}
	return false
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError is NewDomainError with a cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	de := NewDomainError(domain, op, kind, message)
	de.Err = err
	return de
}

var (
	ErrLearnerNotFound      = NewDomainError("learner", "Find", ErrNotFound, "no such learner")
	ErrLearnerAlreadyExists = NewDomainError("learner", "Create", ErrAlreadyExists, "learner is already onboarded")
	ErrInvalidLearnerID     = NewDomainError("learner", "ParseID", ErrInvalidInput, "learner id must be a UUID")

	ErrCardNotFound = NewDomainError("srs", "Find", ErrNotFound, "no such review card")
	ErrInvalidGrade = NewDomainError("srs", "Review", ErrValueOutOfRange, "grade must be between 0 and 5")

	ErrBandStatusNotFound = NewDomainError("band", "Find", ErrNotFound, "learner has no band status")
	ErrUnknownBand        = NewDomainError("band", "ParseBand", ErrConfiguration, "band must be one of A-E")
	ErrUnknownEducation   = NewDomainError("band", "StartingBand", ErrConfiguration, "education level has no starting band")

	ErrDomainStatusNotFound   = NewDomainError("progression", "Find", ErrNotFound, "learner has no status for domain")
	ErrUnknownDomain          = NewDomainError("progression", "Validate", ErrInvalidInput, "unknown domain")
	ErrGateNotMet             = NewDomainError("progression", "Complete", ErrInvariantViolation, "gate requirements not met")
	ErrRetentionCheckNotFound = NewDomainError("progression", "FindRetentionCheck", ErrNotFound, "no such retention check")
	ErrRetentionCheckNotDue   = NewDomainError("progression", "CompleteRetentionCheck", ErrNotYetDue, "retention check is not due yet")
	ErrRetentionCheckDone     = NewDomainError("progression", "CompleteRetentionCheck", ErrInvalidState, "retention check already completed")

	ErrDailyMixNotFound = NewDomainError("dailymix", "Find", ErrNotFound, "no mix stored for that day")
	ErrContentNotFound  = NewDomainError("dailymix", "FindContent", ErrNotFound, "no such content item")
	ErrCacheMiss        = NewDomainError("dailymix", "CacheGet", ErrNotFound, "mix not cached")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation reports bad input from the caller.
func IsValidation(err error) bool {
	return anyKind(err, ErrValidation, ErrInvalidInput, ErrEmptyValue, ErrValueOutOfRange)
}

// IsConfiguration reports a tuning or wiring defect.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

func IsInvariantViolation(err error) bool { return errors.Is(err, ErrInvariantViolation) }

// IsConflict reports an error that a later attempt, or a request made at a
// later time, could avoid.
func IsConflict(err error) bool {
	return anyKind(err, ErrOptimisticLock, ErrConcurrentModification, ErrStateTransition, ErrInvalidState, ErrNotYetDue)
}

func anyKind(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
