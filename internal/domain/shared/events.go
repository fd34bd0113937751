// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened to a learner's schedule.
const (
	// Learner events
	EventLearnerOnboarded EventType = "learner.onboarded"

	// SRS events
	EventCardCreated     EventType = "srs.card_created"
	EventCardReviewed    EventType = "srs.card_reviewed"
	EventCardBecameLeech EventType = "srs.card_became_leech"

	// Band events
	EventBandChanged EventType = "band.changed"

	// Progression events
	EventDomainGated             EventType = "progression.domain_gated"
	EventDomainCompleted         EventType = "progression.domain_completed"
	EventRetentionCheckScheduled EventType = "progression.retention_check_scheduled"
	EventRetentionCheckCompleted EventType = "progression.retention_check_completed"

	// Session events
	EventSessionRecorded  EventType = "session.recorded"
	EventDailyMixPrepared EventType = "dailymix.prepared"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Learner Events
// ═══════════════════════════════════════════════════════════════════════════

// LearnerOnboardedEvent is emitted when a learner is registered with a starting band.
type LearnerOnboardedEvent struct {
	BaseEvent
	EducationLevel string `json:"education_level"`
	PrimaryDomain  string `json:"primary_domain"`
	StartingBand   string `json:"starting_band"`
}

// Payload implements Event interface.
func (e LearnerOnboardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"education_level": e.EducationLevel,
		"primary_domain":  e.PrimaryDomain,
		"starting_band":   e.StartingBand,
	}
}

// NewLearnerOnboardedEvent creates a new LearnerOnboardedEvent.
func NewLearnerOnboardedEvent(learnerID, level, primary, band string, at time.Time) LearnerOnboardedEvent {
	return LearnerOnboardedEvent{
		BaseEvent:      NewBaseEvent(EventLearnerOnboarded, learnerID, at),
		EducationLevel: level,
		PrimaryDomain:  primary,
		StartingBand:   band,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// SRS Events
// ═══════════════════════════════════════════════════════════════════════════

// CardReviewedEvent is emitted after a review card was graded and rescheduled.
type CardReviewedEvent struct {
	BaseEvent
	CardID       string    `json:"card_id"`
	Domain       string    `json:"domain"`
	Grade        int       `json:"grade"`
	IntervalDays int       `json:"interval_days"`
	DueDate      time.Time `json:"due_date"`
	Stability    float64   `json:"stability"`
}

// Payload implements Event interface.
func (e CardReviewedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"card_id":       e.CardID,
		"domain":        e.Domain,
		"grade":         e.Grade,
		"interval_days": e.IntervalDays,
		"due_date":      e.DueDate.Format(time.RFC3339),
		"stability":     e.Stability,
	}
}

// NewCardReviewedEvent creates a new CardReviewedEvent.
func NewCardReviewedEvent(learnerID, cardID, domain string, grade, interval int, due time.Time, stability float64, at time.Time) CardReviewedEvent {
	return CardReviewedEvent{
		BaseEvent:    NewBaseEvent(EventCardReviewed, learnerID, at),
		CardID:       cardID,
		Domain:       domain,
		Grade:        grade,
		IntervalDays: interval,
		DueDate:      due,
		Stability:    stability,
	}
}

// CardCreatedEvent is emitted when a content item is completed for the first time.
type CardCreatedEvent struct {
	BaseEvent
	CardID    string `json:"card_id"`
	Domain    string `json:"domain"`
	ContentID string `json:"content_id"`
}

// Payload implements Event interface.
func (e CardCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"card_id":    e.CardID,
		"domain":     e.Domain,
		"content_id": e.ContentID,
	}
}

// NewCardCreatedEvent creates a new CardCreatedEvent.
func NewCardCreatedEvent(learnerID, cardID, domain, contentID string, at time.Time) CardCreatedEvent {
	return CardCreatedEvent{
		BaseEvent: NewBaseEvent(EventCardCreated, learnerID, at),
		CardID:    cardID,
		Domain:    domain,
		ContentID: contentID,
	}
}

// CardBecameLeechEvent is emitted when a card crosses the leech threshold.
type CardBecameLeechEvent struct {
	BaseEvent
	CardID    string `json:"card_id"`
	Domain    string `json:"domain"`
	FailCount int    `json:"fail_count"`
}

// Payload implements Event interface.
func (e CardBecameLeechEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"card_id":    e.CardID,
		"domain":     e.Domain,
		"fail_count": e.FailCount,
	}
}

// NewCardBecameLeechEvent creates a new CardBecameLeechEvent.
func NewCardBecameLeechEvent(learnerID, cardID, domain string, failCount int, at time.Time) CardBecameLeechEvent {
	return CardBecameLeechEvent{
		BaseEvent: NewBaseEvent(EventCardBecameLeech, learnerID, at),
		CardID:    cardID,
		Domain:    domain,
		FailCount: failCount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Band Events
// ═══════════════════════════════════════════════════════════════════════════

// BandChangedEvent is emitted when a learner is promoted or demoted.
type BandChangedEvent struct {
	BaseEvent
	FromBand string `json:"from_band"`
	ToBand   string `json:"to_band"`
	Reason   string `json:"reason"`
}

// Payload implements Event interface.
func (e BandChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_band": e.FromBand,
		"to_band":   e.ToBand,
		"reason":    e.Reason,
	}
}

// NewBandChangedEvent creates a new BandChangedEvent.
func NewBandChangedEvent(learnerID, from, to, reason string, at time.Time) BandChangedEvent {
	return BandChangedEvent{
		BaseEvent: NewBaseEvent(EventBandChanged, learnerID, at),
		FromBand:  from,
		ToBand:    to,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// DomainGatedEvent is emitted when a domain becomes eligible for its capstone.
type DomainGatedEvent struct {
	BaseEvent
	Domain         string  `json:"domain"`
	CompletionRate float64 `json:"completion_rate"`
}

// Payload implements Event interface.
func (e DomainGatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"domain":          e.Domain,
		"completion_rate": e.CompletionRate,
	}
}

// NewDomainGatedEvent creates a new DomainGatedEvent.
func NewDomainGatedEvent(learnerID, domain string, rate float64, at time.Time) DomainGatedEvent {
	return DomainGatedEvent{
		BaseEvent:      NewBaseEvent(EventDomainGated, learnerID, at),
		Domain:         domain,
		CompletionRate: rate,
	}
}

// DomainCompletedEvent is emitted when all four gate criteria hold.
type DomainCompletedEvent struct {
	BaseEvent
	Domain        string `json:"domain"`
	NextSuggested string `json:"next_suggested,omitempty"`
}

// Payload implements Event interface.
func (e DomainCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"domain":         e.Domain,
		"next_suggested": e.NextSuggested,
	}
}

// NewDomainCompletedEvent creates a new DomainCompletedEvent.
func NewDomainCompletedEvent(learnerID, domain, next string, at time.Time) DomainCompletedEvent {
	return DomainCompletedEvent{
		BaseEvent:     NewBaseEvent(EventDomainCompleted, learnerID, at),
		Domain:        domain,
		NextSuggested: next,
	}
}

// RetentionCheckScheduledEvent is emitted when a retention check is created.
type RetentionCheckScheduledEvent struct {
	BaseEvent
	CheckID      string    `json:"check_id"`
	Domain       string    `json:"domain"`
	ScheduledFor time.Time `json:"scheduled_for"`
	SampleSize   int       `json:"sample_size"`
}

// Payload implements Event interface.
func (e RetentionCheckScheduledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"check_id":      e.CheckID,
		"domain":        e.Domain,
		"scheduled_for": e.ScheduledFor.Format(time.RFC3339),
		"sample_size":   e.SampleSize,
	}
}

// NewRetentionCheckScheduledEvent creates a new RetentionCheckScheduledEvent.
func NewRetentionCheckScheduledEvent(learnerID, checkID, domain string, scheduledFor time.Time, sampleSize int, at time.Time) RetentionCheckScheduledEvent {
	return RetentionCheckScheduledEvent{
		BaseEvent:    NewBaseEvent(EventRetentionCheckScheduled, learnerID, at),
		CheckID:      checkID,
		Domain:       domain,
		ScheduledFor: scheduledFor,
		SampleSize:   sampleSize,
	}
}

// RetentionCheckCompletedEvent is emitted when a retention check is evaluated.
type RetentionCheckCompletedEvent struct {
	BaseEvent
	CheckID           string  `json:"check_id"`
	Domain            string  `json:"domain"`
	ObservedStability float64 `json:"observed_stability"`
	Passed            bool    `json:"passed"`
}

// Payload implements Event interface.
func (e RetentionCheckCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"check_id":           e.CheckID,
		"domain":             e.Domain,
		"observed_stability": e.ObservedStability,
		"passed":             e.Passed,
	}
}

// NewRetentionCheckCompletedEvent creates a new RetentionCheckCompletedEvent.
func NewRetentionCheckCompletedEvent(learnerID, checkID, domain string, observed float64, passed bool, at time.Time) RetentionCheckCompletedEvent {
	return RetentionCheckCompletedEvent{
		BaseEvent:         NewBaseEvent(EventRetentionCheckCompleted, learnerID, at),
		CheckID:           checkID,
		Domain:            domain,
		ObservedStability: observed,
		Passed:            passed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionRecordedEvent is emitted after a session's outcomes were applied.
type SessionRecordedEvent struct {
	BaseEvent
	Items       int     `json:"items"`
	CorrectRate float64 `json:"correct_rate"`
	Difficult   bool    `json:"difficult"`
}

// Payload implements Event interface.
func (e SessionRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"items":        e.Items,
		"correct_rate": e.CorrectRate,
		"difficult":    e.Difficult,
	}
}

// NewSessionRecordedEvent creates a new SessionRecordedEvent.
func NewSessionRecordedEvent(learnerID string, items int, correctRate float64, difficult bool, at time.Time) SessionRecordedEvent {
	return SessionRecordedEvent{
		BaseEvent:   NewBaseEvent(EventSessionRecorded, learnerID, at),
		Items:       items,
		CorrectRate: correctRate,
		Difficult:   difficult,
	}
}

// DailyMixPreparedEvent is emitted when a daily mix is composed ahead of time.
type DailyMixPreparedEvent struct {
	BaseEvent
	Date         string `json:"date"`
	TargetBand   string `json:"target_band"`
	TotalMinutes int    `json:"total_minutes"`
	RecoveryDay  bool   `json:"recovery_day"`
}

// Payload implements Event interface.
func (e DailyMixPreparedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"date":          e.Date,
		"target_band":   e.TargetBand,
		"total_minutes": e.TotalMinutes,
		"recovery_day":  e.RecoveryDay,
	}
}

// NewDailyMixPreparedEvent creates a new DailyMixPreparedEvent.
func NewDailyMixPreparedEvent(learnerID, date, band string, minutes int, recovery bool, at time.Time) DailyMixPreparedEvent {
	return DailyMixPreparedEvent{
		BaseEvent:    NewBaseEvent(EventDailyMixPrepared, learnerID, at),
		Date:         date,
		TargetBand:   band,
		TotalMinutes: minutes,
		RecoveryDay:  recovery,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Handler Interface
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all event types.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
