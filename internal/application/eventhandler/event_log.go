package eventhandler

import (
	"context"
	"sort"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

// LoggedEvents are written to the event log. Card-level events are left out:
// a single session produces dozens of them.
var LoggedEvents = []shared.EventType{
	shared.EventLearnerOnboarded,
	shared.EventBandChanged,
	shared.EventDomainGated,
	shared.EventDomainCompleted,
	shared.EventRetentionCheckScheduled,
	shared.EventRetentionCheckCompleted,
	shared.EventCardBecameLeech,
	shared.EventSessionRecorded,
}

// EventLog writes learner milestones to the structured log.
type EventLog struct {
	log *logger.Logger
}

// NewEventLog creates the handler.
func NewEventLog(log *logger.Logger) *EventLog {
	if log == nil {
		log = logger.Nop()
	}
	return &EventLog{log: log.With(logger.Component("event_log"))}
}

// Handle logs the event with its payload flattened into fields.
func (h *EventLog) Handle(_ context.Context, event shared.Event) error {
	payload := event.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]logger.Field, 0, len(keys)+3)
	fields = append(fields,
		logger.String("event_type", string(event.EventType())),
		logger.LearnerID(event.AggregateID()),
		logger.Time("occurred_at", event.OccurredAt()),
	)
	for _, k := range keys {
		fields = append(fields, logger.Any(k, payload[k]))
	}

	h.log.Info("learner event", fields...)
	return nil
}
