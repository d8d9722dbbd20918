package job

import (
	"fmt"
	"slices"
	"time"

	"batchbridge/pkg/cloudevent"
)

// Event types for job status callbacks, one per status.
const (
	EventTypeSubmitted = "batchbridge.job.submitted"
	EventTypeRunning   = "batchbridge.job.running"
	EventTypeSucceeded = "batchbridge.job.succeeded"
	EventTypeFailed    = "batchbridge.job.failed"
	EventTypeAborted   = "batchbridge.job.aborted"
	EventTypeLost      = "batchbridge.job.lost"
)

// EventTypeFor maps a status to its event type. Pending has no event; the
// adapter only announces states the caller can act on.
func EventTypeFor(s Status) string {
	return "batchbridge.job." + string(s)
}

// FilteredEvents returns true if the event type passes the filter.
// An empty filter allows all events.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents for job status transitions.
type EventBuilder struct {
	source  string
	subject string
}

// NewEventBuilder creates an EventBuilder for one job.
func NewEventBuilder(jobID, source string) *EventBuilder {
	return &EventBuilder{source: source, subject: jobID}
}

// BuildStatusEvent creates the event for a status transition.
func (b *EventBuilder) BuildStatusEvent(report StatusReport) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":  b.subject,
		"status": string(report.Status),
	}
	if report.ExternalID != "" {
		data["externalId"] = report.ExternalID
	}
	if report.ExitCode != nil {
		data["exitCode"] = *report.ExitCode
	}
	if report.Reason != "" {
		data["reason"] = report.Reason
	}
	eventID := fmt.Sprintf("%s-%d", b.subject, time.Now().UnixNano())
	return cloudevent.New(EventTypeFor(report.Status), b.source, b.subject, eventID, data)
}
