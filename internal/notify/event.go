// Package notify delivers sync cycle events to Slack and custom webhooks.
package notify

import (
	"time"
)

// EventType represents the kind of sync event.
type EventType string

const (
	// EventTypeChanged indicates at least one secret was created or patched.
	EventTypeChanged EventType = "changed"

	// EventTypePartial indicates a cycle finished with some failures.
	EventTypePartial EventType = "partial"

	// EventTypeFailed indicates no source could be listed.
	EventTypeFailed EventType = "failed"
)

// Event describes the outcome of one sync cycle.
type Event struct {
	Type EventType

	// Status is the cycle status: success, partial or failed.
	Status string

	Created   int
	Patched   int
	Unchanged int
	Failed    int

	// Secrets lists the "namespace/name" pairs that were written.
	Secrets []string

	// Error joins the errors seen in the cycle.
	Error error

	Duration  time.Duration
	Timestamp time.Time
}

// AllEventTypes returns all valid event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeChanged,
		EventTypePartial,
		EventTypeFailed,
	}
}
