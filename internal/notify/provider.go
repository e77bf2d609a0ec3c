package notify

import (
	"context"
	"strings"
)

// Provider delivers events to one destination.
type Provider interface {
	// Name returns the provider name (e.g., "slack", "webhook:ops").
	Name() string

	// Send delivers the event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate(ctx context.Context) error
}

// supportsEvent matches an event type against a configured filter. An empty
// filter accepts every event.
func supportsEvent(filter []string, eventType EventType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, e := range filter {
		if strings.EqualFold(e, string(eventType)) {
			return true
		}
	}
	return false
}
