package reconcile

import (
	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/internal/notify"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// Notifier receives cycle events. Notify must not block.
type Notifier interface {
	Notify(event notify.Event)
}

// Events derives the notifications for a finished cycle: one for a partial
// or failed status, and one when secrets were written.
func Events(res *Result) []notify.Event {
	base := notify.Event{
		Status:    res.Status(),
		Created:   res.Count(secret.ActionCreate),
		Patched:   res.Count(secret.ActionPatch),
		Unchanged: res.Count(secret.ActionSkip),
		Failed:    res.Failures(),
		Duration:  res.Duration(),
		Timestamp: res.Finished,
	}

	var events []notify.Event
	switch base.Status {
	case metrics.StatusFailed:
		ev := base
		ev.Type = notify.EventTypeFailed
		ev.Error = res.Err()
		events = append(events, ev)
	case metrics.StatusPartial:
		ev := base
		ev.Type = notify.EventTypePartial
		ev.Error = res.Err()
		events = append(events, ev)
	}

	var written []string
	for _, o := range res.Outcomes {
		if o.Applied && o.Err == nil && (o.Action == secret.ActionCreate || o.Action == secret.ActionPatch) {
			written = append(written, o.Namespace+"/"+o.Secret)
		}
	}
	if len(written) > 0 {
		ev := base
		ev.Type = notify.EventTypeChanged
		ev.Secrets = written
		events = append(events, ev)
	}

	return events
}
