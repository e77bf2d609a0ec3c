package secret

import (
	"slices"

	corev1 "k8s.io/api/core/v1"
)

// Action is what reconciliation does with one secret in one namespace.
type Action string

const (
	ActionCreate Action = "create"
	ActionPatch  Action = "patch"
	ActionSkip   Action = "skip"
)

// Decision is the outcome of planning one record against one namespace.
// Document is nil when the action is ActionSkip.
type Decision struct {
	Action    Action
	Name      string
	Namespace string
	Document  *corev1.Secret
	// Changed lists the version annotations that differ from the cluster.
	Changed []string
}

// Plan compares the desired record with the secret currently in namespace.
// A nil current secret means it does not exist. Only source version
// annotations are compared; data is never diffed.
func Plan(record *Record, namespace string, current *corev1.Secret) Decision {
	d := Decision{Name: record.Name, Namespace: namespace}

	if current == nil {
		d.Action = ActionCreate
		d.Document = Render(record, namespace)
		return d
	}

	existing := current.GetAnnotations()
	for key, want := range record.Versions() {
		got, ok := existing[key]
		if !ok || got != want {
			d.Changed = append(d.Changed, key)
		}
	}

	if len(d.Changed) == 0 {
		d.Action = ActionSkip
		return d
	}

	slices.Sort(d.Changed)
	d.Action = ActionPatch
	d.Document = Render(record, namespace)
	return d
}
