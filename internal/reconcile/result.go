package reconcile

import (
	"errors"
	"time"

	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// Stage names where a (secret, namespace) pair can fail.
const (
	StageNamespaces = "namespaces"
	StageRead       = "read"
	StageCreate     = "create"
	StagePatch      = "patch"
)

// SourceFailure records a source whose listing failed for the cycle.
type SourceFailure struct {
	Source string
	Err    error
}

func (f SourceFailure) Error() string {
	return "source " + f.Source + ": " + f.Err.Error()
}

func (f SourceFailure) Unwrap() error {
	return f.Err
}

// Snapshot is the desired state computed from every source.
type Snapshot struct {
	Sources      int
	Entries      int
	Records      []*secret.Record
	SourceErrors []SourceFailure
	BuildErrors  []error
	MergeErrors  []error
}

// Outcome is what happened to one secret in one namespace. Namespace is
// empty when the namespace set itself could not be resolved.
type Outcome struct {
	Secret    string
	Namespace string
	Action    secret.Action
	Changed   []string
	Applied   bool
	// MissingNamespace marks a create into a namespace that does not exist.
	MissingNamespace bool
	Stage            string
	Err              error
}

// Failed reports whether the pair failed for this cycle.
func (o Outcome) Failed() bool {
	return o.Err != nil && !o.MissingNamespace
}

// Result summarizes one reconciliation cycle.
type Result struct {
	Snapshot
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
	DryRun   bool
}

// Duration is the wall time the cycle took.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Count returns the number of successful outcomes with the given action.
func (r *Result) Count(action secret.Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil && o.Action == action {
			n++
		}
	}
	return n
}

// Failures returns the number of failed pairs.
func (r *Result) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Status classifies the cycle. A cycle is failed when no source could be
// listed, partial when anything else went wrong.
func (r *Result) Status() string {
	if r.Sources > 0 && len(r.SourceErrors) == r.Sources {
		return metrics.StatusFailed
	}
	if len(r.SourceErrors) > 0 || len(r.BuildErrors) > 0 || len(r.MergeErrors) > 0 || r.Failures() > 0 {
		return metrics.StatusPartial
	}
	return metrics.StatusSuccess
}

// Err joins the source, build and merge errors, or returns nil.
func (s *Snapshot) Err() error {
	return errors.Join(s.errs()...)
}

func (s *Snapshot) errs() []error {
	var errs []error
	for _, f := range s.SourceErrors {
		errs = append(errs, f)
	}
	errs = append(errs, s.BuildErrors...)
	return append(errs, s.MergeErrors...)
}

// Err joins every error seen in the cycle, or returns nil. Creates into a
// missing namespace are not errors.
func (r *Result) Err() error {
	errs := r.Snapshot.errs()
	for _, o := range r.Outcomes {
		if o.Failed() {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
