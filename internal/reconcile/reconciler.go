// Package reconcile turns the entries listed from vault sources into
// Kubernetes secrets, one cycle at a time.
package reconcile

import (
	"context"
	"errors"
	"time"

	corev1 "k8s.io/api/core/v1"

	"golang.org/x/sync/errgroup"

	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/kube"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/internal/vault"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// DefaultSourceConcurrency bounds how many sources are listed at once.
const DefaultSourceConcurrency = 4

// ErrNoCluster is returned for every pair when the reconciler was built
// without a cluster.
var ErrNoCluster = errors.New("no cluster configured")

// Cluster is the part of the Kubernetes API the reconciler needs.
// *kube.Cluster implements it.
type Cluster interface {
	ReadSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error)
	ListNamespaces(ctx context.Context) ([]string, error)
	CreateSecret(ctx context.Context, doc *corev1.Secret) error
	PatchSecret(ctx context.Context, doc *corev1.Secret) error
}

// Reconciler runs sync cycles against a fixed set of sources.
type Reconciler struct {
	sources     []vault.Source
	cluster     Cluster
	builder     *secret.Builder
	logger      *logging.Logger
	metrics     *metrics.SyncMetrics
	dryRun      bool
	concurrency int
	now         func() time.Time
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithBuilder sets the builder used to turn entries into records.
func WithBuilder(b *secret.Builder) Option {
	return func(r *Reconciler) {
		r.builder = b
	}
}

// WithMetrics records cycle statistics.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithDryRun plans every pair without writing to the cluster.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

// WithSourceConcurrency limits concurrent source listings.
func WithSourceConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a reconciler. cluster may be nil when only Prepare
// is used.
func NewReconciler(sources []vault.Source, cluster Cluster, logger *logging.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		sources:     sources,
		cluster:     cluster,
		builder:     secret.NewBuilder(),
		logger:      logger,
		concurrency: DefaultSourceConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare lists every source, builds records and merges them. A failing
// source, entry or merge group is reported in the snapshot and skipped.
func (r *Reconciler) Prepare(ctx context.Context) *Snapshot {
	snap := &Snapshot{Sources: len(r.sources)}

	entries, failures := r.collect(ctx)
	snap.Entries = len(entries)
	snap.SourceErrors = failures

	records, buildErrs := r.builder.BuildAll(entries)
	buildErrs = redactErrors(buildErrs, entries)
	snap.BuildErrors = buildErrs
	for _, err := range buildErrs {
		r.logger.Warn("Skipping entry: %v", err)
	}
	r.metrics.RecordBuildErrors(len(buildErrs))

	merged := secret.Merge(records)
	snap.Records = merged.Sorted()
	snap.MergeErrors = merged.Errors
	for _, err := range merged.Errors {
		r.logger.Error("Skipping secret: %v", err)
	}
	r.metrics.RecordMerge(len(snap.Records), len(merged.Errors))

	return snap
}

// collect lists all sources concurrently. Entries keep source order so
// merge results do not depend on scheduling.
func (r *Reconciler) collect(ctx context.Context) ([]secret.VaultEntry, []SourceFailure) {
	listed := make([][]secret.VaultEntry, len(r.sources))
	errs := make([]error, len(r.sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, src := range r.sources {
		g.Go(func() error {
			log := r.logger.For(logging.Scope{Vault: src.Name()})
			entries, err := src.List(ctx)
			if err != nil {
				// Listing errors stay local to the source.
				if kverrors.IsRetryable(err) {
					log.Warn("Failed to list source, retrying next cycle: %v", err)
				} else {
					log.Error("Failed to list source: %v", err)
				}
				r.metrics.RecordSourceError(src.Name())
				errs[i] = err
				return nil
			}
			log.Debug("Listed %d tagged entries", len(entries))
			r.metrics.RecordSourceListed(src.Name(), len(entries))
			listed[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	var entries []secret.VaultEntry
	var failures []SourceFailure
	for i, src := range r.sources {
		if errs[i] != nil {
			failures = append(failures, SourceFailure{Source: src.Name(), Err: errs[i]})
			continue
		}
		entries = append(entries, listed[i]...)
	}
	return entries, failures
}

// redactedError hides secret values quoted by a decoder while keeping the
// wrapped error for errors.Is.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redactErrors strips entry values from build errors before they are logged
// or reported.
func redactErrors(errs []error, entries []secret.VaultEntry) []error {
	if len(errs) == 0 {
		return errs
	}
	values := make([]string, 0, len(entries))
	for _, e := range entries {
		values = append(values, e.Value)
	}
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		msg := logging.Redact(err.Error(), values)
		if msg == err.Error() {
			out = append(out, err)
			continue
		}
		out = append(out, &redactedError{msg: msg, err: err})
	}
	return out
}

// Reconcile runs one full cycle: prepare the desired state, then plan and
// apply every (secret, namespace) pair. Pair failures are isolated.
func (r *Reconciler) Reconcile(ctx context.Context) *Result {
	res := &Result{Started: r.now(), DryRun: r.dryRun}
	res.Snapshot = *r.Prepare(ctx)

	for _, record := range res.Records {
		res.Outcomes = append(res.Outcomes, r.reconcileRecord(ctx, record)...)
	}

	res.Finished = r.now()
	return res
}

func (r *Reconciler) reconcileRecord(ctx context.Context, record *secret.Record) []Outcome {
	scope := logging.Scope{Secret: record.Name}

	var lister secret.NamespaceLister
	if r.cluster != nil {
		lister = r.cluster
	}
	namespaces, err := secret.ExpandNamespaces(ctx, record, lister)
	if err != nil {
		r.logger.For(scope).Error("Failed to resolve namespaces: %v", err)
		r.metrics.RecordActionFailure(StageNamespaces)
		return []Outcome{{Secret: record.Name, Stage: StageNamespaces, Err: err}}
	}

	outcomes := make([]Outcome, 0, len(namespaces))
	for _, ns := range namespaces {
		outcomes = append(outcomes, r.reconcilePair(ctx, record, ns, scope.WithNamespace(ns)))
	}
	return outcomes
}

func (r *Reconciler) reconcilePair(ctx context.Context, record *secret.Record, namespace string, scope logging.Scope) Outcome {
	log := r.logger.For(scope)
	out := Outcome{Secret: record.Name, Namespace: namespace}
	if r.cluster == nil {
		out.Stage, out.Err = StageRead, ErrNoCluster
		return out
	}

	current, err := r.cluster.ReadSecret(ctx, namespace, record.Name)
	if err != nil && !errors.Is(err, kube.ErrNotFound) {
		log.Error("Failed to read secret: %v", err)
		r.metrics.RecordActionFailure(StageRead)
		out.Stage, out.Err = StageRead, err
		return out
	}

	decision := secret.Plan(record, namespace, current)
	out.Action = decision.Action
	out.Changed = decision.Changed

	if decision.Action == secret.ActionSkip {
		log.Debug("Secret is up to date")
		r.metrics.RecordAction(string(decision.Action))
		return out
	}
	if r.dryRun {
		log.Info("Would %s secret", decision.Action)
		return out
	}

	switch decision.Action {
	case secret.ActionCreate:
		err = r.cluster.CreateSecret(ctx, decision.Document)
		if errors.Is(err, kube.ErrNotFound) {
			log.Warn("Namespace does not exist, secret not created")
			out.Stage, out.Err, out.MissingNamespace = StageCreate, err, true
			return out
		}
		out.Stage = StageCreate
	case secret.ActionPatch:
		err = r.cluster.PatchSecret(ctx, decision.Document)
		out.Stage = StagePatch
	}

	if err != nil {
		log.Error("Failed to %s secret: %v", decision.Action, err)
		r.metrics.RecordActionFailure(out.Stage)
		out.Err = err
		return out
	}

	out.Stage = ""
	out.Applied = true
	r.metrics.RecordAction(string(decision.Action))
	if decision.Action == secret.ActionPatch {
		log.Info("Patched secret (changed: %v)", decision.Changed)
	} else {
		log.Info("Created secret")
	}
	return out
}
