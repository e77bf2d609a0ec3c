package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keyvault2kube/internal/kube"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/internal/notify"
	"github.com/systmms/keyvault2kube/internal/reconcile"
	"github.com/systmms/keyvault2kube/internal/vault"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestEvents(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name     string
		result   reconcile.Result
		expected []notify.EventType
	}{
		{
			name: "nothing changed",
			result: reconcile.Result{
				Snapshot: reconcile.Snapshot{Sources: 1},
				Outcomes: []reconcile.Outcome{{Secret: "db", Namespace: "apps", Action: secret.ActionSkip}},
			},
			expected: nil,
		},
		{
			name: "secret written",
			result: reconcile.Result{
				Snapshot: reconcile.Snapshot{Sources: 1},
				Outcomes: []reconcile.Outcome{{Secret: "db", Namespace: "apps", Action: secret.ActionCreate, Applied: true}},
			},
			expected: []notify.EventType{notify.EventTypeChanged},
		},
		{
			name: "dry run writes nothing",
			result: reconcile.Result{
				Snapshot: reconcile.Snapshot{Sources: 1},
				Outcomes: []reconcile.Outcome{{Secret: "db", Namespace: "apps", Action: secret.ActionPatch}},
				DryRun:   true,
			},
			expected: nil,
		},
		{
			name: "partial with a write",
			result: reconcile.Result{
				Snapshot: reconcile.Snapshot{Sources: 2, SourceErrors: []reconcile.SourceFailure{{Source: "b", Err: errors.New("denied")}}},
				Outcomes: []reconcile.Outcome{{Secret: "db", Namespace: "apps", Action: secret.ActionPatch, Applied: true}},
			},
			expected: []notify.EventType{notify.EventTypePartial, notify.EventTypeChanged},
		},
		{
			name: "all sources failed",
			result: reconcile.Result{
				Snapshot: reconcile.Snapshot{Sources: 1, SourceErrors: []reconcile.SourceFailure{{Source: "a", Err: errors.New("denied")}}},
			},
			expected: []notify.EventType{notify.EventTypeFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := tt.result
			res.Started = started
			res.Finished = started.Add(time.Second)

			var types []notify.EventType
			for _, ev := range reconcile.Events(&res) {
				types = append(types, ev.Type)
				assert.Equal(t, res.Status(), ev.Status)
				assert.Equal(t, time.Second, ev.Duration)
				if ev.Type == notify.EventTypeChanged {
					assert.Equal(t, []string{"apps/db"}, ev.Secrets)
				} else {
					assert.ErrorContains(t, ev.Error, "denied")
				}
			}
			assert.Equal(t, tt.expected, types)
		})
	}
}

func TestRunnerNotifiesChanges(t *testing.T) {
	t.Parallel()

	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", ""))
	notifier := &recordingNotifier{}

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(newClientset("default")), logging.NewNop())
	runner := reconcile.NewRunner(r, reconcile.RunnerConfig{Once: true, Notifier: notifier}, logging.NewNop(), nil)

	require.NoError(t, runner.Run(context.Background()))
	assert.Equal(t, []notify.EventType{notify.EventTypeChanged}, notifier.types())

	// the second cycle finds nothing to do
	runner.RunCycle(context.Background())
	assert.Len(t, notifier.types(), 1)
	assert.Equal(t, metrics.StatusSuccess, runner.Last().Status())
}
