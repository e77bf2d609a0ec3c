package reconcile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keyvault2kube/internal/kube"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/internal/reconcile"
	"github.com/systmms/keyvault2kube/internal/vault"
)

func TestRunnerOnceTouchesDoneFile(t *testing.T) {
	t.Parallel()

	doneFile := filepath.Join(t.TempDir(), "done")
	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", ""))

	reg := prometheus.NewRegistry()
	m := metrics.NewSyncMetrics(reg)
	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(newClientset("default")), logging.NewNop(),
		reconcile.WithMetrics(m))
	runner := reconcile.NewRunner(r, reconcile.RunnerConfig{Once: true, DoneFile: doneFile}, logging.NewNop(), m)

	require.NoError(t, runner.Run(context.Background()))

	_, err := os.Stat(doneFile)
	require.NoError(t, err)
	require.NotNil(t, runner.Last())
	assert.Equal(t, metrics.StatusSuccess, runner.Last().Status())
	assert.NoError(t, runner.Health())

	expected := `
# HELP keyvault2kube_sync_cycles_total Total number of sync cycles by outcome
# TYPE keyvault2kube_sync_cycles_total counter
keyvault2kube_sync_cycles_total{status="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "keyvault2kube_sync_cycles_total"))
}

func TestRunnerOnceFailure(t *testing.T) {
	t.Parallel()

	doneFile := filepath.Join(t.TempDir(), "done")
	src := &staticSource{name: "primary", err: errors.New("connection refused")}

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(newClientset()), logging.NewNop())
	runner := reconcile.NewRunner(r, reconcile.RunnerConfig{Once: true, DoneFile: doneFile}, logging.NewNop(), nil)

	err := runner.Run(context.Background())
	require.ErrorIs(t, err, reconcile.ErrCycleFailed)
	assert.ErrorContains(t, err, "connection refused")

	_, statErr := os.Stat(doneFile)
	assert.True(t, os.IsNotExist(statErr))
	assert.Error(t, runner.Health())
}

func TestRunnerLoopStopsBetweenCycles(t *testing.T) {
	t.Parallel()

	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", ""))

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(newClientset("default")), logging.NewNop())
	runner := reconcile.NewRunner(r, reconcile.RunnerConfig{Interval: 5 * time.Millisecond}, logging.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return src.Calls() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestRunnerCycleIgnoresCancellation(t *testing.T) {
	t.Parallel()

	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", ""))
	client := newClientset("default")

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop())
	runner := reconcile.NewRunner(r, reconcile.RunnerConfig{Interval: time.Hour}, logging.NewNop(), nil)

	// Cancelled before start: the first cycle still runs to completion
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runner.Run(ctx))

	assert.Equal(t, 1, src.Calls())
	require.NotNil(t, runner.Last())
	assert.Equal(t, 1, runner.Last().Count("create"))
}

func TestRunnerRejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	r := reconcile.NewReconciler(nil, nil, logging.NewNop())
	runner := reconcile.NewRunner(r, reconcile.RunnerConfig{}, logging.NewNop(), nil)
	assert.ErrorContains(t, runner.Run(context.Background()), "interval must be positive")
}

func TestRunnerHealthBeforeFirstCycle(t *testing.T) {
	t.Parallel()

	runner := reconcile.NewRunner(reconcile.NewReconciler(nil, nil, logging.NewNop()), reconcile.RunnerConfig{}, logging.NewNop(), nil)
	assert.Nil(t, runner.Last())
	assert.NoError(t, runner.Health())
}
