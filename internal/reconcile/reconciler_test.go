package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/systmms/keyvault2kube/internal/kube"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/internal/reconcile"
	"github.com/systmms/keyvault2kube/internal/vault"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// staticSource serves a fixed, replaceable listing.
type staticSource struct {
	name string

	mu      sync.Mutex
	entries []secret.VaultEntry
	err     error
	calls   int
}

func (s *staticSource) Name() string { return s.name }
func (s *staticSource) Type() string { return "static" }

func (s *staticSource) List(ctx context.Context) ([]secret.VaultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]secret.VaultEntry(nil), s.entries...), nil
}

func (s *staticSource) set(entries ...secret.VaultEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}

func (s *staticSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ vault.Source = (*staticSource)(nil)

var updated = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func entry(name, value, version string, tags map[string]string) secret.VaultEntry {
	return secret.VaultEntry{
		Name:    name,
		Value:   value,
		Version: version,
		Vault:   "https://test.vault.azure.net/",
		Updated: updated,
		Tags:    tags,
	}
}

func dbEntry(version, namespaces string) secret.VaultEntry {
	return entry("db-password", "s3cret", version, map[string]string{
		secret.TagSecretName: "database",
		secret.TagSecretKey:  "password",
		secret.TagNamespaces: namespaces,
	})
}

func namespace(name string) runtime.Object {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func newClientset(namespaces ...string) *fake.Clientset {
	objs := make([]runtime.Object, 0, len(namespaces))
	for _, ns := range namespaces {
		objs = append(objs, namespace(ns))
	}
	return fake.NewSimpleClientset(objs...)
}

func getSecret(t *testing.T, client *fake.Clientset, ns, name string) *corev1.Secret {
	t.Helper()
	s, err := client.CoreV1().Secrets(ns).Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	return s
}

func TestReconcileLifecycle(t *testing.T) {
	t.Parallel()

	client := newClientset("apps", "jobs")
	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", "apps,jobs"))

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop())

	// First cycle creates the secret in both namespaces
	res := r.Reconcile(context.Background())
	require.NoError(t, res.Err())
	assert.Equal(t, metrics.StatusSuccess, res.Status())
	assert.Equal(t, 2, res.Count(secret.ActionCreate))
	for _, ns := range []string{"apps", "jobs"} {
		s := getSecret(t, client, ns, "database")
		assert.Equal(t, []byte("s3cret"), s.Data["password"])
		assert.Equal(t, corev1.SecretTypeOpaque, s.Type)
		assert.Equal(t, "1", s.Annotations["keyvault2kube.systmms.io/secret.db-password.version"])
	}

	// Unchanged versions are skipped
	res = r.Reconcile(context.Background())
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Count(secret.ActionSkip))
	assert.Zero(t, res.Count(secret.ActionCreate))

	// A new version is patched in place
	changed := dbEntry("2", "apps,jobs")
	changed.Value = "rotated"
	src.set(changed)

	res = r.Reconcile(context.Background())
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Count(secret.ActionPatch))
	for _, o := range res.Outcomes {
		assert.True(t, o.Applied)
		assert.Equal(t, []string{"keyvault2kube.systmms.io/secret.db-password.version"}, o.Changed)
	}
	s := getSecret(t, client, "apps", "database")
	assert.Equal(t, []byte("rotated"), s.Data["password"])
	assert.Equal(t, "2", s.Annotations["keyvault2kube.systmms.io/secret.db-password.version"])
}

func TestReconcilePatchKeepsForeignKeys(t *testing.T) {
	t.Parallel()

	client := newClientset("default")
	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", ""))
	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop())

	require.NoError(t, r.Reconcile(context.Background()).Err())

	live := getSecret(t, client, "default", "database")
	live.Data["extra"] = []byte("kept")
	_, err := client.CoreV1().Secrets("default").Update(context.Background(), live, metav1.UpdateOptions{})
	require.NoError(t, err)

	src.set(dbEntry("2", ""))
	res := r.Reconcile(context.Background())
	require.NoError(t, res.Err())
	assert.Equal(t, 1, res.Count(secret.ActionPatch))

	live = getSecret(t, client, "default", "database")
	assert.Equal(t, []byte("kept"), live.Data["extra"])
	assert.Equal(t, []byte("s3cret"), live.Data["password"])
}

func TestReconcileAllNamespaces(t *testing.T) {
	t.Parallel()

	client := newClientset("default", "apps", "kube-system")
	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", "*"))

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop())
	res := r.Reconcile(context.Background())
	require.NoError(t, res.Err())

	var namespaces []string
	for _, o := range res.Outcomes {
		namespaces = append(namespaces, o.Namespace)
	}
	assert.Equal(t, []string{"apps", "default", "kube-system"}, namespaces)
}

func TestReconcileIsolatesSourceFailures(t *testing.T) {
	t.Parallel()

	client := newClientset("default")
	good := &staticSource{name: "good"}
	good.set(dbEntry("1", ""))
	bad := &staticSource{name: "bad", err: errors.New("403 Forbidden")}

	r := reconcile.NewReconciler([]vault.Source{bad, good}, kube.NewCluster(client), logging.NewNop())
	res := r.Reconcile(context.Background())

	assert.Equal(t, metrics.StatusPartial, res.Status())
	require.Len(t, res.SourceErrors, 1)
	assert.Equal(t, "bad", res.SourceErrors[0].Source)
	assert.ErrorContains(t, res.Err(), "source bad: 403 Forbidden")
	assert.Equal(t, 1, res.Count(secret.ActionCreate))
	getSecret(t, client, "default", "database")
}

func TestReconcileAllSourcesFailing(t *testing.T) {
	t.Parallel()

	r := reconcile.NewReconciler([]vault.Source{
		&staticSource{name: "a", err: errors.New("timeout")},
		&staticSource{name: "b", err: errors.New("timeout")},
	}, kube.NewCluster(newClientset()), logging.NewNop())

	res := r.Reconcile(context.Background())
	assert.Equal(t, metrics.StatusFailed, res.Status())
	assert.Len(t, res.SourceErrors, 2)
	assert.Empty(t, res.Outcomes)
}

func TestReconcileBuildAndMergeErrors(t *testing.T) {
	t.Parallel()

	client := newClientset("default")
	src := &staticSource{name: "primary"}
	src.set(
		dbEntry("1", ""),
		// same key into the same secret
		entry("db-password-copy", "other", "1", map[string]string{
			secret.TagSecretName: "database",
			secret.TagSecretKey:  "password",
		}),
		// neither key nor content type
		entry("shapeless", "x", "1", map[string]string{secret.TagSecretName: "loose"}),
		entry("api-token", "tok", "1", map[string]string{
			secret.TagSecretName: "api",
			secret.TagSecretKey:  "token",
		}),
	)

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop())
	res := r.Reconcile(context.Background())

	assert.Equal(t, metrics.StatusPartial, res.Status())
	require.Len(t, res.BuildErrors, 1)
	assert.ErrorIs(t, res.BuildErrors[0], secret.ErrAmbiguousSecretShape)
	require.Len(t, res.MergeErrors, 1)
	assert.ErrorIs(t, res.MergeErrors[0], secret.ErrIncompatibleMerge)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "api", res.Records[0].Name)
	getSecret(t, client, "default", "api")
	_, err := client.CoreV1().Secrets("default").Get(context.Background(), "database", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestPrepareRedactsValuesInBuildErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	bad := entry("db-config", "hunter22", "1", map[string]string{secret.TagSecretName: "database"})
	bad.ContentType = secret.ContentTypeYAML

	src := &staticSource{name: "primary"}
	src.set(bad)

	r := reconcile.NewReconciler([]vault.Source{src}, nil, logging.NewFromZap(zap.New(core)))
	snap := r.Prepare(context.Background())

	require.Len(t, snap.BuildErrors, 1)
	assert.ErrorIs(t, snap.BuildErrors[0], secret.ErrMalformedContent)
	assert.NotContains(t, snap.BuildErrors[0].Error(), "hunter22")
	assert.NotContains(t, snap.Err().Error(), "hunter22")

	warnings := logs.FilterMessageSnippet("Skipping entry").All()
	require.Len(t, warnings, 1)
	assert.NotContains(t, warnings[0].Message, "hunter22")
	assert.Contains(t, warnings[0].Message, "db-config")
}

func TestPrepareLogLevelFollowsSourceFailureKind(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	transient := &staticSource{name: "flaky", err: errors.New("read tcp: connection reset by peer")}
	denied := &staticSource{name: "locked", err: errors.New("403 Forbidden")}

	r := reconcile.NewReconciler([]vault.Source{transient, denied}, nil, logging.NewFromZap(zap.New(core)))
	snap := r.Prepare(context.Background())
	require.Len(t, snap.SourceErrors, 2)

	retrying := logs.FilterMessageSnippet("retrying next cycle").All()
	require.Len(t, retrying, 1)
	assert.Equal(t, zapcore.WarnLevel, retrying[0].Level)
	assert.Contains(t, retrying[0].Message, "connection reset")

	failed := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Message, "403 Forbidden")
}

func TestReconcileMissingNamespaceIsWarning(t *testing.T) {
	t.Parallel()

	client := newClientset("apps")
	client.PrependReactor("create", "secrets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetNamespace() == "gone" {
			return true, nil, apierrors.NewNotFound(schema.GroupResource{Resource: "namespaces"}, "gone")
		}
		return false, nil, nil
	})

	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", "apps,gone"))

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop())
	res := r.Reconcile(context.Background())

	assert.NoError(t, res.Err())
	assert.Equal(t, metrics.StatusSuccess, res.Status())
	require.Len(t, res.Outcomes, 2)
	assert.True(t, res.Outcomes[1].MissingNamespace)
	assert.Equal(t, "gone", res.Outcomes[1].Namespace)
	assert.Zero(t, res.Failures())
	assert.Equal(t, 1, res.Count(secret.ActionCreate))
}

func TestReconcileIsolatesPairFailures(t *testing.T) {
	t.Parallel()

	client := newClientset("apps", "jobs")
	client.PrependReactor("get", "secrets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetNamespace() == "apps" {
			return true, nil, apierrors.NewInternalError(errors.New("etcd unavailable"))
		}
		return false, nil, nil
	})

	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", "apps,jobs"))

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop())
	res := r.Reconcile(context.Background())

	assert.Equal(t, metrics.StatusPartial, res.Status())
	assert.Equal(t, 1, res.Failures())
	assert.Equal(t, reconcile.StageRead, res.Outcomes[0].Stage)
	assert.ErrorIs(t, res.Outcomes[0].Err, kube.ErrTransient)
	assert.True(t, res.Outcomes[1].Applied)
	getSecret(t, client, "jobs", "database")
}

func TestReconcileDryRun(t *testing.T) {
	t.Parallel()

	client := newClientset("default")
	src := &staticSource{name: "primary"}
	src.set(dbEntry("1", ""))

	r := reconcile.NewReconciler([]vault.Source{src}, kube.NewCluster(client), logging.NewNop(), reconcile.WithDryRun(true))
	res := r.Reconcile(context.Background())

	require.NoError(t, res.Err())
	assert.True(t, res.DryRun)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, secret.ActionCreate, res.Outcomes[0].Action)
	assert.False(t, res.Outcomes[0].Applied)

	_, err := client.CoreV1().Secrets("default").Get(context.Background(), "database", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestPrepareWithoutCluster(t *testing.T) {
	t.Parallel()

	a := &staticSource{name: "a"}
	a.set(dbEntry("1", "apps"))
	b := &staticSource{name: "b"}
	b.set(entry("api-token", "tok", "1", map[string]string{
		secret.TagSecretName: "api",
		secret.TagSecretKey:  "token",
	}))

	r := reconcile.NewReconciler([]vault.Source{a, b}, nil, logging.NewNop(),
		reconcile.WithBuilder(secret.NewBuilder(secret.WithAnnotationPrefix("example.com"))),
		reconcile.WithSourceConcurrency(1))
	snap := r.Prepare(context.Background())

	assert.Equal(t, 2, snap.Sources)
	assert.Equal(t, 2, snap.Entries)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "api", snap.Records[0].Name)
	assert.Equal(t, "database", snap.Records[1].Name)
	assert.Contains(t, snap.Records[1].Annotations, "example.com/secret.db-password.version")

	res := r.Reconcile(context.Background())
	assert.Equal(t, 2, res.Failures())
	assert.ErrorIs(t, res.Err(), reconcile.ErrNoCluster)
}
