package secret_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

func TestMergeDisjointKeys(t *testing.T) {
	t.Parallel()

	user := mustBuild(t, plainEntry("db-user", "database", "username", "app"))
	pass := mustBuild(t, plainEntry("db-pass", "database", "password", "pw"))

	result := secret.Merge([]*secret.Record{user, pass})
	require.Empty(t, result.Errors)
	require.Len(t, result.Records, 1)

	merged := result.Records["database"]
	assert.Equal(t, []string{"password", "username"}, merged.Keys())
	assert.Equal(t, user.Data["username"], merged.Data["username"])
	assert.Equal(t, pass.Data["password"], merged.Data["password"])
	assert.Len(t, merged.Annotations, 6)
	assert.Equal(t, []string{"db-user", "db-pass"}, merged.Sources)
	assert.Len(t, merged.Versions(), 2)
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	t.Parallel()

	user := mustBuild(t, plainEntry("db-user", "database", "username", "app"))
	pass := mustBuild(t, plainEntry("db-pass", "database", "password", "pw"))

	secret.Merge([]*secret.Record{user, pass})

	assert.Equal(t, []string{"username"}, user.Keys())
	assert.Len(t, user.Annotations, 3)
	assert.Equal(t, []string{"db-user"}, user.Sources)
}

func TestMergeOverlappingKeys(t *testing.T) {
	t.Parallel()

	a := mustBuild(t, plainEntry("pass-a", "database", "password", "a"))
	b := mustBuild(t, plainEntry("pass-b", "database", "password", "b"))

	result := secret.Merge([]*secret.Record{a, b})
	assert.NotContains(t, result.Records, "database")
	require.Len(t, result.Errors, 1)
	require.ErrorIs(t, result.Errors[0], secret.ErrIncompatibleMerge)

	var mergeErr *secret.MergeError
	require.True(t, errors.As(result.Errors[0], &mergeErr))
	assert.Equal(t, "database", mergeErr.Target)
	assert.Equal(t, "pass-b", mergeErr.Source)
	assert.Equal(t, "data keys", mergeErr.Field)
	assert.Contains(t, mergeErr.Error(), "password")
}

func TestMergeRejectsSharedProvenance(t *testing.T) {
	t.Parallel()

	sameNameOtherVault := plainEntry("db", "app", "password", "b")
	sameNameOtherVault.Vault = "https://other.vault.azure.net/"
	sameNameOtherVault.Version = "v9"

	sanitizedTwin := plainEntry("team-db", "app", "password", "b")
	sanitizedTwin.Version = "v9"

	tests := []struct {
		name   string
		first  secret.VaultEntry
		second secret.VaultEntry
		shared string
	}{
		{
			name:   "same entry name in two vaults",
			first:  plainEntry("db", "app", "username", "a"),
			second: sameNameOtherVault,
			shared: "secret.db.version",
		},
		{
			name:   "entry names equal after sanitizing",
			first:  plainEntry("team/db", "app", "username", "a"),
			second: sanitizedTwin,
			shared: "secret.team-db.version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := secret.Merge([]*secret.Record{mustBuild(t, tt.first), mustBuild(t, tt.second)})
			assert.NotContains(t, result.Records, "app")
			require.Len(t, result.Errors, 1)
			require.ErrorIs(t, result.Errors[0], secret.ErrIncompatibleMerge)

			var mergeErr *secret.MergeError
			require.ErrorAs(t, result.Errors[0], &mergeErr)
			assert.Equal(t, "annotations", mergeErr.Field)
			assert.Contains(t, mergeErr.Detail, tt.shared)
		})
	}
}

func TestMergeDifferentNamespaces(t *testing.T) {
	t.Parallel()

	a := plainEntry("db-user", "database", "username", "app")
	a.Tags[secret.TagNamespaces] = "apps"
	b := plainEntry("db-pass", "database", "password", "pw")
	b.Tags[secret.TagNamespaces] = "apps,jobs"

	result := secret.Merge([]*secret.Record{mustBuild(t, a), mustBuild(t, b)})
	assert.Empty(t, result.Records)
	require.Len(t, result.Errors, 1)

	var mergeErr *secret.MergeError
	require.True(t, errors.As(result.Errors[0], &mergeErr))
	assert.Equal(t, "namespaces", mergeErr.Field)
}

func TestMergeNamespaceOrderIsIrrelevant(t *testing.T) {
	t.Parallel()

	a := plainEntry("db-user", "database", "username", "app")
	a.Tags[secret.TagNamespaces] = "jobs, apps"
	b := plainEntry("db-pass", "database", "password", "pw")
	b.Tags[secret.TagNamespaces] = "apps,jobs,apps"

	result := secret.Merge([]*secret.Record{mustBuild(t, a), mustBuild(t, b)})
	require.Empty(t, result.Errors)
	assert.Equal(t, secret.Namespaces{"apps", "jobs"}, result.Records["database"].Namespaces)
}

func TestMergeFailureIsolatedToGroup(t *testing.T) {
	t.Parallel()

	records := []*secret.Record{
		mustBuild(t, plainEntry("pass-a", "database", "password", "a")),
		mustBuild(t, plainEntry("cache-url", "cache", "url", "redis://")),
		mustBuild(t, plainEntry("pass-b", "database", "password", "b")),
		mustBuild(t, plainEntry("db-user", "database", "username", "app")),
		mustBuild(t, plainEntry("cache-pass", "cache", "password", "c")),
	}

	result := secret.Merge(records)
	require.Len(t, result.Errors, 1)
	assert.NotContains(t, result.Records, "database")

	require.Contains(t, result.Records, "cache")
	assert.Equal(t, []string{"password", "url"}, result.Records["cache"].Keys())
}

func TestMergeSorted(t *testing.T) {
	t.Parallel()

	result := secret.Merge([]*secret.Record{
		mustBuild(t, plainEntry("z", "zeta", "k", "v")),
		mustBuild(t, plainEntry("a", "alpha", "k", "v")),
		nil,
		mustBuild(t, plainEntry("m", "mu", "k", "v")),
	})

	var names []string
	for _, r := range result.Sorted() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, names)
}
