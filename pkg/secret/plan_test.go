package secret_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

const versionKey = "keyvault2kube.systmms.io/secret.db-pass.version"

func TestPlanCreateWhenAbsent(t *testing.T) {
	t.Parallel()

	record := mustBuild(t, plainEntry("db-pass", "database", "password", "pw"))

	d := secret.Plan(record, "apps", nil)
	assert.Equal(t, secret.ActionCreate, d.Action)
	assert.Equal(t, "database", d.Name)
	assert.Equal(t, "apps", d.Namespace)
	require.NotNil(t, d.Document)
	assert.Equal(t, "apps", d.Document.Namespace)
	assert.Equal(t, []byte("pw"), d.Document.Data["password"])
}

func TestPlanVersionComparison(t *testing.T) {
	t.Parallel()

	record := mustBuild(t, plainEntry("db-pass", "database", "password", "pw"))

	tests := []struct {
		name        string
		annotations map[string]string
		want        secret.Action
		wantChanged []string
	}{
		{
			name:        "same version",
			annotations: map[string]string{versionKey: "v1"},
			want:        secret.ActionSkip,
		},
		{
			name: "same version, other annotations differ",
			annotations: map[string]string{
				versionKey: "v1",
				"keyvault2kube.systmms.io/secret.db-pass.last_updated": "1999-01-01T00:00:00Z",
				"unrelated": "x",
			},
			want: secret.ActionSkip,
		},
		{
			name:        "different version",
			annotations: map[string]string{versionKey: "v0"},
			want:        secret.ActionPatch,
			wantChanged: []string{versionKey},
		},
		{
			name:        "version annotation missing",
			annotations: map[string]string{"unrelated": "x"},
			want:        secret.ActionPatch,
			wantChanged: []string{versionKey},
		},
		{
			name:        "no annotations",
			annotations: nil,
			want:        secret.ActionPatch,
			wantChanged: []string{versionKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := secret.Render(record, "default")
			current.Annotations = tt.annotations

			d := secret.Plan(record, "default", current)
			assert.Equal(t, tt.want, d.Action)
			assert.Equal(t, tt.wantChanged, d.Changed)
			if tt.want == secret.ActionSkip {
				assert.Nil(t, d.Document)
			} else {
				require.NotNil(t, d.Document)
				assert.Equal(t, record.Annotations, d.Document.Annotations)
			}
		})
	}
}

func TestPlanMergedRecordPatchesWhenOneSourceMoves(t *testing.T) {
	t.Parallel()

	result := secret.Merge([]*secret.Record{
		mustBuild(t, plainEntry("db-user", "database", "username", "app")),
		mustBuild(t, plainEntry("db-pass", "database", "password", "pw")),
	})
	record := result.Records["database"]

	current := secret.Render(record, "default")
	assert.Equal(t, secret.ActionSkip, secret.Plan(record, "default", current).Action)

	current.Annotations[versionKey] = "v0"
	d := secret.Plan(record, "default", current)
	assert.Equal(t, secret.ActionPatch, d.Action)
	assert.Equal(t, []string{versionKey}, d.Changed)
}
