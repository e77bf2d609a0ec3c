package kube

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/rest"
)

const validKubeconfigYAML = `apiVersion: v1
kind: Config
current-context: test-context
clusters:
- cluster:
    server: https://localhost:6443
  name: test-cluster
contexts:
- context:
    cluster: test-cluster
    user: test-user
  name: test-context
users:
- name: test-user
  user:
    token: fake-token
`

func TestGetConfigFromKubeconfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(validKubeconfigYAML), 0o600))

	config, err := GetConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:6443", config.Host)
	assert.Equal(t, "fake-token", config.BearerToken)

	client, err := NewClient(path)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestGetConfigMissingKubeconfig(t *testing.T) {
	t.Parallel()

	_, err := GetConfig(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load kubeconfig")
}

func TestNewClientWithConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *rest.Config
		errorMsg string
	}{
		{name: "valid config", config: &rest.Config{Host: "https://localhost:6443", BearerToken: "fake-token"}},
		{name: "invalid host URL", config: &rest.Config{Host: "://invalid-url"}, errorMsg: "failed to create kubernetes client"},
		{name: "nil config", config: nil, errorMsg: "config cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClientWithConfig(tt.config)
			if tt.errorMsg != "" {
				require.ErrorContains(t, err, tt.errorMsg)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}
