package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyvault2kube/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "secret is redacted", input: "my-secret-password"},
		{name: "empty secret is still redacted", input: ""},
		{name: "complex secret is redacted", input: "password123!@#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, "[REDACTED]", logging.Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", logging.Secret(tt.input).GoString())
		})
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()

	out := logging.Redact("user=admin password=hunter22 pin=123", []string{"hunter22", "123", ""})
	assert.Equal(t, "user=admin password=[REDACTED] pin=123", out)
}

func TestJSONOutputRedactsSecrets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithOptions(logging.Options{Format: logging.FormatJSON, Output: &buf})

	secretValue := "super-secret-password-12345"
	logger.Info("Retrieved secret: %s", logging.Secret(secretValue))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Retrieved secret: [REDACTED]", entry["msg"])
	assert.Contains(t, entry, "timestamp")
	assert.NotContains(t, buf.String(), secretValue)
}

func TestConsoleOutputWithoutColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithOptions(logging.Options{Format: logging.FormatConsole, NoColor: true, Output: &buf})
	logger.Warn("namespace %s missing", "apps")

	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "namespace apps missing")
	assert.NotContains(t, out, "\x1b[")
}

func TestAutoFormatOnNonTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithOptions(logging.Options{Output: &buf})
	logger.Info("hello")

	assert.True(t, strings.HasPrefix(buf.String(), "{"), "non-terminal output should be JSON")
}

func TestDebugLevel(t *testing.T) {
	t.Parallel()

	var quiet, verbose bytes.Buffer
	logging.NewWithOptions(logging.Options{Format: logging.FormatJSON, Output: &quiet}).Debug("hidden")
	logging.NewWithOptions(logging.Options{Format: logging.FormatJSON, Output: &verbose, Debug: true}).Debug("shown")

	assert.Empty(t, quiet.String())
	assert.Contains(t, verbose.String(), "shown")
}

func TestScopeFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewFromZap(zap.New(core))

	base := logging.Scope{}.WithVault("https://kv.vault.azure.net/")
	scoped := base.WithSecret("database").WithNamespace("apps")

	logger.For(scoped).Info("created")
	logger.For(base).Info("listed")
	logger.For(logging.Scope{}).Info("plain")

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, map[string]interface{}{
		"vault":     "https://kv.vault.azure.net/",
		"secret":    "database",
		"namespace": "apps",
	}, entries[0].ContextMap())
	assert.Equal(t, map[string]interface{}{"vault": "https://kv.vault.azure.net/"}, entries[1].ContextMap())
	assert.Empty(t, entries[2].ContextMap())

	// Deriving a scope never changes the original.
	assert.Empty(t, base.Secret)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]logging.Format{
		"":        logging.FormatAuto,
		"auto":    logging.FormatAuto,
		"JSON":    logging.FormatJSON,
		"console": logging.FormatConsole,
	} {
		got, err := logging.ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := logging.ParseFormat("xml")
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := logging.NewNop()
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Debug("debug message")
	assert.NotNil(t, logger.With("k", "v"))
}
