package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

//go:embed schema.json
var schemaJSON []byte

// Defaults applied before the configuration file and overrides.
const (
	DefaultInterval    = 5 * time.Minute
	DefaultDoneFile    = "/tmp/done"
	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
	DefaultTimeoutMs   = 30000

	// AzureKeyVaultType is the source type created for KEY_VAULT_URLS entries.
	AzureKeyVaultType = "azure.keyvault"
)

// Override keys. Each is also read from KV2KUBE_<KEY> with dashes as underscores.
const (
	KeyInterval         = "interval"
	KeyDoneFile         = "done-file"
	KeyAnnotationPrefix = "annotation-prefix"
	KeyTemplateDir      = "template-dir"
	KeyMetricsEnabled   = "metrics-enabled"
	KeyMetricsPort      = "metrics-port"
	KeyVaultURLs        = "key-vault-urls"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Overrides  *viper.Viper
	Definition *Definition
}

// Definition represents the keyvault2kube.yaml structure
type Definition struct {
	Interval         string             `yaml:"interval,omitempty"`
	DoneFile         string             `yaml:"doneFile,omitempty"`
	AnnotationPrefix string             `yaml:"annotationPrefix,omitempty"`
	TemplateDir      string             `yaml:"templateDir,omitempty"`
	Sources          []SourceConfig     `yaml:"sources,omitempty"`
	Metrics          MetricsConfig      `yaml:"metrics,omitempty"`
	Notifications    NotificationConfig `yaml:"notifications,omitempty"`

	interval time.Duration
}

// SourceConfig holds vault source configuration
type SourceConfig struct {
	Name      string                 `yaml:"name"`
	Type      string                 `yaml:"type"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"`
	Config    map[string]interface{} `yaml:",inline"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// New returns a Config whose overrides read the process environment.
func New(path string, logger *logging.Logger) *Config {
	return &Config{
		Path:      path,
		Logger:    logger,
		Overrides: NewOverrides(),
	}
}

// NewOverrides returns a viper instance bound to the KV2KUBE_* variables and
// KEY_VAULT_URLS. Command flags are bound onto it by the CLI.
func NewOverrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("KV2KUBE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyVaultURLs, "KEY_VAULT_URLS")
	return v
}

// Load reads the optional configuration file, applies overrides and validates
// the result.
func (c *Config) Load() error {
	def := Definition{
		Interval:         DefaultInterval.String(),
		DoneFile:         DefaultDoneFile,
		AnnotationPrefix: secret.DefaultAnnotationPrefix,
		Metrics: MetricsConfig{
			Port: DefaultMetricsPort,
			Path: DefaultMetricsPath,
		},
	}

	if c.Path != "" {
		if err := c.loadFile(&def); err != nil {
			return err
		}
	}

	if c.Overrides != nil {
		if err := applyOverrides(&def, c.Overrides); err != nil {
			return err
		}
	}

	if err := def.validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func (c *Config) loadFile(def *Definition) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return kverrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Pass --config with an existing file or omit it to configure through the environment",
			}
		}
		return kverrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return kverrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if err := validateSchema(raw); err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, def); err != nil {
		return kverrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: err.Error(),
		}
	}
	return nil
}

func validateSchema(raw map[string]interface{}) error {
	if raw == nil {
		return nil
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return kverrors.ConfigError{
			Message:    "schema validation failed:\n  - " + strings.Join(messages, "\n  - "),
			Suggestion: "Compare the file against the documented configuration fields",
		}
	}
	return nil
}

func applyOverrides(def *Definition, v *viper.Viper) error {
	if v.IsSet(KeyInterval) {
		def.Interval = v.GetString(KeyInterval)
	}
	if v.IsSet(KeyDoneFile) {
		def.DoneFile = v.GetString(KeyDoneFile)
	}
	if v.IsSet(KeyAnnotationPrefix) {
		def.AnnotationPrefix = v.GetString(KeyAnnotationPrefix)
	}
	if v.IsSet(KeyTemplateDir) {
		def.TemplateDir = v.GetString(KeyTemplateDir)
	}
	if v.IsSet(KeyMetricsEnabled) {
		def.Metrics.Enabled = v.GetBool(KeyMetricsEnabled)
	}
	if v.IsSet(KeyMetricsPort) {
		def.Metrics.Port = v.GetInt(KeyMetricsPort)
	}

	if urls := v.GetString(KeyVaultURLs); urls != "" {
		sources, err := AzureSourcesFromURLs(urls)
		if err != nil {
			return err
		}
		def.Sources = append(def.Sources, sources...)
	}
	return nil
}

// AzureSourcesFromURLs turns a comma separated list of Key Vault URLs into
// sources. Each source is named after the vault's host.
func AzureSourcesFromURLs(list string) ([]SourceConfig, error) {
	var sources []SourceConfig
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, kverrors.ConfigError{
				Field:      "KEY_VAULT_URLS",
				Value:      raw,
				Message:    "invalid Key Vault URL",
				Suggestion: "Use the format https://<vault-name>.vault.azure.net/",
			}
		}

		sources = append(sources, SourceConfig{
			Name:   strings.SplitN(u.Hostname(), ".", 2)[0],
			Type:   AzureKeyVaultType,
			Config: map[string]interface{}{"vault_url": raw},
		})
	}
	return sources, nil
}

func (d *Definition) validate() error {
	interval, err := time.ParseDuration(d.Interval)
	if err != nil || interval <= 0 {
		return kverrors.ConfigError{
			Field:      "interval",
			Value:      d.Interval,
			Message:    "interval must be a positive duration",
			Suggestion: "Use Go duration syntax such as 30s, 5m or 1h",
		}
	}
	d.interval = interval

	if len(d.Sources) == 0 {
		return kverrors.ConfigError{
			Field:      "sources",
			Message:    "no vault sources configured",
			Suggestion: "Set KEY_VAULT_URLS or add entries under 'sources:' in the configuration file",
		}
	}

	seen := make(map[string]bool, len(d.Sources))
	for i, src := range d.Sources {
		if src.Name == "" || src.Type == "" {
			return kverrors.ConfigError{
				Field:   fmt.Sprintf("sources[%d]", i),
				Message: "name and type are required",
			}
		}
		if seen[src.Name] {
			return kverrors.ConfigError{
				Field:      fmt.Sprintf("sources[%d].name", i),
				Value:      src.Name,
				Message:    "duplicate source name",
				Suggestion: "Give every source a unique name",
			}
		}
		seen[src.Name] = true
	}

	if d.Metrics.Enabled && (d.Metrics.Port <= 0 || d.Metrics.Port > 65535) {
		return kverrors.ConfigError{
			Field:   "metrics.port",
			Value:   d.Metrics.Port,
			Message: "metrics port must be between 1 and 65535",
		}
	}
	return nil
}

// SyncInterval returns the parsed polling interval.
func (d *Definition) SyncInterval() time.Duration {
	if d.interval <= 0 {
		return DefaultInterval
	}
	return d.interval
}

// Timeout returns the per-call timeout for a source
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// String returns a config value or the empty string.
func (s SourceConfig) String(key string) string {
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}
