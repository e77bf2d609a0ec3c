package vault

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/systmms/keyvault2kube/internal/config"
	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// Source enumerates the eligible entries of one vault.
type Source interface {
	// Name returns the configured source name
	Name() string
	// Type returns the registry type, e.g. "azure.keyvault"
	Type() string
	// List returns every entry tagged with a target secret name. A failure
	// fails the whole listing; callers isolate sources from each other.
	List(ctx context.Context) ([]secret.VaultEntry, error)
}

// Registry manages source creation and registration
type Registry struct {
	factories    map[string]SourceFactory
	descriptions map[string]string
}

// SourceFactory creates a source instance from configuration
type SourceFactory func(cfg config.SourceConfig, logger *logging.Logger) (Source, error)

// NewRegistry creates a new source registry with the built-in vault types
func NewRegistry() *Registry {
	registry := &Registry{
		factories:    make(map[string]SourceFactory),
		descriptions: make(map[string]string),
	}

	registry.RegisterFactory(AzureKeyVaultType, "Azure Key Vault secrets selected by tags", NewAzureKeyVaultSourceFactory)
	registry.RegisterFactory(AWSSecretsManagerType, "AWS Secrets Manager secrets selected by tags", NewAWSSecretsManagerSourceFactory)
	registry.RegisterFactory(GCPSecretManagerType, "GCP Secret Manager secrets selected by labels and annotations", NewGCPSecretManagerSourceFactory)

	return registry
}

// RegisterFactory registers a source factory for a given type
func (r *Registry) RegisterFactory(sourceType, description string, factory SourceFactory) {
	r.factories[sourceType] = factory
	r.descriptions[sourceType] = description
}

// CreateSource creates a source instance from configuration
func (r *Registry) CreateSource(cfg config.SourceConfig, logger *logging.Logger) (Source, error) {
	factory, exists := r.factories[cfg.Type]
	if !exists {
		return nil, kverrors.ConfigError{
			Field:      "sources." + cfg.Name + ".type",
			Value:      cfg.Type,
			Message:    "unknown source type",
			Suggestion: fmt.Sprintf("Supported types: %v", r.GetSupportedTypes()),
		}
	}

	logger = logger.For(logging.Scope{Vault: cfg.Name})
	logger.Debug("Creating %s source with settings %v", cfg.Type, loggableSettings(cfg.Config))
	return factory(cfg, logger)
}

// sensitiveSettings are source settings that hold credentials.
var sensitiveSettings = map[string]bool{
	"client_secret":     true,
	"secret_access_key": true,
}

// loggableSettings copies a source's settings with credentials replaced by
// logging.Secret.
func loggableSettings(settings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		if sensitiveSettings[k] {
			s, _ := v.(string)
			out[k] = logging.Secret(s)
			continue
		}
		out[k] = v
	}
	return out
}

// CreateSources creates every configured source, stopping at the first failure
func (r *Registry) CreateSources(cfgs []config.SourceConfig, logger *logging.Logger) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := r.CreateSource(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// GetSupportedTypes returns the registered source types sorted by name
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for sourceType := range r.factories {
		types = append(types, sourceType)
	}
	sort.Strings(types)
	return types
}

// Describe returns the one-line description of a source type
func (r *Registry) Describe(sourceType string) string {
	return r.descriptions[sourceType]
}

// IsSupported checks if a source type is supported
func (r *Registry) IsSupported(sourceType string) bool {
	_, exists := r.factories[sourceType]
	return exists
}

// callContext bounds one SDK call with the source's timeout.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// TagContentType declares the payload format on vaults without a native
// content type field.
const TagContentType = "k8s_content_type"
