package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/keyvault2kube/internal/config"
	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// AzureKeyVaultType is the registry type of Azure Key Vault sources.
const AzureKeyVaultType = config.AzureKeyVaultType

// AzureKeyVaultClientAPI defines the interface for Azure Key Vault operations
// This allows for mocking in tests
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
}

// AzureKeyVaultSource lists tagged secrets from one Key Vault
type AzureKeyVaultSource struct {
	name     string
	client   AzureKeyVaultClientAPI
	logger   *logging.Logger
	config   AzureKeyVaultConfig
	vaultURL string
	timeout  time.Duration
}

// AzureKeyVaultConfig holds Azure Key Vault-specific configuration
type AzureKeyVaultConfig struct {
	VaultURL           string
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string // For user-assigned managed identity
}

// AzureSourceOption is a functional option for configuring Azure sources
type AzureSourceOption func(*AzureKeyVaultSource)

// WithAzureKeyVaultClient sets a custom Azure Key Vault client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureSourceOption {
	return func(s *AzureKeyVaultSource) {
		s.client = client
	}
}

// NewAzureKeyVaultSource creates a new Azure Key Vault source
func NewAzureKeyVaultSource(cfg config.SourceConfig, logger *logging.Logger, opts ...AzureSourceOption) (*AzureKeyVaultSource, error) {
	azCfg := AzureKeyVaultConfig{
		VaultURL:       cfg.String("vault_url"),
		TenantID:       cfg.String("tenant_id"),
		ClientID:       cfg.String("client_id"),
		ClientSecret:   cfg.String("client_secret"),
		UserAssignedID: cfg.String("user_assigned_identity_id"),
	}
	if useMI, ok := cfg.Config["use_managed_identity"].(bool); ok {
		azCfg.UseManagedIdentity = useMI
	}

	if azCfg.VaultURL == "" {
		return nil, kverrors.ConfigError{
			Field:      "vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if u, err := url.Parse(azCfg.VaultURL); err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, kverrors.ConfigError{
			Field:      "vault_url",
			Value:      azCfg.VaultURL,
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	s := &AzureKeyVaultSource{
		name:     cfg.Name,
		logger:   logger,
		config:   azCfg,
		vaultURL: azCfg.VaultURL,
		timeout:  cfg.Timeout(),
	}

	// Apply options (allows fake client injection)
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := createAzureKeyVaultClient(azCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

// createAzureKeyVaultClient creates an Azure Key Vault client with appropriate authentication
func createAzureKeyVaultClient(cfg AzureKeyVaultConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case cfg.UseManagedIdentity && cfg.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(cfg.UserAssignedID),
		})
	case cfg.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case cfg.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	default:
		// Environment, workload identity, managed identity or Azure CLI
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	return azsecrets.NewClient(cfg.VaultURL, cred, nil)
}

// Name returns the source name
func (s *AzureKeyVaultSource) Name() string {
	return s.name
}

// Type returns the source type
func (s *AzureKeyVaultSource) Type() string {
	return AzureKeyVaultType
}

// VaultURL returns the vault this source reads
func (s *AzureKeyVaultSource) VaultURL() string {
	return s.vaultURL
}

// List pages through the vault's secret properties, skips disabled and
// untagged secrets, and fetches the current value of the rest.
func (s *AzureKeyVaultSource) List(ctx context.Context) ([]secret.VaultEntry, error) {
	var entries []secret.VaultEntry

	pager := s.client.NewListSecretPropertiesPager(nil)
	for pager.More() {
		pageCtx, cancel := callContext(ctx, s.timeout)
		page, err := pager.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, kverrors.SourceError(AzureKeyVaultType, "list", err)
		}

		for _, props := range page.Value {
			if props == nil || props.ID == nil {
				continue
			}
			if !secret.Eligible(derefTags(props.Tags)) {
				continue
			}

			name := props.ID.Name()
			if props.Attributes != nil && props.Attributes.Enabled != nil && !*props.Attributes.Enabled {
				s.logger.Debug("Skipping disabled secret %s", name)
				continue
			}

			entry, err := s.fetch(ctx, name)
			if err != nil {
				if isAzureNotFoundError(err) {
					s.logger.Warn("Secret %s disappeared while listing, skipping", name)
					continue
				}
				return nil, kverrors.SourceError(AzureKeyVaultType, "get "+name, err)
			}
			entries = append(entries, entry)
		}
	}

	s.logger.Debug("Listed %d tagged secrets from %s", len(entries), s.vaultURL)
	return entries, nil
}

func (s *AzureKeyVaultSource) fetch(ctx context.Context, name string) (secret.VaultEntry, error) {
	getCtx, cancel := callContext(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.GetSecret(getCtx, name, "", nil)
	if err != nil {
		return secret.VaultEntry{}, err
	}

	entry := secret.VaultEntry{
		Name:  name,
		Vault: s.vaultURL,
		Tags:  derefTags(resp.Tags),
	}
	if resp.Value != nil {
		entry.Value = *resp.Value
	}
	if resp.ContentType != nil {
		entry.ContentType = *resp.ContentType
	}
	if resp.ID != nil {
		entry.Version = resp.ID.Version()
	}
	if resp.Attributes != nil && resp.Attributes.Updated != nil {
		entry.Updated = resp.Attributes.Updated.UTC()
	}
	return entry, nil
}

// isAzureNotFoundError checks if the error indicates a secret was not found
func isAzureNotFoundError(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func derefTags(tags map[string]*string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// NewAzureKeyVaultSourceFactory creates an Azure Key Vault source factory
func NewAzureKeyVaultSourceFactory(cfg config.SourceConfig, logger *logging.Logger) (Source, error) {
	return NewAzureKeyVaultSource(cfg, logger)
}
