package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/keyvault2kube/internal/config"
	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// GCPSecretManagerType is the registry type of GCP Secret Manager sources.
const GCPSecretManagerType = "gcp.secretmanager"

// gcpListPageSize is the number of secrets fetched per listing call
const gcpListPageSize = 100

// GCPSecretManagerClientAPI defines the interface for GCP Secret Manager operations.
// ListSecretsPage returns one page and the token of the next, empty on the last page.
type GCPSecretManagerClientAPI interface {
	ListSecretsPage(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, string, error)
	GetSecretVersion(ctx context.Context, req *secretmanagerpb.GetSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// gcpSDKClient adapts the generated client to GCPSecretManagerClientAPI
type gcpSDKClient struct {
	client *secretmanager.Client
}

func (c gcpSDKClient) ListSecretsPage(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, string, error) {
	var page []*secretmanagerpb.Secret
	pager := iterator.NewPager(c.client.ListSecrets(ctx, req), int(req.GetPageSize()), req.GetPageToken())
	next, err := pager.NextPage(&page)
	return page, next, err
}

func (c gcpSDKClient) GetSecretVersion(ctx context.Context, req *secretmanagerpb.GetSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return c.client.GetSecretVersion(ctx, req)
}

func (c gcpSDKClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return c.client.AccessSecretVersion(ctx, req)
}

func (c gcpSDKClient) Close() error {
	return c.client.Close()
}

// GCPSecretManagerSource lists labelled secrets from one project.
// Labels cannot hold commas or uppercase, so annotations with the same keys
// are read too and take precedence.
type GCPSecretManagerSource struct {
	name      string
	client    GCPSecretManagerClientAPI
	logger    *logging.Logger
	projectID string
	timeout   time.Duration
}

// GCPSourceOption is a functional option for configuring GCP sources
type GCPSourceOption func(*GCPSecretManagerSource)

// WithGCPSecretManagerClient sets a custom Secret Manager client (for testing)
func WithGCPSecretManagerClient(client GCPSecretManagerClientAPI) GCPSourceOption {
	return func(s *GCPSecretManagerSource) {
		s.client = client
	}
}

// NewGCPSecretManagerSource creates a new GCP Secret Manager source
func NewGCPSecretManagerSource(cfg config.SourceConfig, logger *logging.Logger, opts ...GCPSourceOption) (*GCPSecretManagerSource, error) {
	projectID := cfg.String("project_id")
	if projectID == "" {
		projectID = getGCPProjectID()
	}
	if projectID == "" {
		return nil, kverrors.ConfigError{
			Field:      "project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id in config or GOOGLE_CLOUD_PROJECT environment variable",
		}
	}

	s := &GCPSecretManagerSource{
		name:      cfg.Name,
		logger:    logger,
		projectID: projectID,
		timeout:   cfg.Timeout(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var clientOptions []option.ClientOption
		if keyPath := cfg.String("service_account_key_path"); keyPath != "" {
			if strings.HasPrefix(keyPath, "~/") {
				home, err := os.UserHomeDir()
				if err != nil {
					return nil, fmt.Errorf("failed to get home directory: %w", err)
				}
				keyPath = filepath.Join(home, keyPath[2:])
			}
			clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
		}

		client, err := secretmanager.NewClient(context.Background(), clientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		s.client = gcpSDKClient{client: client}
	}

	return s, nil
}

// getGCPProjectID attempts to get the GCP project ID from the environment
func getGCPProjectID() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if projectID := os.Getenv(key); projectID != "" {
			return projectID
		}
	}
	return ""
}

// Name returns the source name
func (s *GCPSecretManagerSource) Name() string {
	return s.name
}

// Type returns the source type
func (s *GCPSecretManagerSource) Type() string {
	return GCPSecretManagerType
}

// Location identifies the project in provenance annotations
func (s *GCPSecretManagerSource) Location() string {
	return "projects/" + s.projectID
}

// Close releases the underlying client
func (s *GCPSecretManagerSource) Close() error {
	return s.client.Close()
}

// List returns the latest version of every secret labelled with a target name
func (s *GCPSecretManagerSource) List(ctx context.Context) ([]secret.VaultEntry, error) {
	req := &secretmanagerpb.ListSecretsRequest{
		Parent:   s.Location(),
		PageSize: gcpListPageSize,
	}

	var entries []secret.VaultEntry
	for {
		pageCtx, cancel := callContext(ctx, s.timeout)
		page, next, err := s.client.ListSecretsPage(pageCtx, req)
		cancel()
		if err != nil {
			return nil, kverrors.SourceError(GCPSecretManagerType, "list", err)
		}

		for _, sec := range page {
			tags := gcpTags(sec)
			if !secret.Eligible(tags) {
				continue
			}

			entry, err := s.fetch(ctx, sec.GetName(), tags)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					s.logger.Warn("Secret %s has no enabled version, skipping", shortName(sec.GetName()))
					continue
				}
				return nil, kverrors.SourceError(GCPSecretManagerType, "access "+shortName(sec.GetName()), err)
			}
			entries = append(entries, entry)
		}

		if next == "" {
			break
		}
		req.PageToken = next
	}

	s.logger.Debug("Listed %d labelled secrets from %s", len(entries), s.Location())
	return entries, nil
}

func (s *GCPSecretManagerSource) fetch(ctx context.Context, resource string, tags map[string]string) (secret.VaultEntry, error) {
	callCtx, cancel := callContext(ctx, s.timeout)
	defer cancel()

	version, err := s.client.GetSecretVersion(callCtx, &secretmanagerpb.GetSecretVersionRequest{
		Name: resource + "/versions/latest",
	})
	if err != nil {
		return secret.VaultEntry{}, err
	}

	// Access the resolved version so value and version number agree
	resp, err := s.client.AccessSecretVersion(callCtx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: version.GetName(),
	})
	if err != nil {
		return secret.VaultEntry{}, err
	}

	entry := secret.VaultEntry{
		Name:        shortName(resource),
		Value:       string(resp.GetPayload().GetData()),
		Version:     shortName(version.GetName()),
		ContentType: tags[TagContentType],
		Vault:       s.Location(),
		Tags:        tags,
	}
	if version.GetCreateTime() != nil {
		entry.Updated = version.GetCreateTime().AsTime().UTC()
	}
	return entry, nil
}

// gcpTags merges labels and annotations; annotations win
func gcpTags(sec *secretmanagerpb.Secret) map[string]string {
	tags := make(map[string]string, len(sec.GetLabels())+len(sec.GetAnnotations()))
	for k, v := range sec.GetLabels() {
		tags[k] = v
	}
	for k, v := range sec.GetAnnotations() {
		tags[k] = v
	}
	return tags
}

// shortName returns the last segment of a resource name
func shortName(resource string) string {
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}

// NewGCPSecretManagerSourceFactory creates a GCP Secret Manager source factory
func NewGCPSecretManagerSourceFactory(cfg config.SourceConfig, logger *logging.Logger) (Source, error) {
	return NewGCPSecretManagerSource(cfg, logger)
}
