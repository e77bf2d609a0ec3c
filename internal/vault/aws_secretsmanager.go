package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/systmms/keyvault2kube/internal/config"
	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// AWSSecretsManagerType is the registry type of AWS Secrets Manager sources.
const AWSSecretsManagerType = "aws.secretsmanager"

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerSource lists tagged secrets from one region of Secrets Manager
type AWSSecretsManagerSource struct {
	name     string
	client   SecretsManagerClientAPI
	logger   *logging.Logger
	region   string
	endpoint string // Optional custom endpoint for LocalStack or testing
	timeout  time.Duration
}

// AWSSourceOption is a functional option for configuring AWS sources
type AWSSourceOption func(*AWSSecretsManagerSource)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSSourceOption {
	return func(s *AWSSecretsManagerSource) {
		s.client = client
	}
}

// NewAWSSecretsManagerSource creates a new AWS Secrets Manager source
func NewAWSSecretsManagerSource(cfg config.SourceConfig, logger *logging.Logger, opts ...AWSSourceOption) (*AWSSecretsManagerSource, error) {
	region := "us-east-1" // Default region
	if r := cfg.String("region"); r != "" {
		region = r
	}

	s := &AWSSecretsManagerSource{
		name:     cfg.Name,
		logger:   logger,
		region:   region,
		endpoint: cfg.String("endpoint"),
		timeout:  cfg.Timeout(),
	}

	// Apply options (allows fake client injection)
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var configOpts []func(*awsconfig.LoadOptions) error
		configOpts = append(configOpts, awsconfig.WithRegion(region))

		if profile := cfg.String("profile"); profile != "" {
			configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(profile))
		}

		// Static credentials for LocalStack/testing
		accessKeyID, secretAccessKey := cfg.String("access_key_id"), cfg.String("secret_access_key")
		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if s.endpoint != "" {
			endpoint := s.endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return s, nil
}

// Name returns the source name
func (s *AWSSecretsManagerSource) Name() string {
	return s.name
}

// Type returns the source type
func (s *AWSSecretsManagerSource) Type() string {
	return AWSSecretsManagerType
}

// Location identifies the region (or custom endpoint) in provenance annotations
func (s *AWSSecretsManagerSource) Location() string {
	if s.endpoint != "" {
		return s.endpoint
	}
	return fmt.Sprintf("https://secretsmanager.%s.amazonaws.com", s.region)
}

// List returns the current value of every secret tagged with a target name.
// The payload format comes from the k8s_content_type tag.
func (s *AWSSecretsManagerSource) List(ctx context.Context) ([]secret.VaultEntry, error) {
	input := &secretsmanager.ListSecretsInput{
		MaxResults: aws.Int32(100),
		Filters: []types.Filter{{
			Key:    types.FilterNameStringTypeTagKey,
			Values: []string{secret.TagSecretName},
		}},
	}

	var entries []secret.VaultEntry
	paginator := secretsmanager.NewListSecretsPaginator(s.client, input)
	for paginator.HasMorePages() {
		pageCtx, cancel := callContext(ctx, s.timeout)
		page, err := paginator.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, kverrors.SourceError(AWSSecretsManagerType, "list", err)
		}

		for _, item := range page.SecretList {
			tags := make(map[string]string, len(item.Tags))
			for _, tag := range item.Tags {
				tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
			if !secret.Eligible(tags) {
				continue
			}

			name := aws.ToString(item.Name)
			entry, err := s.fetch(ctx, item, tags)
			if err != nil {
				var notFound *types.ResourceNotFoundException
				if errors.As(err, &notFound) {
					s.logger.Warn("Secret %s disappeared while listing, skipping", name)
					continue
				}
				return nil, kverrors.SourceError(AWSSecretsManagerType, "get "+name, err)
			}
			entries = append(entries, entry)
		}
	}

	s.logger.Debug("Listed %d tagged secrets from %s", len(entries), s.Location())
	return entries, nil
}

func (s *AWSSecretsManagerSource) fetch(ctx context.Context, item types.SecretListEntry, tags map[string]string) (secret.VaultEntry, error) {
	getCtx, cancel := callContext(ctx, s.timeout)
	defer cancel()

	id := item.ARN
	if id == nil {
		id = item.Name
	}
	out, err := s.client.GetSecretValue(getCtx, &secretsmanager.GetSecretValueInput{SecretId: id})
	if err != nil {
		return secret.VaultEntry{}, err
	}

	entry := secret.VaultEntry{
		Name:        aws.ToString(item.Name),
		Version:     aws.ToString(out.VersionId),
		ContentType: tags[TagContentType],
		Vault:       s.Location(),
		Tags:        tags,
	}
	if out.SecretString != nil {
		entry.Value = *out.SecretString
	} else {
		entry.Value = string(out.SecretBinary)
	}

	switch {
	case out.CreatedDate != nil:
		entry.Updated = out.CreatedDate.UTC()
	case item.LastChangedDate != nil:
		entry.Updated = item.LastChangedDate.UTC()
	}
	return entry, nil
}

// NewAWSSecretsManagerSourceFactory creates an AWS Secrets Manager source factory
func NewAWSSecretsManagerSourceFactory(cfg config.SourceConfig, logger *logging.Logger) (Source, error) {
	return NewAWSSecretsManagerSource(cfg, logger)
}
