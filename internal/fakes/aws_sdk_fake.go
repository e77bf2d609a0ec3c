package fakes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// DefaultAWSVersionID is the version AddSecretString assigns
const DefaultAWSVersionID = "EXAMPLE1-90ab-cdef-fedc-ba987SECRET1"

// FakeSecretsManagerClient is an in-memory AWS Secrets Manager
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// PageSize controls how many entries each ListSecrets page holds
	PageSize int
	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps secret names to errors returned by GetSecretValue
	Errors map[string]error
	// ListErr fails ListSecrets
	ListErr error
	// ListInputs records every ListSecrets request
	ListInputs []*secretsmanager.ListSecretsInput
}

// SecretData holds the data for a fake Secrets Manager secret
type SecretData struct {
	SecretString *string
	SecretBinary []byte
	VersionID    string
	Changed      time.Time
	Tags         map[string]string
}

// NewFakeSecretsManagerClient creates a new fake Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		PageSize: 2,
		Secrets:  make(map[string]*SecretData),
		Errors:   make(map[string]error),
	}
}

// AddSecretString adds a string secret with the given tags
func (f *FakeSecretsManagerClient) AddSecretString(name, value string, tags map[string]string) *SecretData {
	data := &SecretData{
		SecretString: aws.String(value),
		VersionID:    DefaultAWSVersionID,
		Changed:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Tags:         tags,
	}
	f.mu.Lock()
	f.Secrets[name] = data
	f.mu.Unlock()
	return data
}

// AddError configures GetSecretValue to fail for a specific secret
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// ListSecrets returns a page of secrets sorted by name. NextToken is the offset.
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListInputs = append(f.ListInputs, params)
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	names := make([]string, 0, len(f.Secrets))
	for name := range f.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	offset := 0
	if params.NextToken != nil {
		n, err := strconv.Atoi(*params.NextToken)
		if err != nil {
			return nil, &types.InvalidNextTokenException{Message: aws.String("bad token")}
		}
		offset = n
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = len(names) + 1
	}
	end := offset + pageSize
	if end > len(names) {
		end = len(names)
	}

	out := &secretsmanager.ListSecretsOutput{}
	for _, name := range names[offset:end] {
		data := f.Secrets[name]
		changed := data.Changed
		entry := types.SecretListEntry{
			Name:            aws.String(name),
			ARN:             aws.String(arn(name)),
			LastChangedDate: &changed,
		}
		keys := make([]string, 0, len(data.Tags))
		for k := range data.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			entry.Tags = append(entry.Tags, types.Tag{Key: aws.String(k), Value: aws.String(data.Tags[k])})
		}
		out.SecretList = append(out.SecretList, entry)
	}
	if end < len(names) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// GetSecretValue returns the current version of a secret
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}

	data, ok := f.Secrets[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}

	created := data.Changed
	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(arn(name)),
		Name:          aws.String(name),
		SecretString:  data.SecretString,
		SecretBinary:  data.SecretBinary,
		VersionId:     aws.String(data.VersionID),
		VersionStages: []string{"AWSCURRENT"},
		CreatedDate:   &created,
	}, nil
}

func arn(name string) string {
	return "arn:aws:secretsmanager:us-east-1:123456789012:secret:" + name
}
