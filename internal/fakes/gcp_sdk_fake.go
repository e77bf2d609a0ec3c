package fakes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory Secret Manager for one project
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	ProjectID string
	// Secrets maps short secret names to their data
	Secrets map[string]*GCPSecretData
	// Errors maps resource names to errors
	Errors map[string]error
	// ListErr is returned by the call that would serve the last page
	ListErr error
	// PageDelay is how long each listing call takes
	PageDelay time.Duration
	// PageCalls counts listing calls
	PageCalls int
	// Closed is set by Close
	Closed bool
}

// GCPSecretData holds the data for a fake Secret Manager secret
type GCPSecretData struct {
	Labels      map[string]string
	Annotations map[string]string
	// Versions holds payloads in order; the last one is "latest"
	Versions [][]byte
	Created  time.Time
}

// NewFakeGCPSecretManagerClient creates a new fake client
func NewFakeGCPSecretManagerClient(projectID string) *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		ProjectID: projectID,
		Secrets:   make(map[string]*GCPSecretData),
		Errors:    make(map[string]error),
	}
}

// AddSecret adds a secret with one enabled version
func (f *FakeGCPSecretManagerClient) AddSecret(name, value string, labels, annotations map[string]string) *GCPSecretData {
	data := &GCPSecretData{
		Labels:      labels,
		Annotations: annotations,
		Versions:    [][]byte{[]byte(value)},
		Created:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.mu.Lock()
	f.Secrets[name] = data
	f.mu.Unlock()
	return data
}

// AddError configures an error for a resource name
func (f *FakeGCPSecretManagerClient) AddError(resourceName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[resourceName] = err
}

// SecretName returns the full resource name of a secret
func (f *FakeGCPSecretManagerClient) SecretName(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", f.ProjectID, name)
}

// ListSecretsPage serves the project's secrets sorted by name. Page tokens
// are offsets into that order.
func (f *FakeGCPSecretManagerClient) ListSecretsPage(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, string, error) {
	f.mu.Lock()
	f.PageCalls++
	delay := f.PageDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, "", status.FromContextError(ctx.Err()).Err()
		case <-time.After(delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.Secrets))
	for name := range f.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	offset := 0
	if token := req.GetPageToken(); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(names) {
			return nil, "", GCPInvalidArgumentError("invalid page token " + token)
		}
		offset = n
	}
	end := len(names)
	if size := int(req.GetPageSize()); size > 0 && offset+size < end {
		end = offset + size
	}

	secrets := make([]*secretmanagerpb.Secret, 0, end-offset)
	for _, name := range names[offset:end] {
		data := f.Secrets[name]
		secrets = append(secrets, &secretmanagerpb.Secret{
			Name:        f.SecretName(name),
			Labels:      data.Labels,
			Annotations: data.Annotations,
			CreateTime:  timestamppb.New(data.Created),
		})
	}

	if end < len(names) {
		return secrets, strconv.Itoa(end), nil
	}
	if f.ListErr != nil {
		return nil, "", f.ListErr
	}
	return secrets, "", nil
}

// GetSecretVersion resolves a version, including the "latest" alias
func (f *FakeGCPSecretManagerClient) GetSecretVersion(ctx context.Context, req *secretmanagerpb.GetSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name, number, err := f.resolve(req.GetName())
	if err != nil {
		return nil, err
	}
	data := f.Secrets[name]
	return &secretmanagerpb.SecretVersion{
		Name:       fmt.Sprintf("%s/versions/%d", f.SecretName(name), number),
		CreateTime: timestamppb.New(data.Created.Add(time.Duration(number-1) * time.Hour)),
		State:      secretmanagerpb.SecretVersion_ENABLED,
	}, nil
}

// AccessSecretVersion returns a version's payload
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name, number, err := f.resolve(req.GetName())
	if err != nil {
		return nil, err
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    fmt.Sprintf("%s/versions/%d", f.SecretName(name), number),
		Payload: &secretmanagerpb.SecretPayload{Data: f.Secrets[name].Versions[number-1]},
	}, nil
}

// Close marks the client closed
func (f *FakeGCPSecretManagerClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func (f *FakeGCPSecretManagerClient) resolve(resource string) (string, int, error) {
	if err, ok := f.Errors[resource]; ok {
		return "", 0, err
	}

	prefix := fmt.Sprintf("projects/%s/secrets/", f.ProjectID)
	rest := strings.TrimPrefix(resource, prefix)
	parts := strings.Split(rest, "/")
	if rest == resource || len(parts) != 3 || parts[1] != "versions" {
		return "", 0, GCPInvalidArgumentError("malformed version name " + resource)
	}

	data, ok := f.Secrets[parts[0]]
	if !ok || len(data.Versions) == 0 {
		return "", 0, GCPNotFoundError(resource)
	}

	number := len(data.Versions)
	if parts[2] != "latest" {
		if _, err := fmt.Sscanf(parts[2], "%d", &number); err != nil || number < 1 || number > len(data.Versions) {
			return "", 0, GCPNotFoundError(resource)
		}
	}
	return parts[0], number, nil
}

// GCPNotFoundError returns a gRPC NotFound status
func GCPNotFoundError(resourceName string) error {
	return status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", resourceName)
}

// GCPPermissionDeniedError returns a gRPC PermissionDenied status
func GCPPermissionDeniedError(message string) error {
	return status.Error(codes.PermissionDenied, message)
}

// GCPInvalidArgumentError returns a gRPC InvalidArgument status
func GCPInvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}
