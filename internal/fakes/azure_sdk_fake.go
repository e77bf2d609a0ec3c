package fakes

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeAzureKeyVaultClient is an in-memory Key Vault that serves secret
// listings page by page.
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// VaultURL prefixes every secret ID
	VaultURL string
	// PageSize controls how many properties each listing page holds
	PageSize int
	// Secrets maps secret names to their data
	Secrets map[string]*AzureSecretData
	// Errors maps secret names to errors returned by GetSecret
	Errors map[string]error
	// ListErr fails the listing pager
	ListErr error

	gets int
}

// AzureSecretData holds the data for a fake Key Vault secret
type AzureSecretData struct {
	Value       string
	Version     string
	ContentType string
	Enabled     bool
	Updated     time.Time
	Tags        map[string]string
}

// NewFakeAzureKeyVaultClient creates a new fake Key Vault client
func NewFakeAzureKeyVaultClient(vaultURL string) *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		VaultURL: strings.TrimSuffix(vaultURL, "/"),
		PageSize: 2,
		Secrets:  make(map[string]*AzureSecretData),
		Errors:   make(map[string]error),
	}
}

// AddSecret adds an enabled secret at version "v1"
func (f *FakeAzureKeyVaultClient) AddSecret(name, value string, tags map[string]string) *AzureSecretData {
	data := &AzureSecretData{
		Value:   value,
		Version: "v1",
		Enabled: true,
		Updated: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Tags:    tags,
	}
	f.mu.Lock()
	f.Secrets[name] = data
	f.mu.Unlock()
	return data
}

// AddError configures GetSecret to fail for a specific secret
func (f *FakeAzureKeyVaultClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// GetCalls returns how many times GetSecret was called
func (f *FakeAzureKeyVaultClient) GetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// GetSecret returns the secret's latest version
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++

	if err := ctx.Err(); err != nil {
		return azsecrets.GetSecretResponse{}, err
	}
	if err, ok := f.Errors[name]; ok {
		return azsecrets.GetSecretResponse{}, err
	}

	data, ok := f.Secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
	}

	id := azsecrets.ID(fmt.Sprintf("%s/secrets/%s/%s", f.VaultURL, name, data.Version))
	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:          &id,
			Value:       to.Ptr(data.Value),
			ContentType: optional(data.ContentType),
			Attributes:  f.attributes(data),
			Tags:        ptrTags(data.Tags),
		},
	}, nil
}

// NewListSecretPropertiesPager pages through the secret properties sorted by name
func (f *FakeAzureKeyVaultClient) NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse] {
	f.mu.Lock()
	names := make([]string, 0, len(f.Secrets))
	for name := range f.Secrets {
		names = append(names, name)
	}
	f.mu.Unlock()
	sort.Strings(names)

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = len(names) + 1
	}

	offset := 0
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesResponse]{
		More: func(page azsecrets.ListSecretPropertiesResponse) bool {
			return page.NextLink != nil
		},
		Fetcher: func(ctx context.Context, _ *azsecrets.ListSecretPropertiesResponse) (azsecrets.ListSecretPropertiesResponse, error) {
			if f.ListErr != nil {
				return azsecrets.ListSecretPropertiesResponse{}, f.ListErr
			}

			end := offset + pageSize
			if end > len(names) {
				end = len(names)
			}

			var page azsecrets.ListSecretPropertiesResponse
			f.mu.Lock()
			for _, name := range names[offset:end] {
				data := f.Secrets[name]
				id := azsecrets.ID(fmt.Sprintf("%s/secrets/%s", f.VaultURL, name))
				page.Value = append(page.Value, &azsecrets.SecretProperties{
					ID:          &id,
					ContentType: optional(data.ContentType),
					Attributes:  f.attributes(data),
					Tags:        ptrTags(data.Tags),
				})
			}
			f.mu.Unlock()

			offset = end
			if offset < len(names) {
				page.NextLink = to.Ptr(fmt.Sprintf("%s/secrets?skip=%d", f.VaultURL, offset))
			}
			return page, nil
		},
	})
}

func (f *FakeAzureKeyVaultClient) attributes(data *AzureSecretData) *azsecrets.SecretAttributes {
	updated := data.Updated
	return &azsecrets.SecretAttributes{
		Enabled: to.Ptr(data.Enabled),
		Updated: &updated,
	}
}

// AzureNotFoundError returns the error Key Vault reports for a missing secret
func AzureNotFoundError(name string) error {
	return azureResponseError(http.StatusNotFound, "SecretNotFound", "/secrets/"+name)
}

// AzureForbiddenError returns the error Key Vault reports for a missing access policy
func AzureForbiddenError() error {
	return azureResponseError(http.StatusForbidden, "Forbidden", "/secrets")
}

func azureResponseError(status int, code, path string) error {
	req, _ := http.NewRequest(http.MethodGet, "https://test-vault.vault.azure.net"+path, nil)
	return &azcore.ResponseError{
		ErrorCode:  code,
		StatusCode: status,
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    req,
		},
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return to.Ptr(s)
}

func ptrTags(tags map[string]string) map[string]*string {
	if tags == nil {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}
