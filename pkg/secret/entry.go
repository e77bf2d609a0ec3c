package secret

import (
	"strings"
	"time"
)

// Tag keys read from a vault entry.
const (
	TagSecretName = "k8s_secret_name"
	TagSecretKey  = "k8s_secret_key"
	TagNamespaces = "k8s_namespaces"
	TagType       = "k8s_type"
	TagConvert    = "k8s_convert"
)

// VaultEntry is one secret value read from a vault, with the metadata
// needed to place it in the cluster.
type VaultEntry struct {
	Name        string
	Value       string
	Version     string
	ContentType string
	Vault       string
	Updated     time.Time
	Tags        map[string]string
}

// Eligible reports whether the entry carries a target secret name.
// Sources use it to filter their listings.
func Eligible(tags map[string]string) bool {
	return strings.TrimSpace(tags[TagSecretName]) != ""
}

// TargetName returns the cluster secret name the entry contributes to.
func (e VaultEntry) TargetName() string {
	return strings.TrimSpace(e.Tags[TagSecretName])
}

func (e VaultEntry) tag(key string) string {
	return strings.TrimSpace(e.Tags[key])
}
