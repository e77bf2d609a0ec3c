package secret

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"maps"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// DefaultSecretType is used when an entry carries no type tag.
const DefaultSecretType = string(corev1.SecretTypeOpaque)

// Annotation suffixes written once per contributing vault entry.
const (
	AnnotationLastUpdated = "last_updated"
	AnnotationVersion     = "version"
	AnnotationVault       = "vault"
)

// DefaultAnnotationPrefix is the annotation domain used when none is configured.
const DefaultAnnotationPrefix = "keyvault2kube.systmms.io"

// Record is the desired state of one cluster secret, assembled from one or
// more vault entries. Data values are base64 encoded.
type Record struct {
	Name        string
	Type        string
	Data        map[string]string
	Annotations map[string]string
	Namespaces  Namespaces
	Sources     []string
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Name:        r.Name,
		Type:        r.Type,
		Data:        maps.Clone(r.Data),
		Annotations: maps.Clone(r.Annotations),
		Namespaces:  slices.Clone(r.Namespaces),
		Sources:     slices.Clone(r.Sources),
	}
}

// Value returns the decoded value of a data field.
func (r *Record) Value(key string) (string, bool) {
	encoded, ok := r.Data[key]
	if !ok {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// Keys returns the data field names in sorted order.
func (r *Record) Keys() []string {
	return slices.Sorted(maps.Keys(r.Data))
}

// Versions returns the subset of annotations that carry source versions.
func (r *Record) Versions() map[string]string {
	return versionAnnotations(r.Annotations)
}

func versionAnnotations(annotations map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range annotations {
		if isVersionAnnotation(k) {
			out[k] = v
		}
	}
	return out
}

func isVersionAnnotation(key string) bool {
	return strings.HasSuffix(key, "."+AnnotationVersion)
}

// maxAnnotationEntry keeps "secret.<entry>.last_updated" within the 63
// character limit Kubernetes puts on annotation names.
const maxAnnotationEntry = 63 - len("secret.") - len(".") - len(AnnotationLastUpdated)

// annotationKey builds "<prefix>/secret.<entry>.<suffix>". Characters not
// allowed in an annotation name are replaced with '-'.
func annotationKey(prefix, entry, suffix string) string {
	return prefix + "/secret." + annotationEntryName(entry) + "." + suffix
}

// annotationEntryName shortens long entry names to a prefix plus a hash of
// the full name.
func annotationEntryName(entry string) string {
	name := sanitizeAnnotationName(entry)
	if len(name) <= maxAnnotationEntry {
		return name
	}
	sum := sha256.Sum256([]byte(entry))
	hash := hex.EncodeToString(sum[:])[:8]
	return name[:maxAnnotationEntry-len(hash)-1] + "-" + hash
}

func sanitizeAnnotationName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
