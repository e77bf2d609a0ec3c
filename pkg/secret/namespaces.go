package secret

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// AllNamespaces is the namespace tag value that targets every namespace in
// the cluster.
const AllNamespaces = "*"

// DefaultNamespace is used when an entry carries no namespace tag.
const DefaultNamespace = "default"

// Namespaces is a sorted set of namespace names.
type Namespaces []string

// ParseNamespaces splits a comma separated namespace tag, trimming and
// deduplicating names. An empty tag resolves to the default namespace.
func ParseNamespaces(raw string) Namespaces {
	var out Namespaces
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return Namespaces{DefaultNamespace}
	}
	slices.Sort(out)
	return out
}

// All reports whether the set contains the all-namespaces sentinel.
func (n Namespaces) All() bool {
	return slices.Contains(n, AllNamespaces)
}

// Equal reports whether both sets hold the same names.
func (n Namespaces) Equal(other Namespaces) bool {
	return slices.Equal(n, other)
}

func (n Namespaces) String() string {
	return strings.Join(n, ",")
}

// NamespaceLister lists the namespaces currently present in the cluster.
type NamespaceLister interface {
	ListNamespaces(ctx context.Context) ([]string, error)
}

// ExpandNamespaces resolves the namespaces a record is applied to. The
// sentinel expands to every namespace the lister returns; anything else is
// used literally.
func ExpandNamespaces(ctx context.Context, record *Record, lister NamespaceLister) ([]string, error) {
	if !record.Namespaces.All() {
		return slices.Clone(record.Namespaces), nil
	}
	if lister == nil {
		return nil, fmt.Errorf("secret %s targets all namespaces but no namespace lister is configured", record.Name)
	}
	all, err := lister.ListNamespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces for secret %s: %w", record.Name, err)
	}
	out := slices.Clone(all)
	slices.Sort(out)
	return slices.Compact(out), nil
}
