package secret

import (
	"encoding/base64"
	"time"
)

// Builder turns vault entries into records.
type Builder struct {
	annotationPrefix string
	loadTemplate     TemplateLoader
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithAnnotationPrefix sets the annotation domain for provenance annotations.
func WithAnnotationPrefix(prefix string) BuilderOption {
	return func(b *Builder) {
		if prefix != "" {
			b.annotationPrefix = prefix
		}
	}
}

// WithTemplateLoader sets how file: conversions read their templates.
func WithTemplateLoader(load TemplateLoader) BuilderOption {
	return func(b *Builder) {
		if load != nil {
			b.loadTemplate = load
		}
	}
}

// NewBuilder creates a Builder. Without options it uses the default
// annotation prefix and reads templates from the local filesystem.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		annotationPrefix: DefaultAnnotationPrefix,
		loadTemplate:     OSLoader,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build converts a single vault entry into a record using a default Builder.
func Build(entry VaultEntry) (*Record, error) {
	return NewBuilder().Build(entry)
}

// Build converts a single vault entry into a record. Errors are returned as
// *EntryError.
func (b *Builder) Build(entry VaultEntry) (*Record, error) {
	record, err := b.build(entry)
	if err != nil {
		return nil, &EntryError{Entry: entry.Name, Vault: entry.Vault, Err: err}
	}
	return record, nil
}

func (b *Builder) build(entry VaultEntry) (*Record, error) {
	name := entry.TargetName()
	if name == "" {
		return nil, ErrMissingTargetName
	}

	contentType := entry.ContentType
	key := entry.tag(TagSecretKey)
	if contentType == "" && key == "" {
		return nil, ErrAmbiguousSecretShape
	}

	var data map[string]string
	if contentType != "" {
		decoded, err := Decode(entry.Value, contentType)
		if err != nil {
			return nil, err
		}
		data = decoded
	} else {
		data = map[string]string{key: entry.Value}
	}

	secretType := entry.tag(TagType)
	if secretType == "" {
		secretType = DefaultSecretType
	}

	if directive := entry.tag(TagConvert); directive != "" {
		converted, convertedType, err := Convert(directive, data, secretType, b.loadTemplate)
		if err != nil {
			return nil, err
		}
		data, secretType = converted, convertedType
	}

	encoded := make(map[string]string, len(data))
	for k, v := range data {
		encoded[k] = base64.StdEncoding.EncodeToString([]byte(v))
	}

	return &Record{
		Name:        name,
		Type:        secretType,
		Data:        encoded,
		Annotations: b.provenance(entry),
		Namespaces:  ParseNamespaces(entry.tag(TagNamespaces)),
		Sources:     []string{entry.Name},
	}, nil
}

func (b *Builder) provenance(entry VaultEntry) map[string]string {
	var updated string
	if !entry.Updated.IsZero() {
		updated = entry.Updated.UTC().Format(time.RFC3339)
	}
	return map[string]string{
		annotationKey(b.annotationPrefix, entry.Name, AnnotationLastUpdated): updated,
		annotationKey(b.annotationPrefix, entry.Name, AnnotationVersion):     entry.Version,
		annotationKey(b.annotationPrefix, entry.Name, AnnotationVault):       entry.Vault,
	}
}

// BuildAll builds every entry, collecting per-entry failures instead of
// stopping at the first one.
func (b *Builder) BuildAll(entries []VaultEntry) ([]*Record, []error) {
	records := make([]*Record, 0, len(entries))
	var errs []error
	for _, entry := range entries {
		record, err := b.Build(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, record)
	}
	return records, errs
}
