package secret

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Content types understood by Decode.
const (
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "text/x-yaml"
)

type decodeFunc func(raw string) (map[string]string, error)

var decoders = map[string]decodeFunc{
	ContentTypeJSON:      decodeJSON,
	ContentTypeYAML:      decodeYAML,
	"application/x-yaml": decodeYAML,
	"application/yaml":   decodeYAML,
	"text/yaml":          decodeYAML,
}

// Decode parses a structured secret payload into a flat field mapping.
// Scalars are stringified and nested values are re-encoded in the payload's
// own format.
func Decode(raw, contentType string) (map[string]string, error) {
	decode, ok := decoders[normalizeContentType(contentType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	return decode(raw)
}

// SupportedContentTypes lists the content types Decode accepts.
func SupportedContentTypes() []string {
	types := make([]string, 0, len(decoders))
	for ct := range decoders {
		types = append(types, ct)
	}
	return types
}

// normalizeContentType drops parameters such as "; charset=utf-8".
func normalizeContentType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

func decodeJSON(raw string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedContent, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedContent)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: JSON payload is not an object", ErrMalformedContent)
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, err := jsonScalar(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedContent, k, err)
		}
		out[k] = s
	}
	return out, nil
}

func jsonScalar(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return "", err
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	}
}

func decodeYAML(raw string) (map[string]string, error) {
	dec := yaml.NewDecoder(strings.NewReader(raw))

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: invalid YAML: %v", ErrMalformedContent, err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: expected a single YAML document", ErrMalformedContent)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: YAML payload is empty", ErrMalformedContent)
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, err := yamlScalar(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedContent, k, err)
		}
		out[k] = s
	}
	return out, nil
}

func yamlScalar(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.Format(time.RFC3339), nil
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(val); err != nil {
			return "", err
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		return strings.TrimRight(buf.String(), "\n"), nil
	}
}
