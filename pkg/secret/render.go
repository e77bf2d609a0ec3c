package secret

import (
	"encoding/base64"
	"fmt"
	"maps"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/yaml"
)

// Render produces the Secret applied to (or printed for) one namespace. The
// record's base64 values become the Secret's raw data bytes, so the
// serialized document carries the same encoded strings.
func Render(record *Record, namespace string) *corev1.Secret {
	data := make(map[string][]byte, len(record.Data))
	for k, v := range record.Data {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			raw = []byte(v)
		}
		data[k] = raw
	}

	return &corev1.Secret{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Secret",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        record.Name,
			Namespace:   namespace,
			Annotations: maps.Clone(record.Annotations),
		},
		Type: corev1.SecretType(record.Type),
		Data: data,
	}
}

// RenderYAML renders the record once per namespace as a multi-document YAML
// stream.
func RenderYAML(record *Record, namespaces []string) (string, error) {
	docs := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		doc, err := marshalSecret(Render(record, ns))
		if err != nil {
			return "", fmt.Errorf("failed to render secret %s for namespace %s: %w", record.Name, ns, err)
		}
		docs = append(docs, "---\n"+doc)
	}
	return strings.Join(docs, ""), nil
}

func marshalSecret(s *corev1.Secret) (string, error) {
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(s)
	if err != nil {
		return "", err
	}
	unstructured.RemoveNestedField(obj, "metadata", "creationTimestamp")

	out, err := yaml.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
