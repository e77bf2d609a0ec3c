package kube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	kverrors "github.com/systmms/keyvault2kube/internal/errors"
)

// FieldManager identifies this tool's writes in managedFields.
const FieldManager = "keyvault2kube"

var (
	// ErrNotFound reports a missing secret, or a missing namespace on create.
	ErrNotFound = errors.New("not found")
	// ErrTransient wraps every other API failure; the pair is retried next cycle.
	ErrTransient = errors.New("transient cluster error")
)

// Cluster reads and writes secrets and lists namespaces
type Cluster struct {
	client kubernetes.Interface
}

// NewCluster wraps a clientset
func NewCluster(client kubernetes.Interface) *Cluster {
	return &Cluster{client: client}
}

// ReadSecret returns the secret or an error wrapping ErrNotFound
func (c *Cluster) ReadSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	current, err := c.client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classify("read", namespace, name, err)
	}
	return current, nil
}

// ListNamespaces returns every namespace name, sorted
func (c *Cluster) ListNamespaces(ctx context.Context) ([]string, error) {
	list, err := c.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, kverrors.ClusterError("list namespaces", err))
	}

	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateSecret creates the document. Creating into a missing namespace
// returns an error wrapping ErrNotFound.
func (c *Cluster) CreateSecret(ctx context.Context, doc *corev1.Secret) error {
	_, err := c.client.CoreV1().Secrets(doc.Namespace).Create(ctx, doc, metav1.CreateOptions{
		FieldManager: FieldManager,
	})
	if err != nil {
		return classify("create", doc.Namespace, doc.Name, err)
	}
	return nil
}

// PatchSecret merges the document's data and annotations into the live
// secret. Keys present only on the live object are kept.
func (c *Cluster) PatchSecret(ctx context.Context, doc *corev1.Secret) error {
	patch := map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": doc.Annotations,
		},
		"data": doc.Data,
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch for %s/%s: %w", doc.Namespace, doc.Name, err)
	}

	_, err = c.client.CoreV1().Secrets(doc.Namespace).Patch(ctx, doc.Name, types.StrategicMergePatchType, body, metav1.PatchOptions{
		FieldManager: FieldManager,
	})
	if err != nil {
		return classify("patch", doc.Namespace, doc.Name, err)
	}
	return nil
}

func classify(op, namespace, name string, err error) error {
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%s secret %s/%s: %w: %w", op, namespace, name, ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrTransient, kverrors.ClusterError(fmt.Sprintf("%s secret %s/%s", op, namespace, name), err))
}
