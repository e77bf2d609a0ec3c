// Package kube reads and writes the cluster side of the sync: secrets and
// namespaces, over client-go.
package kube

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClient creates a new standard Kubernetes clientset.
// An explicit kubeconfig path wins; otherwise in-cluster config is tried
// first, then the default kubeconfig loading rules.
func NewClient(kubeconfig string) (kubernetes.Interface, error) {
	config, err := GetConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a new standard Kubernetes clientset from the provided config.
func NewClientWithConfig(config *rest.Config) (kubernetes.Interface, error) {
	if config == nil {
		return nil, fmt.Errorf("failed to create kubernetes client: config cannot be nil")
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return clientset, nil
}

// GetConfig returns a Kubernetes REST config
func GetConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return getConfigFromKubeconfigFile(kubeconfig)
	}

	// Try in-cluster config first
	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	// Fall back to kubeconfig
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)
	return kubeConfig.ClientConfig()
}

func getConfigFromKubeconfigFile(path string) (*rest.Config, error) {
	config, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %s: %w", path, err)
	}
	return config, nil
}
