package commands

import (
	"context"
	"fmt"
	"io"

	"k8s.io/client-go/kubernetes"

	"github.com/systmms/keyvault2kube/internal/config"
	"github.com/systmms/keyvault2kube/internal/kube"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/vault"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// App carries the state shared by every command. The root command fills in
// the logger, config path and kubeconfig before a subcommand runs.
type App struct {
	Config     *config.Config
	Kubeconfig string
	Registry   *vault.Registry
	// NewClient builds the clientset for a kubeconfig path.
	NewClient func(kubeconfig string) (kubernetes.Interface, error)
}

// NewApp returns an App using the built-in vault types and client-go.
func NewApp(cfg *config.Config) *App {
	return &App{
		Config:    cfg,
		Registry:  vault.NewRegistry(),
		NewClient: kube.NewClient,
	}
}

func (a *App) logger() *logging.Logger {
	if a.Config.Logger == nil {
		a.Config.Logger = logging.NewNop()
	}
	return a.Config.Logger
}

// loadSources loads the configuration and creates every configured source.
func (a *App) loadSources() ([]vault.Source, error) {
	if err := a.Config.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	sources, err := a.Registry.CreateSources(a.Config.Definition.Sources, a.logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create sources: %w", err)
	}
	return sources, nil
}

func (a *App) cluster() (*kube.Cluster, error) {
	client, err := a.NewClient(a.Kubeconfig)
	if err != nil {
		return nil, err
	}
	return kube.NewCluster(client), nil
}

func (a *App) builder() *secret.Builder {
	def := a.Config.Definition
	opts := []secret.BuilderOption{secret.WithAnnotationPrefix(def.AnnotationPrefix)}
	if def.TemplateDir != "" {
		opts = append(opts, secret.WithTemplateLoader(secret.DirLoader(def.TemplateDir)))
	}
	return secret.NewBuilder(opts...)
}

func closeSources(sources []vault.Source, logger *logging.Logger) {
	for _, src := range sources {
		c, ok := src.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close source %s: %v", src.Name(), err)
		}
	}
}

// lazyLister connects to the cluster only when a secret targets every
// namespace.
type lazyLister struct {
	app     *App
	cluster *kube.Cluster
}

func (l *lazyLister) ListNamespaces(ctx context.Context) ([]string, error) {
	if l.cluster == nil {
		cluster, err := l.app.cluster()
		if err != nil {
			return nil, err
		}
		l.cluster = cluster
	}
	return l.cluster.ListNamespaces(ctx)
}
