package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/keyvault2kube/internal/config"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/reconcile"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

func NewRenderCommand(app *App) *cobra.Command {
	var secretName string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the secrets a sync would apply, as YAML",
		Long: `Render lists every configured vault once and prints one Secret document
per (secret, namespace) pair without touching the cluster. Secrets that
target every namespace ("*") need cluster access to list namespaces.

Examples:
  keyvault2kube render --config keyvault2kube.yaml
  keyvault2kube render --secret database > database.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, app, secretName)
		},
	}

	cmd.Flags().StringVar(&secretName, "secret", "", "Only render the named secret")
	cmd.Flags().String(config.KeyAnnotationPrefix, "", "Annotation prefix for provenance annotations")
	cmd.Flags().String(config.KeyTemplateDir, "", "Directory that file: conversions are read from")
	bindFlags(app, cmd, config.KeyAnnotationPrefix, config.KeyTemplateDir)

	return cmd
}

func runRender(cmd *cobra.Command, app *App, secretName string) error {
	logger := app.logger()

	sources, err := app.loadSources()
	if err != nil {
		return err
	}
	defer closeSources(sources, logger)

	reconciler := reconcile.NewReconciler(sources, nil, logger, reconcile.WithBuilder(app.builder()))
	snap := reconciler.Prepare(cmd.Context())

	lister := &lazyLister{app: app}
	failed := 0
	rendered := 0
	for _, record := range snap.Records {
		if secretName != "" && record.Name != secretName {
			continue
		}
		if err := renderRecord(cmd, cmd.OutOrStdout(), record, lister, logger); err != nil {
			logger.For(logging.Scope{Secret: record.Name}).Error("Failed to render: %v", err)
			failed++
			continue
		}
		rendered++
	}

	if secretName != "" && rendered == 0 && failed == 0 {
		return fmt.Errorf("no secret named %q was found in the configured vaults", secretName)
	}
	if failed > 0 {
		return fmt.Errorf("%d secret(s) could not be rendered", failed)
	}
	if err := snap.Err(); err != nil {
		logger.Warn("Some vault entries were skipped: %v", err)
	}
	return nil
}

func renderRecord(cmd *cobra.Command, w io.Writer, record *secret.Record, lister secret.NamespaceLister, logger *logging.Logger) error {
	namespaces, err := secret.ExpandNamespaces(cmd.Context(), record, lister)
	if err != nil {
		return err
	}
	doc, err := secret.RenderYAML(record, namespaces)
	if err != nil {
		return err
	}
	logger.Debug("Rendered secret %s for %d namespace(s)", record.Name, len(namespaces))
	_, err = io.WriteString(w, doc)
	return err
}
