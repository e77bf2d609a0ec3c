package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/keyvault2kube/internal/vault"
)

func NewSourcesCommand(app *App) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List supported vault types and configured sources",
		Long: `Display the vault types keyvault2kube can read from.

When a configuration is available the configured sources are listed too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			registry := app.Registry

			_, _ = fmt.Fprintln(out, "Supported Vault Types:")
			_, _ = fmt.Fprintln(out, "======================")

			supportedTypes := registry.GetSupportedTypes()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TYPE\tDESCRIPTION\n")
			_, _ = fmt.Fprintf(w, "----\t-----------\n")
			for _, sourceType := range supportedTypes {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", sourceType, registry.Describe(sourceType))
			}
			_ = w.Flush()

			// Configured sources are best effort
			if err := app.Config.Load(); err == nil && app.Config.Definition != nil {
				_, _ = fmt.Fprintln(out, "\nConfigured Sources:")
				_, _ = fmt.Fprintln(out, "===================")

				w2 := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintf(w2, "NAME\tTYPE\tSTATUS\n")
				_, _ = fmt.Fprintf(w2, "----\t----\t------\n")
				for _, src := range app.Config.Definition.Sources {
					status := "configured"
					if !registry.IsSupported(src.Type) {
						status = "unsupported"
					}
					_, _ = fmt.Fprintf(w2, "%s\t%s\t%s\n", src.Name, src.Type, status)
				}
				_ = w2.Flush()
			} else if err != nil {
				app.logger().Debug("No configuration loaded: %v", err)
			}

			if verbose {
				_, _ = fmt.Fprintln(out, "\nSource Details:")
				_, _ = fmt.Fprintln(out, "===============")
				for _, sourceType := range supportedTypes {
					_, _ = fmt.Fprintf(out, "\n%s:\n", sourceType)
					for _, detail := range sourceDetails(sourceType) {
						_, _ = fmt.Fprintf(out, "  • %s\n", detail)
					}
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show configuration keys for each vault type")

	return cmd
}

// sourceDetails returns configuration notes for a vault type
func sourceDetails(sourceType string) []string {
	details := map[string][]string{
		vault.AzureKeyVaultType: {
			"Config: vault_url (https://<name>.vault.azure.net/)",
			"Auth: client_id/client_secret/tenant_id, use_managed_identity or the default chain",
			"Also created from KEY_VAULT_URLS (comma separated)",
			"Content type comes from the secret's content type field",
		},
		vault.AWSSecretsManagerType: {
			"Config: region (default us-east-1), profile, endpoint",
			"Auth: default credential chain or access_key_id/secret_access_key",
			"Only secrets carrying a k8s_secret_name tag are read",
			"Content type comes from the k8s_content_type tag",
		},
		vault.GCPSecretManagerType: {
			"Config: project_id (or GOOGLE_CLOUD_PROJECT), service_account_key_path",
			"Auth: application default credentials",
			"Tags are labels and annotations; annotations win",
			"Content type comes from the k8s_content_type label or annotation",
		},
	}

	if detail, exists := details[sourceType]; exists {
		return detail
	}
	return []string{"No details available"}
}
