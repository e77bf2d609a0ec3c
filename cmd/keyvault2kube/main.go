package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/keyvault2kube/cmd/keyvault2kube/commands"
	"github.com/systmms/keyvault2kube/internal/config"
	kverrors "github.com/systmms/keyvault2kube/internal/errors"
	"github.com/systmms/keyvault2kube/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", kverrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		kubeconfig string
		logFormat  string
		noColor    bool
		debug      bool
	)

	cfg := config.New("", nil)
	app := commands.NewApp(cfg)

	rootCmd := &cobra.Command{
		Use:   "keyvault2kube",
		Short: "Sync tagged vault secrets into Kubernetes secrets",
		Long: `keyvault2kube reads secrets from Azure Key Vault, AWS Secrets Manager and
GCP Secret Manager, and keeps Kubernetes secrets in sync with them.

Vault entries opt in with tags: k8s_secret_name names the target secret,
k8s_secret_key the data key, k8s_namespaces the target namespaces ("*" for
all), k8s_type the secret type and k8s_convert a conversion.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := logging.ParseFormat(logFormat)
			if err != nil {
				return err
			}

			cfg.Path = configFile
			cfg.Logger = logging.NewWithOptions(logging.Options{
				Debug:   debug,
				NoColor: noColor,
				Format:  format,
			})
			app.Kubeconfig = kubeconfig
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cfg.Logger != nil {
				_ = cfg.Logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("KV2KUBE_CONFIG"), "Config file path (optional when KEY_VAULT_URLS is set)")
	rootCmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "Kubeconfig path (default: in-cluster, then KUBECONFIG or ~/.kube/config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "Log format: auto, json or console")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewSyncCommand(app),
		commands.NewRenderCommand(app),
		commands.NewPlanCommand(app),
		commands.NewSourcesCommand(app),
		commands.NewCompletionCommand(),
	)

	return rootCmd.Execute()
}
