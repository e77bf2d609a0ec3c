package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/internal/reconcile"
)

// PlanEntry is one (secret, namespace) pair in plan output.
type PlanEntry struct {
	Secret    string   `json:"secret"`
	Namespace string   `json:"namespace,omitempty"`
	Action    string   `json:"action,omitempty"`
	Changed   []string `json:"changed,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// PlanOutput is the JSON document printed by plan --json.
type PlanOutput struct {
	Status  string      `json:"status"`
	Entries []PlanEntry `json:"entries"`
	Errors  []string    `json:"errors,omitempty"`
}

func NewPlanCommand(app *App) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would create or patch (no writes)",
		Long: `Plan lists every configured vault, reads the matching secrets from the
cluster and prints whether each (secret, namespace) pair would be created,
patched or left alone. Secret values are never printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := app.logger()

			sources, err := app.loadSources()
			if err != nil {
				return err
			}
			defer closeSources(sources, logger)

			cluster, err := app.cluster()
			if err != nil {
				return err
			}

			reconciler := reconcile.NewReconciler(sources, cluster, logger,
				reconcile.WithBuilder(app.builder()),
				reconcile.WithDryRun(true))
			res := reconciler.Reconcile(cmd.Context())
			out := planOutput(res)

			if outputJSON {
				if err := outputPlanJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else if err := outputPlanTable(cmd.OutOrStdout(), out); err != nil {
				return err
			}

			if res.Status() == metrics.StatusFailed {
				return fmt.Errorf("no vault source could be listed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	return cmd
}

func planOutput(res *reconcile.Result) PlanOutput {
	out := PlanOutput{Status: res.Status(), Entries: make([]PlanEntry, 0, len(res.Outcomes))}
	for _, o := range res.Outcomes {
		entry := PlanEntry{
			Secret:    o.Secret,
			Namespace: o.Namespace,
			Action:    string(o.Action),
			Changed:   o.Changed,
		}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		out.Entries = append(out.Entries, entry)
	}
	if err := res.Snapshot.Err(); err != nil {
		out.Errors = strings.Split(err.Error(), "\n")
	}
	return out
}

func outputPlanJSON(w io.Writer, out PlanOutput) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func outputPlanTable(w io.Writer, out PlanOutput) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "SECRET\tNAMESPACE\tACTION\tDETAILS\n")
	_, _ = fmt.Fprintf(tw, "------\t---------\t------\t-------\n")

	for _, e := range out.Entries {
		action := e.Action
		details := strings.Join(e.Changed, ",")
		if e.Error != "" {
			action = "error"
			details = e.Error
		}
		namespace := e.Namespace
		if namespace == "" {
			namespace = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Secret, namespace, action, details)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, msg := range out.Errors {
		_, _ = fmt.Fprintf(w, "skipped: %s\n", msg)
	}
	_, _ = fmt.Fprintf(w, "\nStatus: %s (%d pair(s))\n", out.Status, len(out.Entries))
	return nil
}
