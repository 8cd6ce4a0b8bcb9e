package cli

import (
	"fmt"
	"io"
	"strings"

	"orgregistry/internal/catalog"
	"orgregistry/internal/services"

	"github.com/spf13/cobra"
)

func newSeedCmd(configPath *string) *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reconcile groups and permissions with the policy catalog",
		Long: `Reconcile groups and permissions with the policy catalog.

Missing groups and permissions are created, group flags and grants are
restored, and permissions no catalog role mentions are removed.
Running it twice in a row changes nothing the second time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !cmd.Flags().Changed("catalog") {
				catalogPath = rt.cfg.Catalog.Path
			}
			cat, err := catalog.FromPath(catalogPath)
			if err != nil {
				return err
			}

			report, err := rt.svc.Permissions.Reconcile(commandContext(cmd), cat)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "policy catalog file (defaults to catalog.path, or the built-in catalog)")
	return cmd
}

func printReport(w io.Writer, r *services.ReconcileReport) {
	if !r.Changed() {
		fmt.Fprintln(w, "Policy catalog already in sync.")
		return
	}
	lines := []struct {
		label string
		names []string
	}{
		{"Groups created", r.GroupsCreated},
		{"Groups updated", r.GroupsUpdated},
		{"Permissions created", r.PermissionsCreated},
		{"Permissions updated", r.PermissionsUpdated},
		{"Permissions pruned", r.PermissionsPruned},
	}
	for _, l := range lines {
		if len(l.names) > 0 {
			fmt.Fprintf(w, "%s: %s\n", l.label, strings.Join(l.names, ", "))
		}
	}
}
