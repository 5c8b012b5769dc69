//go:build unix

package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gurisko/hearth/internal/paths"
	"github.com/gurisko/hearth/internal/registry"
)

type listResp struct {
	Instances []*registry.Instance `json:"instances"`
	Count     int                  `json:"count"`
}

var listJSON bool
var listOffline bool

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered instances",
	Long: `List the instances known to the daemon.

With --offline the last snapshot written by the daemon is read instead, so the
list works while the daemon is stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out listResp
		if listOffline {
			snap, err := registry.LoadSnapshot(paths.DefaultSnapshotPath())
			if err != nil {
				return err
			}
			out.Instances = snap.Sorted()
			out.Count = len(out.Instances)
		} else if err := newClient().GetJSON(cmd.Context(), "/api/instances", &out); err != nil {
			return err
		}

		if listJSON {
			return printJSON(out)
		}
		if len(out.Instances) == 0 {
			fmt.Println("No instances registered")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UUID\tNAME\tVERSION\tLOADERS\tPATH")
		for _, inst := range out.Instances {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", inst.UUID, inst.Name, inst.Package.Version, formatLoaders(inst.Package.Loaders), inst.Path())
		}
		return w.Flush()
	},
}

func init() {
	instancesCmd.AddCommand(instancesListCmd)
	instancesListCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	instancesListCmd.Flags().BoolVar(&listOffline, "offline", false, "read the last snapshot instead of asking the daemon")
}

func formatLoaders(loaders []registry.Loader) string {
	if len(loaders) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(loaders))
	for _, l := range loaders {
		if l.Version == "" {
			parts = append(parts, l.Kind)
			continue
		}
		parts = append(parts, l.Kind+"@"+l.Version)
	}
	return strings.Join(parts, ",")
}
