//go:build unix

package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gurisko/hearth/internal/history"
	"github.com/gurisko/hearth/internal/logging"
	"github.com/gurisko/hearth/internal/registry"
	"github.com/gurisko/hearth/internal/scan"
)

type scanResp struct {
	Root       string                  `json:"root"`
	Admitted   []*registry.Instance    `json:"admitted"`
	Failures   []history.FailureRecord `json:"failures"`
	DurationMS int64                   `json:"duration_ms"`
}

var scanJSON bool
var scanLocal bool

var instancesScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the instances directory",
	Long: `Scan every entry of the instances directory and register the valid instances.

Entries that fail validation are listed with the reason; they never stop the
others from being registered. With --local the scan runs in this process
without a daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out scanResp
		if scanLocal {
			resp, err := localScan(cmd.Context())
			if err != nil {
				return err
			}
			out = *resp
		} else if err := newClient().PostJSON(cmd.Context(), "/api/instances/scan", struct{}{}, &out); err != nil {
			return err
		}

		if scanJSON {
			return printJSON(out)
		}
		return printScan(out)
	},
}

func init() {
	instancesCmd.AddCommand(instancesScanCmd)
	instancesScanCmd.Flags().BoolVar(&scanJSON, "json", false, "print JSON")
	instancesScanCmd.Flags().BoolVar(&scanLocal, "local", false, "scan in-process without the daemon")
}

func localScan(ctx context.Context) (*scanResp, error) {
	root, err := instancesRoot()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, settings.Scan.Timeout)
	defer cancel()

	report, err := scan.New(root, nil).ScanForInstances(logging.WithLogger(ctx, logger), registry.New())
	if err != nil {
		return nil, err
	}
	rec := history.FromReport(report)
	return &scanResp{
		Root:       report.Root,
		Admitted:   report.Admitted,
		Failures:   rec.Failures,
		DurationMS: rec.DurationMS,
	}, nil
}

func printScan(out scanResp) error {
	fmt.Printf("Scanned %s in %dms: %d admitted, %d failed\n", out.Root, out.DurationMS, len(out.Admitted), len(out.Failures))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if len(out.Admitted) > 0 {
		fmt.Fprintln(w, "\nUUID\tNAME\tVERSION")
		for _, inst := range out.Admitted {
			fmt.Fprintf(w, "%s\t%s\t%s\n", inst.UUID, inst.Name, inst.Package.Version)
		}
	}
	if len(out.Failures) > 0 {
		fmt.Fprintln(w, "\nPATH\tKIND\tERROR")
		for _, f := range out.Failures {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, f.Kind, f.Error)
		}
	}
	return w.Flush()
}
