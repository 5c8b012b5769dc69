//go:build unix

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurisko/hearth/internal/history"
)

type scansResp struct {
	Scans []history.Record `json:"scans"`
}

var scansJSON bool
var scansLimit int

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Show recent scan history",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out scansResp
		path := "/api/scans?limit=" + strconv.Itoa(scansLimit)
		if err := newClient().GetJSON(cmd.Context(), path, &out); err != nil {
			return err
		}
		if scansJSON {
			return printJSON(out)
		}
		if len(out.Scans) == 0 {
			fmt.Println("No scans recorded")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tDURATION\tADMITTED\tFAILED\tROOT")
		for _, s := range out.Scans {
			fmt.Fprintf(w, "%s\t%dms\t%d\t%d\t%s\n",
				s.StartedAt.Local().Format(time.RFC3339), s.DurationMS, s.Admitted, s.Failed, s.Root)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scansCmd)
	scansCmd.Flags().BoolVar(&scansJSON, "json", false, "print JSON")
	scansCmd.Flags().IntVar(&scansLimit, "limit", history.DefaultLimit, "number of scans to show")
}
