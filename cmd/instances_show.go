//go:build unix

package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/hearth/internal/registry"
)

type showResp struct {
	Instance *registry.Instance `json:"instance"`
}

var showJSON bool

var instancesShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show one instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := strings.TrimSpace(args[0])
		var out showResp
		if err := newClient().GetJSON(cmd.Context(), "/api/instances/"+url.PathEscape(id), &out); err != nil {
			return err
		}
		if showJSON {
			return printJSON(out)
		}

		inst := out.Instance
		fmt.Printf("UUID:     %s\n", inst.UUID)
		fmt.Printf("Name:     %s\n", inst.Name)
		fmt.Printf("Version:  %s\n", inst.Package.Version)
		fmt.Printf("Loaders:  %s\n", formatLoaders(inst.Package.Loaders))
		fmt.Printf("Path:     %s\n", inst.Path())
		if inst.Revision != "" {
			fmt.Printf("Revision: %s\n", inst.Revision)
		}
		if !inst.ScannedAt.IsZero() {
			fmt.Printf("Scanned:  %s\n", inst.ScannedAt.Local().Format("2006-01-02 15:04:05"))
		}
		if n := inst.Notes; n != nil {
			if n.Title != "" {
				fmt.Printf("Notes:    %s\n", n.Title)
			}
			if len(n.Tags) > 0 {
				fmt.Printf("Tags:     %s\n", strings.Join(n.Tags, ", "))
			}
			if n.Body != "" {
				fmt.Printf("\n%s\n", n.Body)
			}
		}
		return nil
	},
}

func init() {
	instancesCmd.AddCommand(instancesShowCmd)
	instancesShowCmd.Flags().BoolVar(&showJSON, "json", false, "print JSON")
}
