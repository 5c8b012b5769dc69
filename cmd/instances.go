//go:build unix

package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gurisko/hearth/internal/apiclient"
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"inst"},
	Short:   "Discover and manage instances",
}

func init() {
	rootCmd.AddCommand(instancesCmd)
}

func newClient() *apiclient.Client {
	return apiclient.New(socketPath)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
