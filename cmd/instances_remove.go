//go:build unix

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rmJSON bool
var rmYes bool

var instancesRemoveCmd = &cobra.Command{
	Use:   "remove <uuid>",
	Short: "Unregister an instance by UUID",
	Long: `Unregister an instance from the daemon. The instance directory is left on disk,
so the next scan registers it again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		id := strings.TrimSpace(args[0])

		// refuse to prompt on non-tty unless -y
		if !rmYes && !rmJSON {
			if fi, _ := os.Stdin.Stat(); (fi.Mode() & os.ModeCharDevice) == 0 {
				return errors.New("refusing to prompt on non-interactive stdin; use -y to confirm")
			}
			fmt.Printf("Unregister instance %s? [y/N]: ", id)
			reader := bufio.NewReader(os.Stdin)
			ans, _ := reader.ReadString('\n')
			ans = strings.ToLower(strings.TrimSpace(ans))
			if ans != "y" && ans != "yes" {
				fmt.Println("aborted")
				return nil
			}
		}

		if err := c.Delete(cmd.Context(), "/api/instances/"+url.PathEscape(id)); err != nil {
			return err
		}

		if rmJSON {
			// API returns 204; supply a tiny confirmation object for scripting
			return printJSON(map[string]any{"removed": true, "uuid": id})
		}
		fmt.Println("Removed", id)
		return nil
	},
}

func init() {
	instancesCmd.AddCommand(instancesRemoveCmd)
	instancesRemoveCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "assume yes")
	instancesRemoveCmd.Flags().BoolVar(&rmJSON, "json", false, "print JSON")
}
