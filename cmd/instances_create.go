//go:build unix

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/hearth/internal/registry"
)

type createReq struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Loaders []registry.Loader `json:"loaders,omitempty"`
}

var (
	createName    string
	createVersion string
	createLoaders []string
	createJSON    bool
)

var instancesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new instance",
	Long: `Create a new instance directory with a generated UUID, its configuration file
and an empty package directory, and register it with the daemon.

Loaders are given as kind or kind@version, for example --loader fabric@0.16.9.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := createReq{Name: createName, Version: createVersion}
		for _, spec := range createLoaders {
			l, err := parseLoader(spec)
			if err != nil {
				return err
			}
			req.Loaders = append(req.Loaders, l)
		}

		var out showResp
		if err := newClient().PostJSON(cmd.Context(), "/api/instances", req, &out); err != nil {
			return err
		}
		if createJSON {
			return printJSON(out)
		}
		fmt.Printf("Created instance %s (%s)\n", out.Instance.UUID, out.Instance.Name)
		fmt.Printf("  Path: %s\n", out.Instance.Path())
		return nil
	},
}

func init() {
	instancesCmd.AddCommand(instancesCreateCmd)
	instancesCreateCmd.Flags().StringVar(&createName, "name", "", "instance display name")
	instancesCreateCmd.Flags().StringVar(&createVersion, "version", "", "package version")
	instancesCreateCmd.Flags().StringArrayVar(&createLoaders, "loader", nil, "mod loader as kind[@version] (repeatable)")
	instancesCreateCmd.Flags().BoolVar(&createJSON, "json", false, "print JSON")
	_ = instancesCreateCmd.MarkFlagRequired("name")
	_ = instancesCreateCmd.MarkFlagRequired("version")
}

func parseLoader(spec string) (registry.Loader, error) {
	kind, version, _ := strings.Cut(strings.TrimSpace(spec), "@")
	if kind == "" {
		return registry.Loader{}, fmt.Errorf("invalid loader %q: expected kind[@version]", spec)
	}
	return registry.Loader{Kind: strings.ToLower(kind), Version: version}, nil
}
