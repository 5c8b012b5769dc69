package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gurisko/hearth/internal/config"
	"github.com/gurisko/hearth/internal/logging"
	"github.com/gurisko/hearth/internal/paths"
)

var (
	cfgFile    string
	logLevel   string
	socketPath string

	v        *viper.Viper
	settings *config.Settings
	logMgr   *logging.Manager
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Hearth - game instance manager",
	Long: `Hearth discovers and manages game instances: self-contained directories holding
an instance configuration file and a content package.`,
}

func init() {
	rootCmd.PersistentPreRunE = loadSettings
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/hearth/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path")
}

func Execute() error {
	// Silence usage and errors to avoid cluttering output with Cobra defaults
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	defer func() {
		if logMgr != nil {
			_ = logMgr.Close()
		}
	}()
	return rootCmd.Execute()
}

// loadSettings reads config file, environment and flags, then sets up logging
func loadSettings(cmd *cobra.Command, args []string) error {
	v = config.New(cfgFile)
	if err := v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
		return err
	}

	s, err := config.Load(v)
	if err != nil {
		return err
	}
	settings = s

	if logMgr != nil {
		_ = logMgr.Close()
	}
	logMgr, logger = logging.NewManager(settings.Log)
	slog.SetDefault(logger)
	return nil
}

// instancesRoot resolves the base path and returns its instances directory
func instancesRoot() (string, error) {
	base, err := paths.ResolveBase(settings.BasePath, paths.DefaultDataDir())
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	return paths.InstancesDir(base), nil
}
