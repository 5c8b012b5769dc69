//go:build unix

package cmd

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/gurisko/hearth/internal/config"
	"github.com/gurisko/hearth/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the Hearth daemon",
	Long: `Control the Hearth background daemon that keeps the instance registry via Unix socket.

The daemon runs in the background and provides:
- HTTP API over Unix socket
- Instance scans on request and on filesystem changes
- Scan history`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Hearth daemon",
	Long: `Start the Hearth daemon in foreground mode.

For background operation, use:
  nohup hearth daemon start > /tmp/hearth-daemon.log 2>&1 &`,
	RunE: startDaemon,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Hearth daemon",
	Long:  "Stop the running Hearth daemon gracefully.",
	RunE:  stopDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long:  "Check if the Hearth daemon is running and display its status.",
	RunE:  statusDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

// daemonConfig builds the daemon configuration from the loaded settings
func daemonConfig() (*daemon.Config, error) {
	root, err := instancesRoot()
	if err != nil {
		return nil, err
	}
	cfg := daemon.DefaultConfig()
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	cfg.InstancesRoot = root
	cfg.ScanTimeout = settings.Scan.Timeout
	cfg.Watch = settings.Watch
	cfg.Logger = logger
	return cfg, nil
}

func startDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := daemonConfig()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	// Log settings follow config file edits while the daemon runs.
	v.OnConfigChange(func(e fsnotify.Event) {
		s, err := config.Decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		logMgr.Reconfigure(s.Log)
		logger.Info("config reloaded", "file", e.Name)
	})
	v.WatchConfig()

	return d.Start()
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := daemonConfig()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	return d.Stop()
}

func statusDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := daemonConfig()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	status, err := d.GetStatus()
	if err != nil {
		return err
	}

	// Format for display
	if !status.Running {
		if status.PID > 0 {
			if status.ErrorMessage != "" {
				fmt.Printf("Hearth daemon process exists (PID: %d) but not responding\n", status.PID)
				fmt.Printf("  Socket: %s\n", status.SocketPath)
				fmt.Printf("  Error: %v\n", status.ErrorMessage)
			} else {
				fmt.Printf("Hearth daemon is not running (stale pidfile)\n")
				fmt.Printf("  Socket: %s\n", status.SocketPath)
			}
		} else {
			fmt.Printf("Hearth daemon is not running\n")
			fmt.Printf("  Socket: %s\n", status.SocketPath)
		}
	} else {
		fmt.Printf("Hearth daemon running (PID: %d)\n", status.PID)
		fmt.Printf("  Socket: %s\n", status.SocketPath)
		fmt.Printf("  Instances: %d in %s\n", status.Instances, status.Root)
		fmt.Printf("  Uptime: %s\n", status.Uptime.Round(time.Second))
	}

	return nil
}
