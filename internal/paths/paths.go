package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	appName = "hearth"
	// OverrideFileName holds an alternative base path
	OverrideFileName = "runtime_path_override.txt"
	// InstancesDirName is the directory below the base path that holds instances
	InstancesDirName = "instances"
)

func xdgDir(env string, fallback ...string) string {
	if x := os.Getenv(env); x != "" {
		return filepath.Join(x, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(append([]string{home}, append(fallback, appName)...)...)
}

func DefaultRuntimeDir() string {
	if x := os.Getenv("XDG_RUNTIME_DIR"); x != "" {
		return filepath.Join(x, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+appName)
}

func DefaultStateDir() string  { return xdgDir("XDG_STATE_HOME", ".local", "state") }
func DefaultDataDir() string   { return xdgDir("XDG_DATA_HOME", ".local", "share") }
func DefaultConfigDir() string { return xdgDir("XDG_CONFIG_HOME", ".config") }

func DefaultSocketPath() string   { return filepath.Join(DefaultRuntimeDir(), "daemon.sock") }
func DefaultPIDPath() string      { return filepath.Join(DefaultRuntimeDir(), "daemon.pid") }
func DefaultSnapshotPath() string { return filepath.Join(DefaultStateDir(), "instances.yaml") }
func DefaultHistoryPath() string  { return filepath.Join(DefaultStateDir(), "history.db") }
func DefaultConfigPath() string   { return filepath.Join(DefaultConfigDir(), "config.yaml") }

// ResolveBase returns the base path instances live under.
//
// An explicit override wins. Otherwise the trimmed contents of the override
// file in dataDir are used, and dataDir itself when the file is missing or
// blank. The chosen directory is created if missing.
func ResolveBase(override, dataDir string) (string, error) {
	base := dataDir
	switch {
	case override != "":
		base = override
	default:
		data, err := os.ReadFile(filepath.Join(dataDir, OverrideFileName))
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read %s: %w", OverrideFileName, err)
		}
		if p := strings.TrimSpace(string(data)); p != "" {
			base = p
		}
	}

	if strings.HasPrefix(base, "~") {
		if home, _ := os.UserHomeDir(); home != "" {
			base = filepath.Join(home, strings.TrimPrefix(base, "~"))
		}
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("failed to create base directory %s: %w", base, err)
	}
	return base, nil
}

// InstancesDir returns the instances root below base
func InstancesDir(base string) string {
	return filepath.Join(base, InstancesDirName)
}
