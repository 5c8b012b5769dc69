// Package config loads hearth settings from the config file, HEARTH_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gurisko/hearth/internal/logging"
	"github.com/gurisko/hearth/internal/paths"
)

const envPrefix = "HEARTH"

// Settings is the resolved configuration
type Settings struct {
	BasePath string         `mapstructure:"base_path"` // Overrides the data dir and override file
	Log      logging.Config `mapstructure:"log"`
	Scan     ScanSettings   `mapstructure:"scan"`
	Watch    WatchSettings  `mapstructure:"watch"`
}

// ScanSettings tunes instance scans
type ScanSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// WatchSettings tunes the instances watcher in the daemon
type WatchSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// New returns a viper instance reading cfgFile (or the default config path)
// with defaults and environment binding in place.
func New(cfgFile string) *viper.Viper {
	v := viper.New()

	defaults := logging.DefaultConfig()
	v.SetDefault("base_path", "")
	v.SetDefault("log.level", defaults.Level)
	v.SetDefault("log.format", defaults.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", defaults.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.MaxBackups)
	v.SetDefault("scan.timeout", 30*time.Second)
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", time.Second)

	if cfgFile == "" {
		cfgFile = paths.DefaultConfigPath()
	}
	v.SetConfigFile(cfgFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the config file, if present, and decodes the settings
func Load(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	return Decode(v)
}

// Decode converts the current viper state into Settings
func Decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if s.Scan.Timeout <= 0 {
		return nil, fmt.Errorf("scan.timeout must be positive, got %s", s.Scan.Timeout)
	}
	return &s, nil
}
