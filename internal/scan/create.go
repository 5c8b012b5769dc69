package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gurisko/hearth/internal/manifest"
	"github.com/gurisko/hearth/internal/registry"
)

// ErrInstanceExists is returned by Create when the generated directory is taken
var ErrInstanceExists = errors.New("instance directory already exists")

// Create writes a new instance under root: a fresh UUID directory holding the
// configuration file and an empty package directory. The configuration is
// validated like a scanned one before anything touches the disk.
func Create(root string, m *manifest.Manifest) (*registry.Instance, error) {
	id := registry.GenerateInstanceID()
	dir := filepath.Join(root, id)
	configPath := filepath.Join(dir, ConfigFileRelPath)

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	parsed, err := manifest.Parse(configPath, data)
	if err != nil {
		return nil, newError(ErrConfigParse, configPath, err)
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceExists, dir)
		}
		return nil, newError(ErrIO, dir, err)
	}
	if err := os.Mkdir(filepath.Join(dir, PackageDirRelPath), 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, newError(ErrIO, dir, err)
	}
	if err := manifest.Save(configPath, parsed); err != nil {
		_ = os.RemoveAll(dir)
		return nil, newError(ErrIO, configPath, err)
	}

	return Build(dir, parsed)
}
