package scan

import (
	"path/filepath"

	"github.com/gurisko/hearth/internal/manifest"
	"github.com/gurisko/hearth/internal/registry"
)

// Build assembles a persisted Instance from its directory and parsed configuration.
// The UUID is the directory name; names that are not valid identity text fail
// with ErrInvalidIdentity.
func Build(dir string, m *manifest.Manifest) (*registry.Instance, error) {
	id, err := registry.IdentityFromName(filepath.Base(dir))
	if err != nil {
		return nil, newError(ErrInvalidIdentity, dir, err)
	}

	return &registry.Instance{
		UUID:    id,
		Name:    m.InstanceName,
		Package: PackageFromManifest(m.Package),
		Status:  registry.Persisted(dir),
	}, nil
}

// PackageFromManifest converts the configuration's package section
func PackageFromManifest(p manifest.PackageSection) registry.Package {
	pkg := registry.Package{Version: p.Version}
	for _, l := range p.Loaders {
		pkg.Loaders = append(pkg.Loaders, registry.Loader{Kind: l.Kind, Version: l.Version})
	}
	return pkg
}

func notesFromManifest(n *manifest.Notes) *registry.Notes {
	if n == nil {
		return nil
	}
	return &registry.Notes{Title: n.Title, Tags: n.Tags, Body: n.Body}
}
