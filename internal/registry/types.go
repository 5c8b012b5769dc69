package registry

import "time"

// StatusKind tells where an instance lives
type StatusKind string

const (
	// StatusNew marks an instance built in memory that has not been written to disk yet
	StatusNew StatusKind = "new"
	// StatusPersisted marks an instance reconstructed from (or written to) its directory
	StatusPersisted StatusKind = "persisted"
)

// PersistenceStatus records whether an instance is backed by a directory on disk
type PersistenceStatus struct {
	Kind StatusKind `yaml:"kind" json:"kind"`
	Path string     `yaml:"path,omitempty" json:"path,omitempty"` // Instance directory, set when persisted
}

// Persisted returns the status of an instance backed by dir
func Persisted(dir string) PersistenceStatus {
	return PersistenceStatus{Kind: StatusPersisted, Path: dir}
}

// Loader is a mod loader pinned by an instance package
type Loader struct {
	Kind    string `yaml:"kind" json:"kind"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// Package is the nested content package an instance owns
type Package struct {
	Version string   `yaml:"version" json:"version"` // Canonical semver of the package
	Loaders []Loader `yaml:"loaders,omitempty" json:"loaders,omitempty"`
}

// Notes is the optional human-written notes.md of an instance
type Notes struct {
	Title string   `yaml:"title,omitempty" json:"title,omitempty"`
	Tags  []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Body  string   `yaml:"body,omitempty" json:"body,omitempty"`
}

// Instance is an admitted installation profile
type Instance struct {
	UUID      string            `yaml:"uuid" json:"uuid"` // Directory name, NFC-normalised
	Name      string            `yaml:"name" json:"name"` // Display name from the instance config
	Package   Package           `yaml:"package" json:"package"`
	Status    PersistenceStatus `yaml:"status" json:"status"`
	Notes     *Notes            `yaml:"notes,omitempty" json:"notes,omitempty"`
	Revision  string            `yaml:"revision,omitempty" json:"revision,omitempty"` // git HEAD when the directory is a repository
	ScannedAt time.Time         `yaml:"scanned_at,omitempty" json:"scanned_at,omitempty"`
}

// Path returns the instance directory, or "" for instances that are not persisted
func (i *Instance) Path() string {
	if i.Status.Kind != StatusPersisted {
		return ""
	}
	return i.Status.Path
}

// SnapshotData is the on-disk index written after each scan
type SnapshotData struct {
	Root      string               `yaml:"root"`
	SavedAt   time.Time            `yaml:"saved_at"`
	Instances map[string]*Instance `yaml:"instances"` // Map of UUID to Instance
}
