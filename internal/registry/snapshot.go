package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SaveSnapshot writes the registry index to path.
// The file is replaced atomically so readers never see a partial index.
func (r *Registry) SaveSnapshot(path, root string) error {
	r.mu.RLock()
	data := &SnapshotData{
		Root:      root,
		SavedAt:   time.Now().UTC(),
		Instances: make(map[string]*Instance, len(r.instances)),
	}
	for id, inst := range r.instances {
		data.Instances[id] = inst
	}
	r.mu.RUnlock()

	return writeSnapshot(path, data)
}

func writeSnapshot(path string, snapshot *SnapshotData) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	f, err := os.CreateTemp(dir, ".instances-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	// Best-effort cleanup if we fail
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to fsync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	// Ensure directory metadata is persisted
	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}

	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
// A missing file yields an empty snapshot.
func LoadSnapshot(path string) (*SnapshotData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SnapshotData{Instances: make(map[string]*Instance)}, nil
		}
		return nil, err
	}

	var snapshot SnapshotData
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snapshot.Instances == nil {
		snapshot.Instances = make(map[string]*Instance)
	}
	return &snapshot, nil
}

// Sorted returns the snapshot's instances sorted by name then UUID
func (s *SnapshotData) Sorted() []*Instance {
	instances := make([]*Instance, 0, len(s.Instances))
	for _, inst := range s.Instances {
		instances = append(instances, inst)
	}
	sortInstances(instances)
	return instances
}
