// Package scan discovers instances under the instances root and reconciles
// them into a registry.
package scan

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gurisko/hearth/internal/logging"
	"github.com/gurisko/hearth/internal/manifest"
	"github.com/gurisko/hearth/internal/registry"
	"github.com/gurisko/hearth/internal/vcs"
)

// readDirBatch bounds how many entries are read from the root per call
const readDirBatch = 256

// Failure is a rejected entry
type Failure struct {
	Path string // Entry path (the root itself for enumeration failures)
	Err  error  // *ScanError
}

// Report is the outcome of one scan
type Report struct {
	Root      string
	Admitted  []*registry.Instance // In enumeration order
	Failures  []Failure            // In enumeration order
	StartedAt time.Time
	Duration  time.Duration
}

// Scanner discovers instances below a root directory
type Scanner struct {
	root   string
	loader manifest.Loader
	now    func() time.Time
}

// New creates a Scanner for root. A nil loader selects manifest.FileLoader.
func New(root string, loader manifest.Loader) *Scanner {
	if loader == nil {
		loader = manifest.FileLoader{}
	}
	return &Scanner{root: root, loader: loader, now: time.Now}
}

// Root returns the instances root
func (s *Scanner) Root() string { return s.root }

type entryResult struct {
	path string
	inst *registry.Instance
	err  error
}

// ScanForInstances validates every immediate child of the root concurrently
// and inserts the valid ones into reg.
//
// The returned error is non-nil only when the root itself cannot be scanned,
// in which case reg is untouched. Per-entry failures are reported in
// Report.Failures and never stop other entries from being admitted.
func (s *Scanner) ScanForInstances(ctx context.Context, reg *registry.Registry) (*Report, error) {
	log := logging.FromContext(ctx)
	start := s.now()
	log.Debug("scanning directory for instances", "root", s.root)

	fi, err := os.Stat(s.root)
	switch {
	case err != nil && !isMissing(err):
		return nil, newError(ErrIO, s.root, err)
	case err != nil || !fi.IsDir():
		log.Debug("path is not pointing to a directory, aborting instance scan", "root", s.root)
		return nil, newError(ErrPathNotADirectory, s.root, err)
	}

	entries, readErr, err := s.enumerate()
	if err != nil {
		return nil, err
	}

	results := make([]entryResult, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			path := filepath.Join(s.root, entry.Name())
			inst, err := s.validateEntry(ctx, path)
			results[i] = entryResult{path: path, inst: inst, err: err}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Root: s.root, StartedAt: start.UTC()}
	for _, res := range results {
		if res.err != nil {
			report.Failures = append(report.Failures, Failure{Path: res.path, Err: res.err})
			continue
		}
		if err := reg.Insert(res.inst); err != nil {
			kind := ErrDuplicateInstance
			if !errors.Is(err, ErrDuplicateInstance) {
				kind = ErrInvalidIdentity
			}
			report.Failures = append(report.Failures, Failure{Path: res.path, Err: newError(kind, res.path, err)})
			continue
		}
		report.Admitted = append(report.Admitted, res.inst)
	}
	if readErr != nil {
		report.Failures = append(report.Failures, Failure{Path: s.root, Err: readErr})
	}
	report.Duration = s.now().Sub(start)

	log.Info("instance scan complete",
		"root", s.root,
		"entries", len(entries),
		"admitted", len(report.Admitted),
		"failures", len(report.Failures),
		"duration", report.Duration)
	return report, nil
}

// enumerate lists the root's children sorted by name. An error part-way
// through the listing is returned as readErr alongside the entries read so
// far; only failing to open the root is fatal.
func (s *Scanner) enumerate() (entries []fs.DirEntry, readErr error, err error) {
	f, err := os.Open(s.root)
	if err != nil {
		return nil, nil, newError(ErrIO, s.root, err)
	}
	defer f.Close()

	for {
		batch, err := f.ReadDir(readDirBatch)
		entries = append(entries, batch...)
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = newError(ErrIO, s.root, err)
			break
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, readErr, nil
}

// validateEntry runs structure check, configuration load and build for one
// entry. The first failing step ends the pipeline for this entry only.
func (s *Scanner) validateEntry(ctx context.Context, dir string) (*registry.Instance, error) {
	logging.FromContext(ctx).Debug("scanning directory for instance", "path", dir)

	if err := ctx.Err(); err != nil {
		return nil, newError(ErrIO, dir, err)
	}
	if err := CheckDirectory(dir); err != nil {
		return nil, err
	}

	configPath := filepath.Join(dir, ConfigFileRelPath)
	m, err := s.loader.Load(configPath)
	if err != nil {
		return nil, newError(loadErrorKind(err), configPath, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, newError(ErrIO, dir, err)
	}
	notesPath := filepath.Join(dir, NotesFileRelPath)
	notes, err := manifest.LoadNotes(notesPath)
	if err != nil {
		return nil, newError(loadErrorKind(err), notesPath, err)
	}
	revision, err := vcs.Head(dir)
	if err != nil {
		return nil, newError(ErrIO, dir, err)
	}

	inst, err := Build(dir, m)
	if err != nil {
		return nil, err
	}
	inst.Notes = notesFromManifest(notes)
	inst.Revision = revision
	inst.ScannedAt = s.now().UTC()
	return inst, nil
}

// loadErrorKind reports unreadable files as ErrIO and everything else as
// ErrConfigParse
func loadErrorKind(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ErrIO
	}
	return ErrConfigParse
}
