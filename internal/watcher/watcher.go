// Package watcher triggers instance rescans when the instances root changes.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// instanceConfigDir is watched inside each instance so config edits are seen
const instanceConfigDir = ".instance"

// Service watches the instances root, every instance directory and each
// instance's configuration folder, and runs scanFn once changes settle.
type Service struct {
	root     string
	scanFn   func(ctx context.Context) error
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watching map[string]bool

	ready     chan struct{}
	readyOnce sync.Once
}

// NewService creates a watcher for root
func NewService(root string, scanFn func(ctx context.Context) error, logger *slog.Logger) *Service {
	return &Service{
		root:     root,
		scanFn:   scanFn,
		logger:   logger.With("component", "fs-watcher"),
		debounce: time.Second,
		watching: make(map[string]bool),
		ready:    make(chan struct{}),
	}
}

// SetDebounce overrides the default debounce interval
func (s *Service) SetDebounce(d time.Duration) {
	if d > 0 {
		s.debounce = d
	}
}

// Ready is closed once the initial watches are in place
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start blocks until ctx is canceled or fsnotify is unavailable
func (s *Service) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.markReady()
		return err
	}
	defer w.Close() //nolint:errcheck

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	s.refreshWatchPaths()
	s.markReady()
	s.logger.Info("filesystem watcher starting", "root", s.root)

	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()
	scanPending := false

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !s.relevant(ev) {
				continue
			}
			s.logger.Debug("instances changed", "path", ev.Name, "op", ev.Op.String())
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(s.debounce)
			scanPending = true

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if !scanPending {
				continue
			}
			scanPending = false
			s.refreshWatchPaths()
			s.logger.Info("debounce elapsed, triggering scan")
			if err := s.scanFn(ctx); err != nil {
				s.logger.Error("scan triggered by fs watcher failed", "error", err)
			}
		}
	}
}

func (s *Service) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// relevant drops chmod-only events and events outside watched directories
func (s *Service) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watching[filepath.Dir(ev.Name)] || s.watching[ev.Name]
}

// wantedPaths lists the root, its child directories and their config folders
func (s *Service) wantedPaths() map[string]bool {
	wanted := make(map[string]bool)
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		s.logger.Warn("instances root not watchable", "root", s.root, "error", err)
		return wanted
	}
	wanted[s.root] = true

	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn("failed to list instances root", "root", s.root, "error", err)
		return wanted
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		wanted[dir] = true
		cfg := filepath.Join(dir, instanceConfigDir)
		if info, err := os.Stat(cfg); err == nil && info.IsDir() {
			wanted[cfg] = true
		}
	}
	return wanted
}

// refreshWatchPaths synchronizes the watch set with the directories on disk
func (s *Service) refreshWatchPaths() {
	wanted := s.wantedPaths()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return
	}

	for path := range s.watching {
		if !wanted[path] {
			// The directory may already be gone, in which case fsnotify dropped it.
			_ = s.watcher.Remove(path)
			delete(s.watching, path)
		}
	}
	for path := range wanted {
		if s.watching[path] {
			continue
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch path", "path", path, "error", err)
			continue
		}
		s.watching[path] = true
	}
}

// Watching reports whether path is currently watched
func (s *Service) Watching(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watching[path]
}
