// Package logging builds the process logger and carries it through contexts.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging setup
type Config struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // text or json
	File       string `mapstructure:"file"`   // optional rotating log file
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DefaultConfig returns text logs at info level on stderr
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", MaxSizeMB: 20, MaxBackups: 3}
}

// swapHandler delegates to an inner handler that can be replaced at runtime
type swapHandler struct {
	inner *atomic.Pointer[slog.Handler]
	attrs func(slog.Handler) slog.Handler
}

func (s *swapHandler) current() slog.Handler {
	h := *s.inner.Load()
	if s.attrs != nil {
		return s.attrs(h)
	}
	return h
}

func (s *swapHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return s.current().Enabled(ctx, l)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prev := s.attrs
	return &swapHandler{inner: s.inner, attrs: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithAttrs(attrs)
	}}
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	prev := s.attrs
	return &swapHandler{inner: s.inner, attrs: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithGroup(name)
	}}
}

// Manager owns the logger and lets the daemon apply config changes live
type Manager struct {
	mu     sync.Mutex
	level  *slog.LevelVar
	inner  *atomic.Pointer[slog.Handler]
	config Config
	closer io.Closer
	stderr io.Writer
}

// NewManager builds a Manager writing to stderr (and cfg.File when set)
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return newManager(cfg, os.Stderr)
}

func newManager(cfg Config, stderr io.Writer) (*Manager, *slog.Logger) {
	m := &Manager{
		level:  &slog.LevelVar{},
		inner:  &atomic.Pointer[slog.Handler]{},
		stderr: stderr,
	}
	m.apply(cfg)
	return m, slog.New(&swapHandler{inner: m.inner})
}

// Reconfigure applies cfg. Level changes are instant; format or file
// changes rebuild the handler.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.Format == m.config.Format && cfg.File == m.config.File &&
		cfg.MaxSizeMB == m.config.MaxSizeMB && cfg.MaxBackups == m.config.MaxBackups {
		m.level.Set(ParseLevel(cfg.Level))
		m.config = cfg
		return
	}
	if m.closer != nil {
		_ = m.closer.Close()
		m.closer = nil
	}
	m.apply(cfg)
}

// apply builds the handler for cfg (caller must hold lock or own m exclusively)
func (m *Manager) apply(cfg Config) {
	m.level.Set(ParseLevel(cfg.Level))

	var w io.Writer = m.stderr
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 20),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
		}
		w = io.MultiWriter(m.stderr, lj)
		m.closer = lj
	}

	opts := &slog.HandlerOptions{Level: m.level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	m.inner.Store(&h)
	m.config = cfg
}

// Config returns the active configuration
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file, if any
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

// ParseLevel converts a level name to slog.Level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
