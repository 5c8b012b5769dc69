// Package history records completed scans in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/gurisko/hearth/internal/scan"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultLimit is used by Recent when limit is not positive
const DefaultLimit = 20

// timeLayout is fixed width so started_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FailureRecord is one rejected entry of a recorded scan
type FailureRecord struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Record is one completed scan
type Record struct {
	ID         string          `json:"id"`
	Root       string          `json:"root"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"-"`
	DurationMS int64           `json:"duration_ms"`
	Admitted   int             `json:"admitted"`
	Failed     int             `json:"failed"`
	Failures   []FailureRecord `json:"failures,omitempty"`
}

// FromReport summarizes a scan report
func FromReport(report *scan.Report) Record {
	r := Record{
		Root:       report.Root,
		StartedAt:  report.StartedAt,
		Duration:   report.Duration,
		DurationMS: report.Duration.Milliseconds(),
		Admitted:   len(report.Admitted),
		Failed:     len(report.Failures),
	}
	for _, f := range report.Failures {
		r.Failures = append(r.Failures, FailureRecord{
			Path:  f.Path,
			Kind:  scan.KindName(f.Err),
			Error: f.Err.Error(),
		})
	}
	return r
}

// Store is the scan history database
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	// Single writer connection for SQLite
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores r, assigning an ID when it has none, and returns the stored ID
func (s *Store) Add(ctx context.Context, r Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Duration == 0 && r.DurationMS != 0 {
		r.Duration = time.Duration(r.DurationMS) * time.Millisecond
	}
	failures := r.Failures
	if failures == nil {
		failures = []FailureRecord{}
	}
	encoded, err := json.Marshal(failures)
	if err != nil {
		return "", fmt.Errorf("encoding failures: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (id, root, started_at, duration_ms, admitted, failed, failures)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Root, r.StartedAt.UTC().Format(timeLayout), r.Duration.Milliseconds(),
		r.Admitted, r.Failed, string(encoded))
	if err != nil {
		return "", fmt.Errorf("inserting scan %s: %w", r.ID, err)
	}
	return r.ID, nil
}

// Recent returns up to limit scans, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, root, started_at, duration_ms, admitted, failed, failures
		 FROM scans ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scans: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			startedAt  string
			durationMS int64
			failures   string
		)
		if err := rows.Scan(&r.ID, &r.Root, &startedAt, &durationMS, &r.Admitted, &r.Failed, &failures); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at of scan %s: %w", r.ID, err)
		}
		r.DurationMS = durationMS
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(failures), &r.Failures); err != nil {
			return nil, fmt.Errorf("decoding failures of scan %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
