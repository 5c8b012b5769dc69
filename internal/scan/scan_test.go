package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gurisko/hearth/internal/manifest"
	"github.com/gurisko/hearth/internal/registry"
)

const validConfig = `instance_name: %s
package:
  version: 1.20.1
  loaders:
    - kind: fabric
      version: 0.15.3
`

// fixture describes one entry under the instances root
type fixture struct {
	config string // config file content, "" to omit
	pkg    bool   // create package directory
	notes  string // notes.md content, "" to omit
	asFile bool   // create a plain file instead of a directory
	cfgDir bool   // create the config path as a directory
}

func valid(name string) fixture {
	return fixture{config: fmt.Sprintf(validConfig, name), pkg: true}
}

func makeRoot(t *testing.T, entries map[string]fixture) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "instances")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("failed to create root: %v", err)
	}

	for name, f := range entries {
		dir := filepath.Join(root, name)
		if f.asFile {
			if err := os.WriteFile(dir, []byte("not an instance"), 0o644); err != nil {
				t.Fatalf("failed to write %s: %v", name, err)
			}
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
		configPath := filepath.Join(dir, ConfigFileRelPath)
		if f.cfgDir {
			if err := os.MkdirAll(configPath, 0o755); err != nil {
				t.Fatalf("failed to create config dir: %v", err)
			}
		}
		if f.config != "" {
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				t.Fatalf("failed to create config folder: %v", err)
			}
			if err := os.WriteFile(configPath, []byte(f.config), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
		}
		if f.pkg {
			if err := os.MkdirAll(filepath.Join(dir, PackageDirRelPath), 0o755); err != nil {
				t.Fatalf("failed to create package dir: %v", err)
			}
		}
		if f.notes != "" {
			if err := os.WriteFile(filepath.Join(dir, NotesFileRelPath), []byte(f.notes), 0o644); err != nil {
				t.Fatalf("failed to write notes: %v", err)
			}
		}
	}
	return root
}

func uuids(instances []*registry.Instance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = inst.UUID
	}
	return out
}

// TestScan_Scenario covers a valid entry next to one missing its package
// directory and one missing its configuration file
func TestScan_Scenario(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		"A": valid("Alpha"),
		"B": {config: fmt.Sprintf(validConfig, "Beta")},
		"C": {pkg: true},
	})
	reg := registry.New()

	report, err := New(root, nil).ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}

	if got := uuids(report.Admitted); len(got) != 1 || got[0] != "A" {
		t.Fatalf("Expected admitted [A], got %v", got)
	}
	if !reg.Contains("A") || reg.Len() != 1 {
		t.Errorf("Expected registry to hold exactly A, got %d instances", reg.Len())
	}

	if len(report.Failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d: %+v", len(report.Failures), report.Failures)
	}
	b, c := report.Failures[0], report.Failures[1]
	if b.Path != filepath.Join(root, "B") || !errors.Is(b.Err, ErrFileStructureDoesNotMatch) {
		t.Errorf("Expected B FileStructureDoesNotMatch, got %s: %v", b.Path, b.Err)
	}
	if c.Path != filepath.Join(root, "C") || !errors.Is(c.Err, ErrFolderStructureDoesNotMatch) {
		t.Errorf("Expected C FolderStructureDoesNotMatch, got %s: %v", c.Path, c.Err)
	}

	var se *ScanError
	if !errors.As(b.Err, &se) || se.Path != filepath.Join(root, "B", PackageDirRelPath) {
		t.Errorf("Expected B error to carry the package path, got %+v", se)
	}
	if !errors.As(c.Err, &se) || se.Path != filepath.Join(root, "C", ConfigFileRelPath) {
		t.Errorf("Expected C error to carry the config path, got %+v", se)
	}

	inst, _ := reg.Get("A")
	if inst.Name != "Alpha" || inst.Package.Version != "1.20.1" {
		t.Errorf("Unexpected instance: %+v", inst)
	}
	if inst.Status.Kind != registry.StatusPersisted || inst.Path() != filepath.Join(root, "A") {
		t.Errorf("Expected persisted status at %s, got %+v", filepath.Join(root, "A"), inst.Status)
	}
}

func TestScan_ClassifiesEveryKind(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		"good-1":      valid("One"),
		"good-2":      valid("Two"),
		"good-3":      {config: fmt.Sprintf(validConfig, "Three"), pkg: true, notes: "---\ntitle: Three\n---\nbody\n"},
		"no-config":   {pkg: true},
		"no-package":  {config: fmt.Sprintf(validConfig, "NoPkg")},
		"bad-config":  {config: "instance_name: [oops\n", pkg: true},
		"schema-fail": {config: "package:\n  version: 1.0.0\n", pkg: true},
		"config-dir":  {cfgDir: true, pkg: true},
		"plain-file":  {asFile: true},
		"bad-notes":   {config: fmt.Sprintf(validConfig, "Notes"), pkg: true, notes: "---\ntitle: [broken\n---\n"},
	})
	reg := registry.New()

	report, err := New(root, nil).ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}

	if len(report.Admitted) != 3 {
		t.Errorf("Expected 3 admitted, got %v", uuids(report.Admitted))
	}
	if len(report.Failures) != 7 {
		t.Fatalf("Expected 7 failures, got %d", len(report.Failures))
	}

	want := map[string]error{
		"bad-config":  ErrConfigParse,
		"bad-notes":   ErrConfigParse,
		"config-dir":  ErrFolderStructureDoesNotMatch,
		"no-config":   ErrFolderStructureDoesNotMatch,
		"no-package":  ErrFileStructureDoesNotMatch,
		"plain-file":  ErrFolderStructureDoesNotMatch,
		"schema-fail": ErrConfigParse,
	}
	for _, f := range report.Failures {
		kind, ok := want[filepath.Base(f.Path)]
		if !ok {
			t.Errorf("Unexpected failure for %s: %v", f.Path, f.Err)
			continue
		}
		if !errors.Is(f.Err, kind) {
			t.Errorf("%s: expected %v, got %v", filepath.Base(f.Path), kind, f.Err)
		}
	}

	three, ok := reg.Get("good-3")
	if !ok || three.Notes == nil || three.Notes.Title != "Three" {
		t.Errorf("Expected notes on good-3, got %+v", three)
	}
}

func TestScan_ConfigParseCarriesCause(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		"x": {config: "package:\n  version: 1.0.0\n", pkg: true},
	})

	report, err := New(root, nil).ScanForInstances(context.Background(), registry.New())
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(report.Failures))
	}
	var pe *manifest.ParseError
	if !errors.As(report.Failures[0].Err, &pe) {
		t.Fatalf("Expected underlying *manifest.ParseError, got %v", report.Failures[0].Err)
	}
	if !errors.Is(report.Failures[0].Err, manifest.ErrSchemaViolation) {
		t.Errorf("Expected schema violation cause, got %v", report.Failures[0].Err)
	}
}

func TestScan_RootNotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "instances")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name string
		root string
	}{
		{name: "missing", root: filepath.Join(dir, "nope")},
		{name: "file", root: file},
		{name: "below a file", root: filepath.Join(file, "sub")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			_ = reg.Insert(&registry.Instance{UUID: "keep", Status: registry.Persisted("/keep")})

			report, err := New(tt.root, nil).ScanForInstances(context.Background(), reg)
			if !errors.Is(err, ErrPathNotADirectory) {
				t.Fatalf("Expected ErrPathNotADirectory, got %v", err)
			}
			if report != nil {
				t.Errorf("Expected no report, got %+v", report)
			}
			if reg.Len() != 1 || !reg.Contains("keep") {
				t.Errorf("Registry must be unchanged, got %d instances", reg.Len())
			}
		})
	}
}

func TestScan_EmptyRoot(t *testing.T) {
	root := makeRoot(t, nil)

	report, err := New(root, nil).ScanForInstances(context.Background(), registry.New())
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Admitted) != 0 || len(report.Failures) != 0 {
		t.Errorf("Expected empty report, got %+v", report)
	}
}

func TestScan_MissingPackagesAreIndependent(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		"first":  {config: fmt.Sprintf(validConfig, "First")},
		"second": {config: fmt.Sprintf(validConfig, "Second")},
		"third":  valid("Third"),
	})
	reg := registry.New()

	report, err := New(root, nil).ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d", len(report.Failures))
	}
	for _, f := range report.Failures {
		if !errors.Is(f.Err, ErrFileStructureDoesNotMatch) {
			t.Errorf("%s: expected FileStructureDoesNotMatch, got %v", f.Path, f.Err)
		}
	}
	if !reg.Contains("third") {
		t.Error("Expected third to be admitted")
	}
}

func TestScan_Idempotent(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		"a": valid("A"),
		"b": valid("B"),
		"c": {pkg: true},
	})
	reg := registry.New()
	s := New(root, nil)

	first, err := s.ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	second, err := s.ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	a, b := uuids(first.Admitted), uuids(second.Admitted)
	if len(a) != 2 || len(b) != 2 || a[0] != b[0] || a[1] != b[1] {
		t.Errorf("Expected identical admitted sets, got %v and %v", a, b)
	}
	if reg.Len() != 2 {
		t.Errorf("Expected 2 registry entries after rescan, got %d", reg.Len())
	}
	if len(second.Failures) != 1 {
		t.Errorf("Expected rescan to report the same single failure, got %d", len(second.Failures))
	}
}

// slowLoader delays loads for names listed in delay so completion order
// differs from enumeration order
type slowLoader struct {
	delay map[string]time.Duration
}

func (l slowLoader) Load(path string) (*manifest.Manifest, error) {
	name := filepath.Base(filepath.Dir(filepath.Dir(path)))
	time.Sleep(l.delay[name])
	return nil, fmt.Errorf("refusing %s", name)
}

func TestScan_FailuresFollowEnumerationOrder(t *testing.T) {
	entries := map[string]fixture{}
	delay := map[string]time.Duration{}
	names := []string{"e0", "e1", "e2", "e3", "e4", "e5"}
	for i, name := range names {
		entries[name] = fixture{config: "x: y\n", pkg: true}
		// Earlier entries finish last
		delay[name] = time.Duration(len(names)-i) * 10 * time.Millisecond
	}
	root := makeRoot(t, entries)
	s := New(root, slowLoader{delay: delay})

	for run := 0; run < 2; run++ {
		report, err := s.ScanForInstances(context.Background(), registry.New())
		if err != nil {
			t.Fatalf("run %d: ScanForInstances failed: %v", run, err)
		}
		if len(report.Failures) != len(names) {
			t.Fatalf("run %d: expected %d failures, got %d", run, len(names), len(report.Failures))
		}
		for i, f := range report.Failures {
			if filepath.Base(f.Path) != names[i] {
				t.Errorf("run %d position %d: expected %s, got %s", run, i, names[i], filepath.Base(f.Path))
			}
			if !errors.Is(f.Err, ErrConfigParse) {
				t.Errorf("run %d: expected ErrConfigParse, got %v", run, f.Err)
			}
		}
	}
}

// barrierLoader blocks each load until n loads are in flight at once
type barrierLoader struct {
	wg      *sync.WaitGroup
	timeout time.Duration
}

func (l barrierLoader) Load(path string) (*manifest.Manifest, error) {
	l.wg.Done()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(l.timeout):
		return nil, errors.New("loads did not run concurrently")
	}
	name := filepath.Base(filepath.Dir(filepath.Dir(path)))
	return &manifest.Manifest{InstanceName: name, Package: manifest.PackageSection{Version: "1.0.0"}}, nil
}

func TestScan_ValidatesEntriesConcurrently(t *testing.T) {
	entries := map[string]fixture{}
	for i := 0; i < 8; i++ {
		entries[fmt.Sprintf("inst-%d", i)] = valid("x")
	}
	root := makeRoot(t, entries)

	var wg sync.WaitGroup
	wg.Add(len(entries))
	report, err := New(root, barrierLoader{wg: &wg, timeout: 5 * time.Second}).
		ScanForInstances(context.Background(), registry.New())
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Admitted) != len(entries) {
		t.Errorf("Expected all %d admitted, got %d (failures: %+v)", len(entries), len(report.Admitted), report.Failures)
	}
}

func TestScan_DuplicateIdentity(t *testing.T) {
	// Both names normalise to the same NFC identity
	root := makeRoot(t, map[string]fixture{
		"Cafe\u0301": valid("Decomposed"),
		"Caf\u00e9":  valid("Composed"),
	})
	reg := registry.New()

	report, err := New(root, nil).ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Admitted) != 1 || len(report.Failures) != 1 {
		t.Fatalf("Expected 1 admitted and 1 failure, got %d and %d", len(report.Admitted), len(report.Failures))
	}
	if !errors.Is(report.Failures[0].Err, ErrDuplicateInstance) {
		t.Errorf("Expected ErrDuplicateInstance, got %v", report.Failures[0].Err)
	}
	if reg.Len() != 1 {
		t.Errorf("Expected a single registry entry, got %d", reg.Len())
	}
}

func TestScan_DuplicateAgainstExistingMember(t *testing.T) {
	root := makeRoot(t, map[string]fixture{"shared": valid("Shared")})
	reg := registry.New()
	_ = reg.Insert(&registry.Instance{UUID: "shared", Name: "Elsewhere", Status: registry.Persisted("/elsewhere/shared")})

	report, err := New(root, nil).ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, ErrDuplicateInstance) {
		t.Fatalf("Expected a duplicate failure, got %+v", report.Failures)
	}
	got, _ := reg.Get("shared")
	if got.Name != "Elsewhere" {
		t.Errorf("Existing member must not be overwritten, got %q", got.Name)
	}
}

func TestScan_InvalidIdentity(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		"bad\xffname": valid("Bad"),
		"good":        valid("Good"),
	})

	report, err := New(root, nil).ScanForInstances(context.Background(), registry.New())
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Admitted) != 1 || report.Admitted[0].UUID != "good" {
		t.Errorf("Expected only good admitted, got %v", uuids(report.Admitted))
	}
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, ErrInvalidIdentity) {
		t.Errorf("Expected an invalid identity failure, got %+v", report.Failures)
	}
}

func TestScan_BackslashNameIsValidIdentity(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		`back\slash`: valid("Back"),
		"good":       valid("Good"),
	})

	report, err := New(root, nil).ScanForInstances(context.Background(), registry.New())
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("Expected no failures, got %+v", report.Failures)
	}
	got := uuids(report.Admitted)
	if len(got) != 2 || got[0] != `back\slash` || got[1] != "good" {
		t.Errorf("Expected [back\\slash good], got %v", got)
	}
}

func TestScanError_KindPrintedOnce(t *testing.T) {
	root := makeRoot(t, map[string]fixture{"bad\xffname": valid("Bad")})
	reg := registry.New()
	_ = reg.Insert(&registry.Instance{UUID: "dup", Name: "Elsewhere", Status: registry.Persisted("/elsewhere/dup")})
	dupRoot := makeRoot(t, map[string]fixture{"dup": valid("Dup")})

	report, err := New(root, nil).ScanForInstances(context.Background(), registry.New())
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	dupReport, err := New(dupRoot, nil).ScanForInstances(context.Background(), reg)
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}

	tests := []struct {
		err  error
		kind error
	}{
		{report.Failures[0].Err, ErrInvalidIdentity},
		{dupReport.Failures[0].Err, ErrDuplicateInstance},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Fatalf("Expected %v, got %v", tt.kind, tt.err)
		}
		msg := tt.err.Error()
		if n := strings.Count(msg, tt.kind.Error()); n != 1 {
			t.Errorf("Expected kind text once in %q, got %d", msg, n)
		}
	}
}

// unreadableLoader fails the way os.ReadFile does on a permission error
type unreadableLoader struct{}

func (unreadableLoader) Load(path string) (*manifest.Manifest, error) {
	return nil, &manifest.ParseError{Path: path, Err: &fs.PathError{Op: "open", Path: path, Err: syscall.EACCES}}
}

func TestScan_UnreadableConfigIsIO(t *testing.T) {
	root := makeRoot(t, map[string]fixture{"a": valid("A")})

	report, err := New(root, unreadableLoader{}).ScanForInstances(context.Background(), registry.New())
	if err != nil {
		t.Fatalf("ScanForInstances failed: %v", err)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(report.Failures))
	}
	got := report.Failures[0].Err
	if !errors.Is(got, ErrIO) || errors.Is(got, ErrConfigParse) {
		t.Errorf("Expected io failure, got %v", got)
	}
	if !errors.Is(got, fs.ErrPermission) {
		t.Errorf("Expected permission cause, got %v", got)
	}
}

func TestCheckDirectory_StatErrorIsIO(t *testing.T) {
	// A component longer than NAME_MAX fails with ENAMETOOLONG, not ENOENT
	dir := filepath.Join(t.TempDir(), strings.Repeat("x", 300))

	err := CheckDirectory(dir)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Expected ErrIO, got %v", err)
	}
	if !errors.Is(err, syscall.ENAMETOOLONG) {
		t.Errorf("Expected ENAMETOOLONG cause, got %v", err)
	}
}

func TestScan_CanceledContext(t *testing.T) {
	root := makeRoot(t, map[string]fixture{"a": valid("A"), "b": valid("B")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := registry.New()
	report, err := New(root, nil).ScanForInstances(ctx, reg)
	if err != nil {
		t.Fatalf("Expected per-entry failures rather than a fatal error, got %v", err)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d", len(report.Failures))
	}
	for _, f := range report.Failures {
		if !errors.Is(f.Err, ErrIO) || !errors.Is(f.Err, context.Canceled) {
			t.Errorf("Expected io failure caused by cancellation, got %v", f.Err)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Len())
	}
}

func TestCheckDirectory(t *testing.T) {
	root := makeRoot(t, map[string]fixture{
		"ok":         valid("ok"),
		"no-config":  {pkg: true},
		"no-package": {config: "x: y\n"},
		"neither":    {},
	})

	tests := []struct {
		name string
		want error
	}{
		{name: "ok"},
		{name: "no-config", want: ErrFolderStructureDoesNotMatch},
		{name: "no-package", want: ErrFileStructureDoesNotMatch},
		// Config is checked first
		{name: "neither", want: ErrFolderStructureDoesNotMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDirectory(filepath.Join(root, tt.name))
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestKindName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{newError(ErrPathNotADirectory, "/x", nil), "not_a_directory"},
		{newError(ErrFolderStructureDoesNotMatch, "/x", nil), "missing_config"},
		{newError(ErrFileStructureDoesNotMatch, "/x", nil), "missing_package"},
		{newError(ErrConfigParse, "/x", errors.New("boom")), "config_parse"},
		{newError(ErrIO, "/x", os.ErrPermission), "io"},
		{newError(ErrDuplicateInstance, "/x", nil), "duplicate"},
		{newError(ErrInvalidIdentity, "/x", nil), "invalid_identity"},
		{errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		if got := KindName(tt.err); got != tt.want {
			t.Errorf("KindName(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
