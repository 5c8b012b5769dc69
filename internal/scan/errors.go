package scan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gurisko/hearth/internal/registry"
)

// Error kinds. A *ScanError matches its kind with errors.Is.
var (
	// ErrPathNotADirectory indicates the instances root is missing or not a directory (fatal)
	ErrPathNotADirectory = errors.New("path does not point to a directory")
	// ErrIO indicates a filesystem failure while reading the root or an entry
	ErrIO = errors.New("io error")
	// ErrFolderStructureDoesNotMatch indicates the instance config file (and its folder) is missing
	ErrFolderStructureDoesNotMatch = errors.New("expected instance configuration folder but not found")
	// ErrFileStructureDoesNotMatch indicates the package directory is missing
	ErrFileStructureDoesNotMatch = errors.New("expected package directory but not found")
	// ErrConfigParse indicates the instance config file could not be parsed
	ErrConfigParse = errors.New("error parsing instance configuration file")
	// ErrInvalidIdentity indicates a directory name that cannot be used as a UUID
	ErrInvalidIdentity = registry.ErrInvalidIdentity
	// ErrDuplicateInstance indicates a UUID already claimed by another directory
	ErrDuplicateInstance = registry.ErrDuplicateInstance
)

// ScanError is a classified scan failure carrying the offending path
type ScanError struct {
	Kind error  // One of the Err* kinds above
	Path string // Offending path
	Err  error  // Underlying cause, may be nil
}

// Error prints the kind once even when the cause already wraps it
func (e *ScanError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	detail := e.Err.Error()
	if errors.Is(e.Err, e.Kind) {
		detail = strings.TrimPrefix(detail, e.Kind.Error()+": ")
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Path, detail)
}

// Is matches the error's kind
func (e *ScanError) Is(target error) bool {
	return target == e.Kind
}

func (e *ScanError) Unwrap() error { return e.Err }

// KindName returns a stable short name for the kind of err, for API payloads
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrPathNotADirectory):
		return "not_a_directory"
	case errors.Is(err, ErrFolderStructureDoesNotMatch):
		return "missing_config"
	case errors.Is(err, ErrFileStructureDoesNotMatch):
		return "missing_package"
	case errors.Is(err, ErrConfigParse):
		return "config_parse"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrDuplicateInstance):
		return "duplicate"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}

func newError(kind error, path string, cause error) *ScanError {
	return &ScanError{Kind: kind, Path: path, Err: cause}
}
