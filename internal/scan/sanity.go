package scan

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// Fixed layout of an instance directory
var (
	// ConfigFileRelPath is the instance configuration file
	ConfigFileRelPath = filepath.Join(".instance", "config.yaml")
	// PackageDirRelPath is the nested content package directory
	PackageDirRelPath = "package"
	// NotesFileRelPath is the optional notes file
	NotesFileRelPath = "notes.md"
)

// CheckDirectory verifies that dir has the structure of an instance: a
// regular configuration file and a package directory. The configuration
// file is checked first.
func CheckDirectory(dir string) error {
	configPath := filepath.Join(dir, ConfigFileRelPath)
	packagePath := filepath.Join(dir, PackageDirRelPath)

	ok, err := statIs(configPath, fs.FileMode.IsRegular)
	if err != nil {
		return newError(ErrIO, configPath, err)
	}
	if !ok {
		return newError(ErrFolderStructureDoesNotMatch, configPath, nil)
	}

	ok, err = statIs(packagePath, fs.FileMode.IsDir)
	if err != nil {
		return newError(ErrIO, packagePath, err)
	}
	if !ok {
		return newError(ErrFileStructureDoesNotMatch, packagePath, nil)
	}

	return nil
}

// statIs reports whether path exists with a mode accepted by want.
// Missing paths, and paths below a non-directory, are not errors.
func statIs(path string, want func(fs.FileMode) bool) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, err
	}
	return want(fi.Mode()), nil
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
