// Package vcs reads version-control metadata from instance directories.
package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Head returns the commit hash HEAD points to when dir is the root of a git
// repository. Directories that are not repositories, and repositories
// without commits, yield an empty hash and no error.
func Head(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open repository at %s: %w", dir, err)
	}

	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve HEAD in %s: %w", dir, err)
	}
	return ref.Hash().String(), nil
}
