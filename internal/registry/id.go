package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidIdentity indicates a directory name that cannot serve as an instance UUID
var ErrInvalidIdentity = errors.New("invalid instance identity")

// GenerateInstanceID generates a new unique instance ID using UUID v4
func GenerateInstanceID() string {
	return uuid.New().String()
}

// IdentityFromName decodes a directory name into instance identity text.
// Names are NFC-normalised so that the same name read back from filesystems
// that store decomposed forms maps to the same UUID.
func IdentityFromName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: empty name", ErrInvalidIdentity)
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidIdentity, name)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidIdentity, name)
	}
	return norm.NFC.String(name), nil
}
