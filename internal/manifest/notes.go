package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/adrg/frontmatter"
)

// LoadNotes reads an instance's notes file. A missing file is not an error
// and yields nil notes.
func LoadNotes(path string) (*Notes, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	var notes Notes
	body, err := frontmatter.Parse(f, &notes)
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("failed to parse front matter: %w", err)}
	}
	notes.Body = strings.TrimSpace(string(body))
	return &notes, nil
}
