package manifest

import (
	"fmt"
	"strings"
)

// Manifest is the parsed instance configuration file
type Manifest struct {
	InstanceName string         `yaml:"instance_name" json:"instance_name"`
	Package      PackageSection `yaml:"package" json:"package"`
}

// PackageSection describes the content package an instance owns
type PackageSection struct {
	Version string          `yaml:"version" json:"version"`
	Loaders []LoaderSection `yaml:"loaders,omitempty" json:"loaders,omitempty"`
}

// LoaderSection pins one mod loader
type LoaderSection struct {
	Kind    string `yaml:"kind" json:"kind"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// Notes is the front matter and body of an instance's notes.md
type Notes struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
	Body  string   `yaml:"-"`
}

// Issue is a single schema violation
type Issue struct {
	Location string // Instance location, e.g. "/package/version"
	Message  string
}

// ParseError reports a configuration file that could not be loaded
type ParseError struct {
	Path   string
	Issues []Issue
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "parse %s", e.Path)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, issue := range e.Issues {
		if issue.Location == "" {
			fmt.Fprintf(&b, "; %s", issue.Message)
			continue
		}
		fmt.Fprintf(&b, "; %s: %s", issue.Location, issue.Message)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }
