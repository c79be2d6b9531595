package extension

import (
	"time"
)

// Manifest is the extension.json file every extension package carries at
// its root. Main points at the provider binary relative to the package
// directory; Tools optionally declares the tool names the provider is
// expected to serve.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Main        string   `json:"main"`
	Tools       []string `json:"tools,omitempty"`
}

// Descriptor is the externally visible record of a loaded extension.
type Descriptor struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description,omitempty"`
	Path        string     `json:"path"`
	Enabled     bool       `json:"enabled"`
	InstalledAt time.Time  `json:"installed_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Tools       []string   `json:"tools"`
}

// Candidate is an extension package found during a directory scan.
type Candidate struct {
	Name         string
	Path         string
	ManifestPath string
}

// LoadResult reports the outcome of a Load or Reload scan. One bad
// package lands in Failed/Errors without aborting the others.
type LoadResult struct {
	Loaded []string
	Failed []string
	Errors map[string]error
}
