package extension

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Discovery scans the extensions directory for loadable packages
type Discovery struct {
	logger zerolog.Logger
}

// NewDiscovery creates a new discovery instance
func NewDiscovery(logger zerolog.Logger) *Discovery {
	return &Discovery{
		logger: logger.With().Str("component", "extension-discovery").Logger(),
	}
}

// Scan returns every subdirectory of dir that carries an extension.json.
// A missing directory is created on demand, never an error.
func (d *Discovery) Scan(dir string) ([]Candidate, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extensions directory %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extensions directory %s: %w", dir, err)
	}

	var candidates []Candidate

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pkgDir := filepath.Join(dir, entry.Name())
		manifestPath := filepath.Join(pkgDir, "extension.json")

		if _, err := os.Stat(manifestPath); err != nil {
			if os.IsNotExist(err) {
				d.logger.Debug().
					Str("dir", pkgDir).
					Msg("Directory does not contain extension.json, skipping")
				continue
			}
			d.logger.Warn().
				Err(err).
				Str("dir", pkgDir).
				Msg("Failed to check for extension.json")
			continue
		}

		candidate := Candidate{
			Name:         entry.Name(),
			Path:         pkgDir,
			ManifestPath: manifestPath,
		}

		candidates = append(candidates, candidate)
		d.logger.Debug().
			Str("name", candidate.Name).
			Str("path", candidate.Path).
			Msg("Discovered extension package")
	}

	d.logger.Info().Int("count", len(candidates)).Str("dir", dir).Msg("Extension discovery completed")
	return candidates, nil
}
