package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// manifestSchemaJSON describes extension.json. Field formats live in the
// schema so one validation pass reports every violation; Go code checks
// only what JSON Schema cannot express.
const manifestSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "main"],
  "properties": {
    "name":        {"type": "string", "pattern": "^[a-z0-9-]+$"},
    "version":     {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "description": {"type": "string"},
    "author":      {"type": "string"},
    "main":        {"type": "string", "minLength": 1},
    "tools":       {"type": "array", "uniqueItems": true, "items": {"type": "string", "minLength": 1}}
  }
}`

var manifestSchema = mustCompileManifestSchema()

func mustCompileManifestSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(manifestSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("extension: manifest schema does not compile: %v", err))
	}
	return schema
}

// ManifestLoader parses and validates extension.json files.
type ManifestLoader struct {
	logger zerolog.Logger
}

// NewManifestLoader creates a new manifest loader.
func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	return &ManifestLoader{
		logger: logger.With().Str("component", "manifest-loader").Logger(),
	}
}

// Load reads an extension.json file and returns the parsed manifest. The
// raw document is checked against the schema before unmarshalling so that
// malformed manifests fail with every violation listed, not just the first
// field the decoder trips over.
func (m *ManifestLoader) Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	result, err := manifestSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrManifestInvalid, strings.Join(details, "; "))
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	if err := checkMainPath(manifest.Main); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	m.logger.Debug().
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Msg("Loaded manifest")

	return &manifest, nil
}

// checkMainPath rejects main entries that resolve outside the package
// directory. The registry joins main onto the package path before exec, so
// an absolute path or a ".." escape would point the launcher at an
// arbitrary binary on the host.
func checkMainPath(main string) error {
	if filepath.IsAbs(main) {
		return fmt.Errorf("main must be relative to the package directory: %s", main)
	}
	clean := filepath.Clean(main)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("main escapes the package directory: %s", main)
	}
	return nil
}
