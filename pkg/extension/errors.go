package extension

import "errors"

var (
	// ErrAlreadyLoaded is returned when a package's name is already taken
	// by a loaded extension.
	ErrAlreadyLoaded = errors.New("extension already loaded")

	// ErrNotLoaded is returned when an operation references an extension
	// that is not in the loaded set.
	ErrNotLoaded = errors.New("extension not loaded")

	// ErrBinaryMissing is returned when the manifest's main entry does not
	// exist inside the package directory.
	ErrBinaryMissing = errors.New("extension binary not found")

	// ErrManifestInvalid is returned when an extension.json file fails
	// schema or path validation.
	ErrManifestInvalid = errors.New("invalid extension manifest")
)
