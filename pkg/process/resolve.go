package process

import (
	"os"
	"path/filepath"
	"strings"
)

// executableExtensions is the fixed probe order used during resolution.
// The bare name comes first so binaries without an extension win over a
// sibling carrying one.
var executableExtensions = []string{"", ".exe", ".com", ".bat", ".cmd"}

// ResolvePath locates an executable for the given candidate. A path that
// already exists wins immediately and is returned absolute. Candidates
// containing a path separator are probed with the extension list in place
// and never fall through to the PATH search. Bare names are probed against
// every PATH directory with the same extension order.
func ResolvePath(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}

	if isRegularFile(candidate) {
		return absolute(candidate), true
	}

	if strings.ContainsAny(candidate, `/\`) {
		for _, ext := range executableExtensions[1:] {
			if isRegularFile(candidate + ext) {
				return absolute(candidate + ext), true
			}
		}
		return "", false
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			dir = "."
		}
		for _, ext := range executableExtensions {
			probe := filepath.Join(dir, candidate+ext)
			if isRegularFile(probe) {
				return absolute(probe), true
			}
		}
	}

	return "", false
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
