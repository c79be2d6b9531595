package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
)

// deniedWritePrefixes are system locations write_text_file refuses to
// touch, normalized to lower case with forward slashes.
var deniedWritePrefixes = []string{
	"c:/windows",
	"c:/program files",
	"c:/program files (x86)",
	"/etc",
	"/usr",
	"/bin",
	"/sbin",
	"/boot",
	"/sys",
	"/proc",
	"/dev",
}

func readTextFileTool(opts Options) dispatcher.ToolDefinition {
	limit := opts.maxReadSize()

	return dispatcher.ToolDefinition{
		Name:        "read_text_file",
		Description: "Read a text file from disk, optionally decoding a named character encoding.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "path", Type: "string", Description: "File path to read", Required: true},
			{Name: "encoding", Type: "string", Description: "IANA encoding name (default utf-8)", Required: false},
		},
		Precheck: func(ctx context.Context, params map[string]interface{}) error {
			pathValue, _ := params["path"].(string)
			info, err := os.Stat(pathValue)
			if err != nil {
				// Missing files fail in the handler; the gate only guards size.
				return nil
			}
			if info.Size() > limit {
				return fmt.Errorf("file exceeds the maximum read size of %d bytes (file is %d bytes)", limit, info.Size())
			}
			return nil
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			encodingName, _ := params["encoding"].(string)

			enc, err := resolveEncoding(encodingName)
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(pathValue)
			if err != nil {
				return nil, fmt.Errorf("failed to stat file: %w", err)
			}
			if info.Size() > limit {
				return nil, fmt.Errorf("%w: file exceeds the maximum read size of %d bytes (file is %d bytes)",
					dispatcher.ErrDenied, limit, info.Size())
			}

			raw, err := os.ReadFile(pathValue)
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %w", err)
			}

			decoded, err := enc.NewDecoder().Bytes(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode file as %s: %w", displayEncoding(encodingName), err)
			}

			return map[string]interface{}{
				"path":     pathValue,
				"content":  string(decoded),
				"bytes":    len(raw),
				"encoding": displayEncoding(encodingName),
			}, nil
		},
	}
}

func writeTextFileTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "write_text_file",
		Description: "Write text to a file, keeping a .backup sidecar of any previous content.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "path", Type: "string", Description: "File path to write", Required: true},
			{Name: "content", Type: "string", Description: "Text content", Required: true},
			{Name: "encoding", Type: "string", Description: "IANA encoding name (default utf-8)", Required: false},
			{Name: "backup", Type: "boolean", Description: "Keep a .backup of the previous content (default true)", Required: false, Default: true},
		},
		Precheck: func(ctx context.Context, params map[string]interface{}) error {
			pathValue, _ := params["path"].(string)
			if prefix, denied := deniedSystemPath(pathValue); denied {
				return fmt.Errorf("writing to the system path %s is not allowed (matched %s)", pathValue, prefix)
			}
			return nil
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			content, _ := params["content"].(string)
			encodingName, _ := params["encoding"].(string)
			backup := true
			if raw, ok := params["backup"].(bool); ok {
				backup = raw
			}

			enc, err := resolveEncoding(encodingName)
			if err != nil {
				return nil, err
			}
			encoded, err := enc.NewEncoder().Bytes([]byte(content))
			if err != nil {
				return nil, fmt.Errorf("failed to encode content as %s: %w", displayEncoding(encodingName), err)
			}

			backedUp := false
			if previous, err := os.ReadFile(pathValue); err == nil {
				if backup {
					if err := os.WriteFile(pathValue+".backup", previous, 0o644); err != nil {
						return nil, fmt.Errorf("failed to write backup: %w", err)
					}
					backedUp = true
				}
			} else if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read existing file: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(pathValue), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := os.WriteFile(pathValue, encoded, 0o644); err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}

			return map[string]interface{}{
				"path":     pathValue,
				"bytes":    len(encoded),
				"backup":   backedUp,
				"encoding": displayEncoding(encodingName),
			}, nil
		},
	}
}

func listDirectoryTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "list_directory",
		Description: "List the entries of a directory.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)

			entries, err := os.ReadDir(pathValue)
			if err != nil {
				return nil, fmt.Errorf("failed to list directory: %w", err)
			}

			listed := make([]map[string]interface{}, 0, len(entries))
			for _, entry := range entries {
				item := map[string]interface{}{
					"name": entry.Name(),
					"dir":  entry.IsDir(),
				}
				if info, err := entry.Info(); err == nil && !entry.IsDir() {
					item["size"] = info.Size()
				}
				listed = append(listed, item)
			}

			return map[string]interface{}{
				"path":    pathValue,
				"entries": listed,
				"count":   len(listed),
			}, nil
		},
	}
}

// deniedSystemPath reports whether path falls under a deny-listed system
// prefix, matching case-insensitively across both separator styles.
func deniedSystemPath(path string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(path))
	p = strings.ReplaceAll(p, "\\", "/")

	for _, prefix := range deniedWritePrefixes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest == "" || strings.HasPrefix(rest, "/") {
			return prefix, true
		}
	}
	return "", false
}

// resolveEncoding maps a caller-supplied IANA name to an encoding. Empty
// means utf-8.
func resolveEncoding(name string) (encoding.Encoding, error) {
	if strings.TrimSpace(name) == "" {
		return unicode.UTF8, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported", name)
	}
	return enc, nil
}

func displayEncoding(name string) string {
	if strings.TrimSpace(name) == "" {
		return "utf-8"
	}
	return name
}
