package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingWriter appends to a log file and rotates it by size. Rotated
// files get a timestamp suffix and are optionally gzipped; rotations
// older than maxAge days are pruned after each rotation.
type RotatingWriter struct {
	filename    string
	maxSize     int64 // bytes
	maxAge      int   // days
	gzipRotated bool

	mu   sync.Mutex // guards out and size
	out  *os.File
	size int64

	// sweepMu serializes compression and pruning, which touch rotated
	// files from background goroutines.
	sweepMu sync.Mutex
}

// NewRotatingWriter opens filename for appending, creating its directory
// when missing.
func NewRotatingWriter(filename string, maxSizeMB int, maxAge int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		filename:    filename,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxAge:      maxAge,
		gzipRotated: compress,
	}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}

	// Rotations left behind by a previous run still age out.
	go w.sweep("")

	return w, nil
}

// openCurrent opens the live file owner-only; log lines can carry
// command argv.
func (w *RotatingWriter) openCurrent() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.out = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when the file would grow past maxSize.
// Safe for concurrent use.
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = w.out.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out == nil {
		return nil
	}

	err := w.out.Close()
	w.out = nil
	return err
}

// rotate renames the live file aside and reopens a fresh one. Caller
// holds mu.
func (w *RotatingWriter) rotate() error {
	if err := w.out.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", w.filename, time.Now().Format("20060102-150405"))
	if err := os.Rename(w.filename, rotated); err != nil {
		return err
	}

	if err := w.openCurrent(); err != nil {
		return err
	}

	go w.sweep(rotated)

	return nil
}

// sweep compresses the just-rotated file and prunes aged-out rotations.
// rotated is empty on startup, when there is nothing new to compress.
func (w *RotatingWriter) sweep(rotated string) {
	if w.gzipRotated && rotated != "" {
		w.gzipFile(rotated)
	}
	w.prune()
}

// gzipFile replaces path with path.gz. The original is removed only
// after the gzip stream is fully flushed.
func (w *RotatingWriter) gzipFile(path string) error {
	w.sweepMu.Lock()
	defer w.sweepMu.Unlock()

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer dst.Close()

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// prune removes rotations older than maxAge days. The live file never
// matches the glob, so it is never touched.
func (w *RotatingWriter) prune() {
	if w.maxAge <= 0 {
		return
	}

	w.sweepMu.Lock()
	defer w.sweepMu.Unlock()

	matches, err := filepath.Glob(w.filename + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.maxAge)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(path)
		}
	}
}
