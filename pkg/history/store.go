package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one dispatched call as it lands in the history table.
type Record struct {
	CallID     string    `json:"call_id"`
	Tool       string    `json:"tool"`
	Extension  string    `json:"extension,omitempty"`
	State      string    `json:"state"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store keeps a durable row per dispatched call in a SQLite database. The
// audit log already carries the same events; the store exists so recent
// calls can be queried and old ones pruned without parsing log files.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the history database at dbPath.
func New(logger zerolog.Logger, dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("history database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL keeps reads cheap while the dispatcher writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("Call history store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			extension TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_calls_created ON calls(created_at);
		CREATE INDEX IF NOT EXISTS idx_calls_tool ON calls(tool);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record inserts one call row. A duplicate call id is overwritten; the
// dispatcher only finishes each call once, so this only matters for
// replayed test fixtures.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.CallID == "" {
		return fmt.Errorf("call id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO calls
			(call_id, tool, extension, state, success, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Tool, rec.Extension, rec.State,
		boolToInt(rec.Success), rec.Error, rec.DurationMS, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record call %s: %w", rec.CallID, err)
	}
	return nil
}

// Recent returns up to limit call rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, tool, extension, state, success, error, duration_ms, created_at
		FROM calls
		ORDER BY created_at DESC, call_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var success int
		var createdAt int64
		if err := rows.Scan(&rec.CallID, &rec.Tool, &rec.Extension, &rec.State,
			&success, &rec.Error, &rec.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}
		rec.Success = success != 0
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes rows older than the retention window and reports how many
// went away. Housekeeping calls this on a schedule.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).Unix()

	result, err := s.db.ExecContext(ctx, "DELETE FROM calls WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune call history: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.logger.Info().Int64("pruned", pruned).Msg("Old call history rows pruned")
	}
	return pruned, nil
}

// Count returns the number of stored call rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&count)
	return count, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
