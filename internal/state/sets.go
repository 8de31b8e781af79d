// internal/state/sets.go
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/boardsticker/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout has fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const setColumns = "name, title, owner, board, user_id, stickers, skipped, status, created_at"

// SetStore is the SQLite-backed history of sticker sets this bot created.
type SetStore struct {
	db   *sql.DB
	path string
}

// OpenSetStore opens or creates the history database at path.
func OpenSetStore(path string) (*SetStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SetStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SetStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SetStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SetStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SetStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return tx.Commit()
}

// Record inserts rec, or updates it if a set with the same name exists.
func (s *SetStore) Record(ctx context.Context, rec *types.SetRecord) error {
	if rec == nil || rec.Name == "" {
		return errors.New("set record requires a name")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = types.SetStatusComplete
	}

	return s.execWithRetry(ctx, `
		INSERT INTO sticker_sets (`+setColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			stickers = excluded.stickers,
			skipped  = excluded.skipped,
			status   = excluded.status`,
		rec.Name, rec.Title, rec.Owner, rec.Board, rec.UserID,
		rec.Stickers, rec.Skipped, string(rec.Status),
		rec.CreatedAt.UTC().Format(timeLayout),
	)
}

// Exists reports whether a set name has ever been recorded.
func (s *SetStore) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM sticker_sets WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup set %s: %w", name, err)
	}
	return n > 0, nil
}

// Get returns one record, or nil if it does not exist.
func (s *SetStore) Get(ctx context.Context, name string) (*types.SetRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+setColumns+" FROM sticker_sets WHERE name = ?", name)
	rec, err := scanSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get set %s: %w", name, err)
	}
	return rec, nil
}

// List returns the newest records first. limit <= 0 returns all.
func (s *SetStore) List(ctx context.Context, limit int) ([]*types.SetRecord, error) {
	return s.query(ctx, "SELECT "+setColumns+" FROM sticker_sets ORDER BY created_at DESC"+limitClause(limit))
}

// ListByUser returns the newest records created for userID first.
func (s *SetStore) ListByUser(ctx context.Context, userID int64, limit int) ([]*types.SetRecord, error) {
	return s.query(ctx,
		"SELECT "+setColumns+" FROM sticker_sets WHERE user_id = ? ORDER BY created_at DESC"+limitClause(limit),
		userID)
}

func (s *SetStore) query(ctx context.Context, query string, args ...any) ([]*types.SetRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sets: %w", err)
	}
	defer rows.Close()

	var out []*types.SetRecord
	for rows.Next() {
		rec, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan set: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSet(scanner interface{ Scan(dest ...any) error }) (*types.SetRecord, error) {
	var (
		rec       types.SetRecord
		status    string
		createdAt string
	)
	if err := scanner.Scan(&rec.Name, &rec.Title, &rec.Owner, &rec.Board, &rec.UserID,
		&rec.Stickers, &rec.Skipped, &status, &createdAt); err != nil {
		return nil, err
	}
	rec.Status = types.SetStatus(status)
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func (s *SetStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
