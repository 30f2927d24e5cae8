package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lucadibello/RimeSegateBot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteHistoryRepository stores completed runs in a SQLite database.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository opens (or creates) the database at path.
func NewSQLiteHistoryRepository(path string) (*SQLiteHistoryRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	// Non-fatal: in-memory databases refuse WAL.
	_, _ = db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`)

	repo := &SQLiteHistoryRepository{db: db}
	if err := repo.initTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history table: %w", err)
	}
	return repo, nil
}

func (r *SQLiteHistoryRepository) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		owner INTEGER NOT NULL,
		source_url TEXT NOT NULL,
		filename TEXT NOT NULL,
		remote_id TEXT,
		remote_url TEXT,
		size INTEGER,
		content_type TEXT,
		thumbnail TEXT,
		created_time DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_owner ON history(owner, created_time);
	`
	_, err := r.db.Exec(query)
	return err
}

// Record stores a completed run.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `INSERT OR REPLACE INTO history
		(id, owner, source_url, filename, remote_id, remote_url, size, content_type, thumbnail, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		string(entry.ID), int64(entry.Owner), entry.SourceURL, entry.Filename,
		entry.RemoteID, entry.RemoteURL, entry.Size, entry.ContentType, entry.Thumbnail,
		entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// ListByOwner returns the most recent entries of owner, newest first.
func (r *SQLiteHistoryRepository) ListByOwner(ctx context.Context, owner domain.UserID, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT id, owner, source_url, filename, remote_id, remote_url, size, content_type, thumbnail, created_time
		FROM history WHERE owner = ? ORDER BY created_time DESC LIMIT ?`
	return r.query(ctx, query, int64(owner), normalizeLimit(limit))
}

// List returns the most recent entries of every user, newest first.
func (r *SQLiteHistoryRepository) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT id, owner, source_url, filename, remote_id, remote_url, size, content_type, thumbnail, created_time
		FROM history ORDER BY created_time DESC LIMIT ?`
	return r.query(ctx, query, normalizeLimit(limit))
}

func (r *SQLiteHistoryRepository) query(ctx context.Context, query string, args ...any) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e                                          domain.HistoryEntry
			id                                         string
			owner                                      int64
			remoteID, remoteURL, contentType, thumbRef sql.NullString
			size                                       sql.NullInt64
		)
		if err := rows.Scan(&id, &owner, &e.SourceURL, &e.Filename, &remoteID, &remoteURL,
			&size, &contentType, &thumbRef, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.ID = domain.JobID(id)
		e.Owner = domain.UserID(owner)
		e.RemoteID = remoteID.String
		e.RemoteURL = remoteURL.String
		e.Size = size.Int64
		e.ContentType = contentType.String
		e.Thumbnail = thumbRef.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping reports whether the database is reachable.
func (r *SQLiteHistoryRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteHistoryRepository) Close() error {
	return r.db.Close()
}

// InMemoryHistoryRepository implements HistoryRepository without persistence.
type InMemoryHistoryRepository struct {
	mu      sync.RWMutex
	entries []domain.HistoryEntry
}

// NewInMemoryHistoryRepository creates an empty in-memory history.
func NewInMemoryHistoryRepository() *InMemoryHistoryRepository {
	return &InMemoryHistoryRepository{}
}

// Record stores a completed run.
func (r *InMemoryHistoryRepository) Record(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

// ListByOwner returns the most recent entries of owner, newest first.
func (r *InMemoryHistoryRepository) ListByOwner(ctx context.Context, owner domain.UserID, limit int) ([]domain.HistoryEntry, error) {
	return r.collect(normalizeLimit(limit), func(e domain.HistoryEntry) bool { return e.Owner == owner }), nil
}

// List returns the most recent entries of every user, newest first.
func (r *InMemoryHistoryRepository) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	return r.collect(normalizeLimit(limit), func(domain.HistoryEntry) bool { return true }), nil
}

func (r *InMemoryHistoryRepository) collect(limit int, keep func(domain.HistoryEntry) bool) []domain.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.HistoryEntry
	for i := len(r.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if keep(r.entries[i]) {
			result = append(result, r.entries[i])
		}
	}
	return result
}

// Ping always succeeds.
func (r *InMemoryHistoryRepository) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (r *InMemoryHistoryRepository) Close() error { return nil }

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
