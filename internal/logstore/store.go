// Package logstore persists the append-only log of completed exchanges in SQLite.
package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mezada/internal/domain"

	_ "modernc.org/sqlite"
)

// sqlitePragmas enables WAL and a busy timeout so concurrent per-operation
// connections wait on each other instead of failing.
const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Store implements domain.LogStore. It holds no database handle: every
// operation opens its own and closes it before returning, so concurrent
// workers never share a connection.
type Store struct {
	path   string
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: dbPath, logger: logger}
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// open returns a single-connection handle.
func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.path+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStorageUnavailable, s.path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", domain.ErrStorageUnavailable, s.path, err)
	}
	return db, nil
}

// Initialize creates the database file and schema if absent. Safe to call repeatedly.
func (s *Store) Initialize(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: cannot create database directory %s: %v", domain.ErrStorageUnavailable, dir, err)
	}

	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(ctx, db, s.logger); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) HasPriorContact(ctx context.Context, sender string) (bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var exists int
	err = db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM message_log WHERE sender = ?)`, sender,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query prior contact: %w", err)
	}
	return exists == 1, nil
}

// Append records one exchange and returns it with the assigned ID and timestamp.
func (s *Store) Append(ctx context.Context, sender, inbound, outbound string) (domain.LogEntry, error) {
	entry := domain.LogEntry{
		Sender:       sender,
		InboundBody:  inbound,
		OutboundBody: outbound,
		CreatedAt:    time.Now().UTC(),
	}

	db, err := s.open(ctx)
	if err != nil {
		return domain.LogEntry{}, fmt.Errorf("%w: %v", domain.ErrStorageWrite, err)
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		`INSERT INTO message_log (sender, inbound_body, outbound_body, created_at) VALUES (?, ?, ?, ?)`,
		entry.Sender, entry.InboundBody, entry.OutboundBody, entry.CreatedAt,
	)
	if err != nil {
		return domain.LogEntry{}, fmt.Errorf("%w: insert: %v", domain.ErrStorageWrite, err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return domain.LogEntry{}, fmt.Errorf("%w: last insert id: %v", domain.ErrStorageWrite, err)
	}
	return entry, nil
}

// History returns the newest limit entries for sender, oldest first.
func (s *Store) History(ctx context.Context, sender string, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT id, sender, inbound_body, outbound_body, created_at
		 FROM message_log WHERE sender = ?
		 ORDER BY id DESC LIMIT ?`, sender, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.Sender, &e.InboundBody, &e.OutboundBody, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Count returns the total number of logged exchanges.
func (s *Store) Count(ctx context.Context) (int64, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_log`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
