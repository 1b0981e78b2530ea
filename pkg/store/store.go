// Package store persists template sources in SQLite so templates can be
// edited at runtime without touching the filesystem.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ErrNotFound is returned when no template has the requested name.
var ErrNotFound = errors.New("template not found in store")

// Record is one stored template.
type Record struct {
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetupSchema creates the templates table. It is idempotent and safe to call
// on an already-initialized database.
func SetupSchema(db *sql.DB) error {
	const schemaTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    name TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaTemplates); err != nil {
		return fmt.Errorf("could not create templates schema: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// Store reads and writes template sources with prepared statements.
type Store struct {
	db         *sql.DB
	stmtPut    *sql.Stmt
	stmtGet    *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
	logger     *slog.Logger
}

// New prepares the store's statements. SetupSchema must have been called on
// db first.
func New(db *sql.DB) (*Store, error) {
	stmtPut, err := db.Prepare(`INSERT INTO templates (name, source, updated_at) VALUES (?, ?, ?) ON CONFLICT(name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at;`)
	if err != nil {
		return nil, err
	}

	stmtGet, err := db.Prepare(`SELECT source, updated_at FROM templates WHERE name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM templates WHERE name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtList, err := db.Prepare(`SELECT name, source, updated_at FROM templates ORDER BY name;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:         db,
		stmtPut:    stmtPut,
		stmtGet:    stmtGet,
		stmtDelete: stmtDelete,
		stmtList:   stmtList,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close releases the prepared statements.
func (s *Store) Close() {
	_ = s.stmtPut.Close()
	_ = s.stmtGet.Close()
	_ = s.stmtDelete.Close()
	_ = s.stmtList.Close()
}

// Put inserts or replaces the source stored under name.
func (s *Store) Put(ctx context.Context, name, source string) error {
	if _, err := s.stmtPut.ExecContext(ctx, name, source, time.Now().Unix()); err != nil {
		return fmt.Errorf("could not store template %q: %w", name, err)
	}
	s.logger.Debug("Stored template", "name", name, "bytes", len(source))
	return nil
}

// Get returns the record stored under name, or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (Record, error) {
	var source string
	var updated int64
	err := s.stmtGet.QueryRowContext(ctx, name).Scan(&source, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("could not read template %q: %w", name, err)
	}
	return Record{Name: name, Source: source, UpdatedAt: time.Unix(updated, 0)}, nil
}

// Delete removes the template stored under name, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.stmtDelete.ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("could not delete template %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("Deleted template", "name", name)
	return nil
}

// List returns every stored template sorted by name.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		var updated int64
		if err = rows.Scan(&r.Name, &r.Source, &updated); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.Unix(updated, 0)
		records = append(records, r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
