package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskflow/internal/models"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given database path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetItem retrieves a stored value. The boolean is false when the key is absent.
func (s *SQLiteStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get item %s: %w", key, err)
	}
	return value, true, nil
}

// SetItem stores a value, replacing any previous one.
func (s *SQLiteStore) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_storage (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set item %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes a stored value. Removing an absent key is not an error.
func (s *SQLiteStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM local_storage WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to remove item %s: %w", key, err)
	}
	return nil
}

// LoadSelection retrieves the last selection saved for a presentation context.
func (s *SQLiteStore) LoadSelection(ctx context.Context, viewContext string) (models.Selection, bool, error) {
	var filter, sort string
	err := s.db.QueryRowContext(ctx, `
		SELECT filter, sort FROM view_selections WHERE context = ?
	`, viewContext).Scan(&filter, &sort)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultSelection(), false, nil
		}
		return models.Selection{}, false, fmt.Errorf("failed to load selection for %s: %w", viewContext, err)
	}

	sel, err := models.ParseSelection(filter, sort)
	if err != nil {
		return models.DefaultSelection(), false, nil
	}
	return sel, true, nil
}

// SaveSelection stores the selection for a presentation context.
func (s *SQLiteStore) SaveSelection(ctx context.Context, viewContext string, sel models.Selection) error {
	sel = sel.Normalize()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO view_selections (context, filter, sort, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(context) DO UPDATE SET filter = excluded.filter, sort = excluded.sort, updated_at = excluded.updated_at
	`, viewContext, string(sel.Filter), string(sel.Sort), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save selection for %s: %w", viewContext, err)
	}
	return nil
}
