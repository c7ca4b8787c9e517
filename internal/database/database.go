package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by GetValue when the key is absent.
var ErrNotFound = errors.New("key not found")

// Database is the dashboard's local persistent storage: a small key/value table
// standing in for the browser's local storage.
type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{db: db}

	if err := database.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return database, nil
}

func (d *Database) createTables() error {
	storageSQL := `CREATE TABLE IF NOT EXISTS storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	if _, err := d.db.Exec(storageSQL); err != nil {
		return fmt.Errorf("failed to create storage table: %w", err)
	}

	return nil
}

func (d *Database) SetValue(ctx context.Context, key, value string) error {
	sql := `INSERT INTO storage (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := d.db.ExecContext(ctx, sql, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set value for %s: %w", key, err)
	}

	return nil
}

func (d *Database) GetValue(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM storage WHERE key = ?`

	var value string
	err := d.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get value for %s: %w", key, err)
	}

	return value, nil
}

func (d *Database) DeleteValue(ctx context.Context, key string) error {
	sql := `DELETE FROM storage WHERE key = ?`

	if _, err := d.db.ExecContext(ctx, sql, key); err != nil {
		return fmt.Errorf("failed to delete value for %s: %w", key, err)
	}

	return nil
}

func (d *Database) CountKeys(ctx context.Context) (int, error) {
	sql := `SELECT COUNT(*) FROM storage`

	var n int
	if err := d.db.QueryRowContext(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}

	return n, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}
