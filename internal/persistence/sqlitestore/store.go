// Package sqlitestore keeps container records and the shadow log in a local
// SQLite file. It backs yahactl serve and the operator trace commands.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/persistence"
)

// DB wraps a sql.DB holding one table per container plus the entries table.
type DB struct {
	db     *sql.DB
	tables persistence.Tables
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, tables persistence.Tables) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlitestore: create database directory: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	return newDB(sqlDB, tables)
}

// OpenMemory opens a private in-memory database.
func OpenMemory(tables persistence.Tables) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open memory: %w", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	return newDB(sqlDB, tables)
}

func newDB(sqlDB *sql.DB, tables persistence.Tables) (*DB, error) {
	for _, name := range []string{tables.Food, tables.Sleep, tables.Exercise, tables.Entries} {
		if strings.TrimSpace(name) == "" {
			_ = sqlDB.Close()
			return nil, errors.New("sqlitestore: table names must not be empty")
		}
	}
	d := &DB{db: sqlDB, tables: tables}
	if _, err := sqlDB.Exec(schema(tables)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func schema(t persistence.Tables) string {
	const common = `
    dedupe_key TEXT NOT NULL UNIQUE,
    correlation_id TEXT NOT NULL,
    estimated_fields TEXT,
    notes TEXT,
    chat_id TEXT NOT NULL,
    date TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))`
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    meal_name TEXT,
    calories REAL,
    protein_g REAL,
    carbs_g REAL,
    fat_g REAL,
    fiber_g REAL,%[5]s
);

CREATE TABLE IF NOT EXISTS %[2]s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sleep_score INTEGER,
    energy_score INTEGER,
    duration_hr REAL,
    resting_hr INTEGER,
    sleep_start TEXT,
    sleep_end TEXT,%[5]s
);

CREATE TABLE IF NOT EXISTS %[3]s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workout_name TEXT,
    distance_km REAL,
    duration_min REAL,
    calories_burned INTEGER,
    training_intensity INTEGER,
    avg_hr INTEGER,
    max_hr INTEGER,
    training_type TEXT,
    perceived_intensity INTEGER,
    effort_description TEXT,
    tags TEXT,%[5]s
);

CREATE TABLE IF NOT EXISTS %[4]s (
    id TEXT PRIMARY KEY,
    correlation_id TEXT NOT NULL,
    chat_id TEXT NOT NULL,
    container TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    error TEXT,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_correlation ON %[4]s(correlation_id, created_at);
`, quote(t.Food), quote(t.Sleep), quote(t.Exercise), quote(t.Entries), common)
}

// sqlValue converts a column value to a driver value. String lists are stored as JSON.
func sqlValue(v any) (any, error) {
	list, ok := v.([]string)
	if !ok {
		return v, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Insert writes rec and returns the new row id. A repeated dedupe key
// violates the UNIQUE constraint and is reported as a 409 StoreError.
func (d *DB) Insert(ctx context.Context, rec domain.Record, dedupeKey, correlationID string) (string, error) {
	table, ok := d.tables.For(rec.Container())
	if !ok {
		return "", &persistence.StoreError{Status: http.StatusBadRequest, Body: "no table for container " + string(rec.Container())}
	}

	row := persistence.Row(rec, dedupeKey, correlationID)
	names := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for _, col := range row {
		v, err := sqlValue(col.Value)
		if err != nil {
			return "", fmt.Errorf("sqlitestore: encode %s: %w", col.Name, err)
		}
		names = append(names, quote(col.Name))
		args = append(args, v)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", storeError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("sqlitestore: last insert id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// storeError maps driver errors to store statuses: unique violations to 409,
// other constraint failures to 400 and everything else to 503.
func storeError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch {
		case se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE, se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return &persistence.StoreError{Status: http.StatusConflict, Body: se.Error(), Err: err}
		case se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT, se.Code()&0xff == sqlite3.SQLITE_ERROR:
			return &persistence.StoreError{Status: http.StatusBadRequest, Body: se.Error(), Err: err}
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &persistence.StoreError{Status: http.StatusConflict, Body: err.Error(), Err: err}
	}
	return &persistence.StoreError{Status: http.StatusServiceUnavailable, Body: err.Error(), Err: err}
}

// Count returns the number of rows stored for c.
func (d *DB) Count(ctx context.Context, c domain.Container) (int, error) {
	table, ok := d.tables.For(c)
	if !ok {
		return 0, fmt.Errorf("sqlitestore: no table for container %q", c)
	}
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count %s: %w", table, err)
	}
	return n, nil
}
