package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL flavour used for schema creation.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB wraps sql.DB together with the dialect it speaks.
type DB struct {
	Client  *sql.DB
	Dialect Dialect
}

// NewDB opens the database named by databaseURL and creates the schema.
// postgres:// and postgresql:// URLs use pgx; sqlite://path uses go-sqlite3.
func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	dialect, driver, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dialect == SQLite {
		// one writer keeps sqlite from answering "database is locked"
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{Client: db, Dialect: dialect}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func parseURL(databaseURL string) (Dialect, string, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return Postgres, "pgx", databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		// sqlite:///rel.db is relative, sqlite:////abs.db is absolute
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return "", "", "", fmt.Errorf("sqlite url %q has no path", databaseURL)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", "", fmt.Errorf("create db dir: %w", err)
			}
		}
		return SQLite, "sqlite3", path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", nil
	default:
		return "", "", "", fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

func (d *DB) migrate(ctx context.Context) error {
	statements := postgresSchema
	if d.Dialect == SQLite {
		statements = sqliteSchema
	}
	for _, stmt := range statements {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping reports whether the database answers.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.Client == nil {
		return fmt.Errorf("db not configured")
	}
	return d.Client.PingContext(ctx)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            SERIAL PRIMARY KEY,
		username      VARCHAR(80) UNIQUE NOT NULL,
		password_hash VARCHAR(120) NOT NULL,
		role          VARCHAR(20) NOT NULL DEFAULT 'teacher',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id         SERIAL PRIMARY KEY,
		student_id VARCHAR(20) UNIQUE NOT NULL,
		name       VARCHAR(80) NOT NULL,
		face_id    VARCHAR(200) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id          SERIAL PRIMARY KEY,
		student_ref INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status      VARCHAR(20) NOT NULL DEFAULT 'present',
		image_path  VARCHAR(200) NOT NULL DEFAULT '',
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
		archive_url TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance(student_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance(recorded_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'teacher',
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT UNIQUE NOT NULL,
		name       TEXT NOT NULL,
		face_id    TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		student_ref INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		status      TEXT NOT NULL DEFAULT 'present',
		image_path  TEXT NOT NULL DEFAULT '',
		confidence  REAL NOT NULL DEFAULT 0,
		archive_url TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance(student_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance(recorded_at)`,
}
