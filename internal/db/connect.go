package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps common aliases onto a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", s)
	}
}

// Open opens a DB, tunes its pool and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:testsync.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/testsync?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MaxOpenConns reports the pool size Open configures for driver. Callers size
// their worker pools from it.
func MaxOpenConns(driver Driver) int {
	if driver == DriverSQLite {
		return 1
	}
	return 20
}

func tunePool(driver Driver, db *sql.DB) {
	db.SetMaxOpenConns(MaxOpenConns(driver))
	switch driver {
	case DriverSQLite:
		// single writer: keep the pool tiny to avoid busy errors
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(45 * time.Minute)
		db.SetConnMaxIdleTime(15 * time.Minute)
	}
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		// Some drivers reject multi-statement scripts; fall back to one at a time.
		for _, stmt := range splitSQL(schema) {
			if _, e := db.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("schema failed at: %s\nerror: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

// splitSQL naively splits on ';'. Good enough for the DDL below.
func splitSQL(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p+";")
		}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS courses (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  short_name TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  display_timezone TEXT,
  grading_queue TEXT NOT NULL DEFAULT '',
  options TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS course_instances (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  course_id INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  semester_id INTEGER NOT NULL,
  UNIQUE (course_id, semester_id)
);

CREATE TABLE IF NOT EXISTS tests (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tid TEXT NOT NULL,
  course_instance_id INTEGER NOT NULL REFERENCES course_instances(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS tests_tid_idx ON tests (tid, course_instance_id);

CREATE TABLE IF NOT EXISTS test_instances (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tiid TEXT NOT NULL UNIQUE,
  date INTEGER,                              -- unix millis
  number INTEGER NOT NULL DEFAULT 0,
  user_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
  test_id INTEGER REFERENCES tests(id) ON DELETE CASCADE,
  auth_user_id INTEGER REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS test_states (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  test_instance_id INTEGER NOT NULL REFERENCES test_instances(id) ON DELETE CASCADE,
  open INTEGER NOT NULL,                     -- 0/1
  date INTEGER NOT NULL,                     -- unix millis
  auth_user_id INTEGER REFERENCES users(id),
  UNIQUE (test_instance_id, open)
);

CREATE TABLE IF NOT EXISTS sync_runs (
  id TEXT PRIMARY KEY,
  course_id INTEGER NOT NULL,
  status TEXT NOT NULL,                      -- ok|failed
  total INTEGER NOT NULL DEFAULT 0,
  counts TEXT NOT NULL DEFAULT '{}',         -- JSON outcome -> count
  error TEXT NOT NULL DEFAULT '',
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS courses (
  id BIGSERIAL PRIMARY KEY,
  short_name TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  display_timezone TEXT,
  grading_queue TEXT NOT NULL DEFAULT '',
  options JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  uid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS course_instances (
  id BIGSERIAL PRIMARY KEY,
  course_id BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  semester_id BIGINT NOT NULL,
  UNIQUE (course_id, semester_id)
);

CREATE TABLE IF NOT EXISTS tests (
  id BIGSERIAL PRIMARY KEY,
  tid TEXT NOT NULL,
  course_instance_id BIGINT NOT NULL REFERENCES course_instances(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS tests_tid_idx ON tests (tid, course_instance_id);

CREATE TABLE IF NOT EXISTS test_instances (
  id BIGSERIAL PRIMARY KEY,
  tiid TEXT NOT NULL UNIQUE,
  date BIGINT,
  number INTEGER NOT NULL DEFAULT 0,
  user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
  test_id BIGINT REFERENCES tests(id) ON DELETE CASCADE,
  auth_user_id BIGINT REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS test_states (
  id BIGSERIAL PRIMARY KEY,
  test_instance_id BIGINT NOT NULL REFERENCES test_instances(id) ON DELETE CASCADE,
  open BOOLEAN NOT NULL,
  date BIGINT NOT NULL,
  auth_user_id BIGINT REFERENCES users(id),
  UNIQUE (test_instance_id, open)
);

CREATE TABLE IF NOT EXISTS sync_runs (
  id TEXT PRIMARY KEY,
  course_id BIGINT NOT NULL,
  status TEXT NOT NULL,
  total INTEGER NOT NULL DEFAULT 0,
  counts TEXT NOT NULL DEFAULT '{}',
  error TEXT NOT NULL DEFAULT '',
  started_at BIGINT NOT NULL,
  finished_at BIGINT NOT NULL
);
`
