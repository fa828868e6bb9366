package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Config struct {
	Dialect Dialect
	Path    string // sqlite file, e.g. "./data/vestibule.db"
	URL     string // postgres DSN
	Env     string // "dev" | "prod"
	// SeedDev inserts demo rows after migrating.  Ignored outside dev.
	SeedDev bool
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Dialect {
	case Postgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres: database url is required")
		}
		db, err = sql.Open(cfg.Dialect.DriverName(), cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		db, err = openSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
	}

	// Validate connection early.
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db, cfg.Dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.SeedDev && cfg.Env == "dev" {
		if err := SeedDev(ctx, db, cfg.Dialect); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/vestibule.db"
	}

	// Ensure DB parent directory exists.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	// modernc.org/sqlite DSN with per-connection PRAGMAs.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open(SQLite.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection; the Worker owns all writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// NewRunner returns the transaction runner suited to the dialect.  SQLite
// gets the single-writer Worker; Postgres runs transactions on the pool and
// relies on row locks.  The returned close func must be called on shutdown.
func NewRunner(db *sql.DB, d Dialect) (Runner, func()) {
	if d == Postgres {
		return NewPool(db), func() {}
	}
	w := NewWorker(db)
	return w, w.Close
}
