package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/vestibule/internal/db"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store/sqlstore"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production.  The connection is closed automatically when the
// test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each call gets a unique in-memory database.  The shared-cache URI
	// keeps the database alive for the lifetime of the connection pool.
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		strings.ReplaceAll(t.Name(), "/", "_"),
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	// Match production: single connection for SQLite safety.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn, db.SQLite); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestStore returns a SQLite-backed store whose writes go through a
// db.Worker.  The worker is closed automatically when the test finishes.
func newTestStore(t *testing.T) (*sqlstore.Store, *sql.DB) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return sqlstore.New(conn, w, db.SQLite), conn
}

func inTx(t *testing.T, st *sqlstore.Store, fn store.TxFn) {
	t.Helper()
	if err := st.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func createVisitor(t *testing.T, st *sqlstore.Store, v visit.Visitor) int64 {
	t.Helper()
	var id int64
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.CreateVisitor(ctx, v)
		return err
	})
	return id
}
