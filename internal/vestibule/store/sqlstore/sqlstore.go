package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	dbpkg "github.com/BrandonDHaskell/vestibule/internal/db"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// Store implements store.Store over database/sql for both SQLite and
// Postgres.  Reads outside a transaction go straight to db; all unit-of-work
// calls run through the runner.
type Store struct {
	db      *sql.DB
	runner  dbpkg.Runner
	dialect dbpkg.Dialect
}

func New(db *sql.DB, runner dbpkg.Runner, dialect dbpkg.Dialect) *Store {
	return &Store{db: db, runner: runner, dialect: dialect}
}

func (s *Store) WithTx(ctx context.Context, fn store.TxFn) error {
	return s.runner.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &sqlTx{tx: tx, d: s.dialect})
	})
}

func (s *Store) Summary(ctx context.Context, dayStart, dayEnd time.Time) (store.Summary, error) {
	var sum store.Summary
	startMs, endMs := dayStart.UTC().UnixMilli(), dayEnd.UTC().UnixMilli()

	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
SELECT COUNT(DISTINCT visitor_id)
FROM visitor_logs
WHERE status = 'Checked-In' AND occurred_at_ms >= ? AND occurred_at_ms < ?;
`), startMs, endMs).Scan(&sum.VisitorsToday); err != nil {
		return store.Summary{}, fmt.Errorf("Summary visitors today: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
SELECT COUNT(*)
FROM visitor_logs l
WHERE l.status = 'Checked-In' AND l.occurred_at_ms >= ? AND l.occurred_at_ms < ?
  AND NOT EXISTS (
    SELECT 1 FROM visitor_logs o
    WHERE o.visit_session_id = l.visit_session_id AND o.status = 'Checked-Out'
  );
`), startMs, endMs).Scan(&sum.CurrentlyOnSite); err != nil {
		return store.Summary{}, fmt.Errorf("Summary on site: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM visit_requests WHERE status = 'Pending';
`).Scan(&sum.PendingRequests); err != nil {
		return store.Summary{}, fmt.Errorf("Summary pending: %w", err)
	}

	return sum, nil
}

type sqlTx struct {
	tx *sql.Tx
	d  dbpkg.Dialect
}

func (t *sqlTx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.Rebind(q), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.Rebind(q), args...)
}

func (t *sqlTx) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.d.Rebind(q), args...)
}

// mapErr translates driver errors into store sentinels.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return visit.Int64(n.Int64)
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
