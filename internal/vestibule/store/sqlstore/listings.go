package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// filter accumulates AND-ed predicates and their arguments.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, args ...any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
}

// timeRange adds a half-open range on col.  Zero bounds are skipped.
func (f *filter) timeRange(col string, from, to time.Time) {
	if !from.IsZero() {
		f.add(col+" >= ?", from.UTC().UnixMilli())
	}
	if !to.IsZero() {
		f.add(col+" < ?", to.UTC().UnixMilli())
	}
}

func (f *filter) nameLike(col, q string) {
	if q == "" {
		return
	}
	f.add("LOWER("+col+`) LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(strings.ToLower(q))+"%")
}

func (f *filter) String() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return "\n  AND " + strings.Join(f.clauses, "\n  AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func limitClause(limit, offset int) (string, []any) {
	if limit <= 0 {
		return "", nil
	}
	return "\nLIMIT ? OFFSET ?", []any{limit, max(offset, 0)}
}

const sessionFrom = `
FROM visitor_logs i
LEFT JOIN visitor_logs o
  ON o.visit_session_id = i.visit_session_id AND o.status = 'Checked-Out'
WHERE i.status = 'Checked-In'`

func (s *Store) Sessions(ctx context.Context, q store.SessionQuery) ([]store.Session, int, error) {
	var f filter
	f.timeRange("COALESCE(o.occurred_at_ms, i.occurred_at_ms)", q.From, q.To)
	f.nameLike("i.name", q.Name)

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COUNT(*)`+sessionFrom+f.String()+`;`), f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("Sessions count: %w", err)
	}

	limit, limitArgs := limitClause(q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
SELECT i.visit_session_id, i.visitor_id, i.name, i.unique_code,
       i.purpose, i.destination, i.address,
       i.occurred_at_ms, o.occurred_at_ms, i.check_in_gate, COALESCE(o.check_out_gate, '')`+
		sessionFrom+f.String()+`
ORDER BY COALESCE(o.occurred_at_ms, i.occurred_at_ms) DESC, i.id DESC`+limit+`;`),
		append(f.args, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("Sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var (
			ss    store.Session
			inMs  int64
			outMs sql.NullInt64
		)
		if err := rows.Scan(&ss.SessionID, &ss.VisitorID, &ss.Name, &ss.Code,
			&ss.Details.Purpose, &ss.Details.Destination, &ss.Details.Address,
			&inMs, &outMs, &ss.CheckInGate, &ss.CheckOutGate); err != nil {
			return nil, 0, fmt.Errorf("Sessions scan: %w", err)
		}
		ss.CheckInAt = fromMs(inMs)
		if outMs.Valid {
			at := fromMs(outMs.Int64)
			ss.CheckOutAt = &at
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("Sessions rows: %w", err)
	}
	return out, total, nil
}

func (s *Store) ListRequests(ctx context.Context, q store.RequestQuery) ([]store.ListedRequest, int, error) {
	var f filter
	f.timeRange("created_at_ms", q.From, q.To)
	f.nameLike("name", q.Name)

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COUNT(*) FROM visit_requests r WHERE 1 = 1`+f.String()+`;`), f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListRequests count: %w", err)
	}

	limit, limitArgs := limitClause(q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
SELECT `+requestColumns+`,
  COALESCE((
    SELECT l.status FROM visitor_logs l
    WHERE l.unique_code = r.unique_code
    ORDER BY l.occurred_at_ms DESC, l.id DESC
    LIMIT 1
  ), '')
FROM visit_requests r
WHERE 1 = 1`+f.String()+`
ORDER BY r.created_at_ms DESC, r.id DESC`+limit+`;`),
		append(f.args, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListRequests: %w", err)
	}
	defer rows.Close()

	var out []store.ListedRequest
	for rows.Next() {
		var latest string
		r, err := scanRequest(rows, &latest)
		if err != nil {
			return nil, 0, fmt.Errorf("ListRequests scan: %w", err)
		}
		out = append(out, store.ListedRequest{Request: r, CheckedIn: latest == string(visit.CheckedIn)})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListRequests rows: %w", err)
	}
	return out, total, nil
}
