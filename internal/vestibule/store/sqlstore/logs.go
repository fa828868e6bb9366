package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// LatestEntry returns the visitor's most recent ledger entry, or nil when
// the visitor has none.
func (t *sqlTx) LatestEntry(ctx context.Context, visitorID int64) (*visit.Entry, error) {
	var (
		e          visit.Entry
		status     string
		atMs       int64
		checkInBy  sql.NullInt64
		checkOutBy sql.NullInt64
		approvedBy sql.NullInt64
	)
	err := t.queryRow(ctx, `
SELECT id, visitor_id, name, purpose, destination, address, status, unique_code,
       visit_session_id, occurred_at_ms, check_in_by_id, check_out_by_id,
       approved_by_id, check_in_gate, check_out_gate
FROM visitor_logs
WHERE visitor_id = ?
ORDER BY occurred_at_ms DESC, id DESC
LIMIT 1;`, visitorID).Scan(
		&e.ID, &e.VisitorID, &e.Name, &e.Details.Purpose, &e.Details.Destination, &e.Details.Address,
		&status, &e.Code, &e.SessionID, &atMs, &checkInBy, &checkOutBy,
		&approvedBy, &e.CheckInGate, &e.CheckOutGate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("LatestEntry", err)
	}
	if e.Status, err = visit.ParseLogStatus(status); err != nil {
		return nil, err
	}
	e.At = fromMs(atMs)
	e.CheckInBy = intPtr(checkInBy)
	e.CheckOutBy = intPtr(checkOutBy)
	e.ApprovedBy = intPtr(approvedBy)
	return &e, nil
}

// AppendEntry inserts a ledger row.  There is no update or
// delete counterpart; the schema rejects both.
func (t *sqlTx) AppendEntry(ctx context.Context, e visit.Entry) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `
INSERT INTO visitor_logs(
  visitor_id, name, purpose, destination, address, status, unique_code,
  visit_session_id, occurred_at_ms, check_in_by_id, check_out_by_id,
  approved_by_id, check_in_gate, check_out_gate
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id;`,
		e.VisitorID, e.Name, e.Details.Purpose, e.Details.Destination, e.Details.Address,
		string(e.Status), e.Code, e.SessionID, e.At.UTC().UnixMilli(),
		nullInt(e.CheckInBy), nullInt(e.CheckOutBy), nullInt(e.ApprovedBy),
		e.CheckInGate, e.CheckOutGate,
	).Scan(&id)
	if err != nil {
		return 0, mapErr("AppendEntry", err)
	}
	return id, nil
}
