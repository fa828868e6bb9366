package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

const requestColumns = `id, name, email, phone, purpose, destination, address,
  unique_code, status, group_code, approved_by_id, visitor_id, created_at_ms`

// scanRequest reads requestColumns followed by any extra destinations.
func scanRequest(row interface{ Scan(...any) error }, extra ...any) (visit.Request, error) {
	var (
		r          visit.Request
		status     string
		approvedBy sql.NullInt64
		visitorID  sql.NullInt64
		createdMs  int64
	)
	dest := []any{&r.ID, &r.Name, &r.Email, &r.Phone,
		&r.Details.Purpose, &r.Details.Destination, &r.Details.Address,
		&r.Code, &status, &r.GroupCode, &approvedBy, &visitorID, &createdMs}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return visit.Request{}, err
	}
	if r.Status, err = visit.ParseRequestStatus(status); err != nil {
		return visit.Request{}, err
	}
	r.ApprovedBy = intPtr(approvedBy)
	r.VisitorID = intPtr(visitorID)
	r.CreatedAt = fromMs(createdMs)
	return r, nil
}

func (t *sqlTx) RequestByID(ctx context.Context, id int64) (visit.Request, error) {
	r, err := scanRequest(t.queryRow(ctx, `SELECT `+requestColumns+` FROM visit_requests WHERE id = ?;`, id))
	return r, mapErr("RequestByID", err)
}

func (t *sqlTx) RequestByCode(ctx context.Context, code string) (visit.Request, error) {
	r, err := scanRequest(t.queryRow(ctx, `SELECT `+requestColumns+` FROM visit_requests WHERE unique_code = ?`+t.d.ForUpdate()+`;`, code))
	return r, mapErr("RequestByCode", err)
}

func (t *sqlTx) RequestsByGroup(ctx context.Context, groupCode string) ([]visit.Request, error) {
	if groupCode == "" {
		return nil, nil
	}
	rows, err := t.query(ctx, `
SELECT `+requestColumns+`
FROM visit_requests
WHERE group_code = ?
ORDER BY id`+t.d.ForUpdate()+`;`, groupCode)
	if err != nil {
		return nil, mapErr("RequestsByGroup", err)
	}
	defer rows.Close()

	var out []visit.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("RequestsByGroup scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *sqlTx) CreateRequest(ctx context.Context, r visit.Request) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = visit.RequestPending
	}
	var id int64
	err := t.queryRow(ctx, `
INSERT INTO visit_requests(
  name, email, phone, purpose, destination, address,
  unique_code, status, group_code, approved_by_id, visitor_id, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id;`,
		r.Name, r.Email, r.Phone, r.Details.Purpose, r.Details.Destination, r.Details.Address,
		r.Code, string(r.Status), r.GroupCode, nullInt(r.ApprovedBy), nullInt(r.VisitorID),
		r.CreatedAt.UTC().UnixMilli(),
	).Scan(&id)
	if err != nil {
		return 0, mapErr("CreateRequest", err)
	}
	return id, nil
}

// SetRequestStatus is a compare-and-set on the status column, so a stale
// read can never move a request backwards.
func (t *sqlTx) SetRequestStatus(ctx context.Context, id int64, from, to visit.RequestStatus, approvedBy *int64) error {
	if !from.CanTransition(to) {
		return visit.ErrInvalidTransition
	}
	res, err := t.exec(ctx, `
UPDATE visit_requests
SET status = ?,
    approved_by_id = COALESCE(?, approved_by_id)
WHERE id = ? AND status = ?;`, string(to), nullInt(approvedBy), id, string(from))
	if err != nil {
		return mapErr("SetRequestStatus", err)
	}
	if err := requireOne(res); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if _, lookupErr := t.RequestByID(ctx, id); lookupErr != nil {
				return lookupErr
			}
			return visit.ErrInvalidTransition
		}
		return err
	}
	return nil
}

func (t *sqlTx) LinkRequestVisitor(ctx context.Context, requestID, visitorID int64) error {
	res, err := t.exec(ctx, `UPDATE visit_requests SET visitor_id = ? WHERE id = ?;`, visitorID, requestID)
	if err != nil {
		return mapErr("LinkRequestVisitor", err)
	}
	return requireOne(res)
}

func (t *sqlTx) CodeInUse(ctx context.Context, code string) (bool, error) {
	var n int
	err := t.queryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM visit_requests WHERE unique_code = ? OR group_code = ?) +
  (SELECT COUNT(*) FROM visitors WHERE permanent_code = ?);`, code, code, code).Scan(&n)
	if err != nil {
		return false, mapErr("CodeInUse", err)
	}
	return n > 0, nil
}
