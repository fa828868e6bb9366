package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

const visitorColumns = `id, name, email, phone, permanent_code,
  last_purpose, last_destination, last_address, group_code, created_at_ms`

func scanVisitor(row interface{ Scan(...any) error }) (visit.Visitor, error) {
	var (
		v         visit.Visitor
		createdMs int64
	)
	err := row.Scan(&v.ID, &v.Name, &v.Email, &v.Phone, &v.PermanentCode,
		&v.Last.Purpose, &v.Last.Destination, &v.Last.Address, &v.GroupCode, &createdMs)
	if err != nil {
		return visit.Visitor{}, err
	}
	v.CreatedAt = fromMs(createdMs)
	return v, nil
}

// LockVisitor takes a row lock on Postgres.  On SQLite the query only
// checks existence; the Worker already serializes writers.
func (t *sqlTx) LockVisitor(ctx context.Context, visitorID int64) error {
	var id int64
	err := t.queryRow(ctx, `SELECT id FROM visitors WHERE id = ?`+t.d.ForUpdate()+`;`, visitorID).Scan(&id)
	return mapErr("LockVisitor", err)
}

func (t *sqlTx) VisitorByID(ctx context.Context, id int64) (visit.Visitor, error) {
	v, err := scanVisitor(t.queryRow(ctx, `SELECT `+visitorColumns+` FROM visitors WHERE id = ?;`, id))
	return v, mapErr("VisitorByID", err)
}

func (t *sqlTx) VisitorByCode(ctx context.Context, code string) (visit.Visitor, error) {
	v, err := scanVisitor(t.queryRow(ctx, `SELECT `+visitorColumns+` FROM visitors WHERE permanent_code = ?;`, code))
	return v, mapErr("VisitorByCode", err)
}

func (t *sqlTx) VisitorByContact(ctx context.Context, name, phone string) (visit.Visitor, error) {
	v, err := scanVisitor(t.queryRow(ctx, `
SELECT `+visitorColumns+`
FROM visitors
WHERE name = ? AND phone = ?
ORDER BY id
LIMIT 1;`, name, phone))
	return v, mapErr("VisitorByContact", err)
}

func (t *sqlTx) CreateVisitor(ctx context.Context, v visit.Visitor) (int64, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := t.queryRow(ctx, `
INSERT INTO visitors(
  name, email, phone, permanent_code,
  last_purpose, last_destination, last_address, group_code, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id;`,
		v.Name, v.Email, v.Phone, v.PermanentCode,
		v.Last.Purpose, v.Last.Destination, v.Last.Address, v.GroupCode, v.CreatedAt.UTC().UnixMilli(),
	).Scan(&id)
	if err != nil {
		return 0, mapErr("CreateVisitor", err)
	}
	return id, nil
}

func (t *sqlTx) UpdateVisitorLast(ctx context.Context, id int64, d visit.Details) error {
	res, err := t.exec(ctx, `
UPDATE visitors
SET last_purpose = ?,
    last_destination = ?,
    last_address = ?
WHERE id = ?;`, d.Purpose, d.Destination, d.Address, id)
	if err != nil {
		return mapErr("UpdateVisitorLast", err)
	}
	return requireOne(res)
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
