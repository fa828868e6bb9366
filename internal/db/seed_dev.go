package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DevVisitorCode is the permanent code of the visitor SeedDev creates.
const DevVisitorCode = "DEVVISIT"

// SeedDev inserts a demo visitor so a gate scanner can be exercised against
// a fresh dev database.  It is idempotent.
func SeedDev(ctx context.Context, db *sql.DB, d Dialect) error {
	now := time.Now().UTC().UnixMilli()

	if _, err := db.ExecContext(ctx, d.Rebind(`
INSERT INTO visitors(
  name, email, phone, permanent_code,
  last_purpose, last_destination, last_address, group_code, created_at_ms
) VALUES ('Dev Visitor', '', '0000', ?, 'Meeting', 'Lobby', 'Dev', '', ?)
ON CONFLICT(permanent_code) DO NOTHING;
`), DevVisitorCode, now); err != nil {
		return fmt.Errorf("seed dev visitor: %w", err)
	}
	return nil
}
