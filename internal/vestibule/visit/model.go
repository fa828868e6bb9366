package visit

import "time"

// Actor is the staff member performing an operation, together with the
// gate they are stationed at.
type Actor struct {
	ID   int64
	Gate string
}

// Details is the purpose/destination/address triple that travels with a
// visit: stored as "last known" on the visitor and snapshotted into every
// ledger entry.
type Details struct {
	Purpose     string
	Destination string
	Address     string
}

// Visitor is the permanent identity of one physical visitor.
type Visitor struct {
	ID            int64
	Name          string
	Email         string
	Phone         string
	PermanentCode string
	Last          Details
	GroupCode     string
	CreatedAt     time.Time
}

// Request is one registration attempt.
type Request struct {
	ID         int64
	Name       string
	Email      string
	Phone      string
	Details    Details
	Code       string
	Status     RequestStatus
	GroupCode  string
	ApprovedBy *int64
	VisitorID  *int64
	CreatedAt  time.Time
}

// Entry is an immutable ledger record of one check-in or check-out.
type Entry struct {
	ID        int64
	VisitorID int64
	Name      string
	Details   Details
	Status    LogStatus
	Code      string
	SessionID string
	At        time.Time

	CheckInBy    *int64
	CheckOutBy   *int64
	ApprovedBy   *int64
	CheckInGate  string
	CheckOutGate string
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
