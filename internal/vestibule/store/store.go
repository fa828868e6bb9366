package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("store: conflict")
)

// TxFn is a unit of work run inside one transaction.  Returning an error
// rolls back every write it made.
type TxFn func(ctx context.Context, tx Tx) error

// Store is the persistence boundary of the visit core.
type Store interface {
	WithTx(ctx context.Context, fn TxFn) error
	Summary(ctx context.Context, dayStart, dayEnd time.Time) (Summary, error)

	// Sessions lists visit sessions, newest activity first, and returns the
	// number of sessions matching q before paging.
	Sessions(ctx context.Context, q SessionQuery) ([]Session, int, error)
	// ListRequests lists requests, newest first, and returns the number
	// matching q before paging.
	ListRequests(ctx context.Context, q RequestQuery) ([]ListedRequest, int, error)
}

// Tx exposes the reads and writes allowed within a transaction.  Ledger
// entries can only be appended.
type Tx interface {
	// LockVisitor serializes concurrent transactions touching the same
	// visitor.  It must be called before reading the visitor's latest entry.
	LockVisitor(ctx context.Context, visitorID int64) error

	VisitorByID(ctx context.Context, id int64) (visit.Visitor, error)
	VisitorByCode(ctx context.Context, code string) (visit.Visitor, error)
	VisitorByContact(ctx context.Context, name, phone string) (visit.Visitor, error)
	CreateVisitor(ctx context.Context, v visit.Visitor) (int64, error)
	UpdateVisitorLast(ctx context.Context, id int64, d visit.Details) error

	RequestByID(ctx context.Context, id int64) (visit.Request, error)
	RequestByCode(ctx context.Context, code string) (visit.Request, error)
	RequestsByGroup(ctx context.Context, groupCode string) ([]visit.Request, error)
	CreateRequest(ctx context.Context, r visit.Request) (int64, error)
	// SetRequestStatus moves a request from one status to another and fails
	// with visit.ErrInvalidTransition when the stored status is not from.
	SetRequestStatus(ctx context.Context, id int64, from, to visit.RequestStatus, approvedBy *int64) error
	LinkRequestVisitor(ctx context.Context, requestID, visitorID int64) error

	LatestEntry(ctx context.Context, visitorID int64) (*visit.Entry, error)
	AppendEntry(ctx context.Context, e visit.Entry) (int64, error)

	// CodeInUse reports whether code is taken by any request, group or
	// visitor.
	CodeInUse(ctx context.Context, code string) (bool, error)
}

// Summary holds the dashboard counters for one business day.
type Summary struct {
	VisitorsToday   int
	CurrentlyOnSite int
	PendingRequests int
}

// Session pairs a check-in entry with the check-out that closed it.
// CheckOutAt is nil while the visitor is still on site.
type Session struct {
	SessionID    string
	VisitorID    int64
	Name         string
	Code         string
	Details      visit.Details
	CheckInAt    time.Time
	CheckOutAt   *time.Time
	CheckInGate  string
	CheckOutGate string
}

// LastAt is the time of the latest entry in the session.
func (s Session) LastAt() time.Time {
	if s.CheckOutAt != nil {
		return *s.CheckOutAt
	}
	return s.CheckInAt
}

// SessionQuery filters Sessions.  A zero From or To leaves that side of the
// range open; the range is matched against LastAt and is half-open.  Name
// is a case-insensitive substring.  Limit <= 0 disables paging.
type SessionQuery struct {
	From   time.Time
	To     time.Time
	Name   string
	Limit  int
	Offset int
}

// RequestQuery filters ListRequests on the creation time and the name, with
// the same conventions as SessionQuery.
type RequestQuery struct {
	From   time.Time
	To     time.Time
	Name   string
	Limit  int
	Offset int
}

// ListedRequest is a request with the state of its code in the ledger.
// CheckedIn is true when the latest entry for the code is a check-in.
type ListedRequest struct {
	visit.Request
	CheckedIn bool
}
