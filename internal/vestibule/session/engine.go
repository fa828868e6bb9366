// Package session decides and records check-in / check-out transitions for
// a single visitor.  It is the only writer of ledger entries.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// Transition is the move a scan makes for one visitor.
type Transition int

const (
	CheckIn Transition = iota
	CheckOut
)

func (t Transition) String() string {
	switch t {
	case CheckIn:
		return string(visit.CheckedIn)
	case CheckOut:
		return string(visit.CheckedOut)
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// Status is the ledger status a transition produces.
func (t Transition) Status() visit.LogStatus {
	if t == CheckOut {
		return visit.CheckedOut
	}
	return visit.CheckedIn
}

type Engine struct {
	cal   visit.Calendar
	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSessionIDs overrides session id generation.
func WithSessionIDs(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func NewEngine(cal visit.Calendar, opts ...Option) *Engine {
	e := &Engine{
		cal:   cal,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) Calendar() visit.Calendar { return e.cal }

// Decide picks the transition given the visitor's latest ledger entry.  A
// check-in left open from a previous business day counts as expired.
func (e *Engine) Decide(latest *visit.Entry, now time.Time) Transition {
	if latest == nil {
		return CheckIn
	}
	switch latest.Status {
	case visit.CheckedIn:
		if e.cal.SameDay(latest.At, now) {
			return CheckOut
		}
		return CheckIn
	case visit.CheckedOut:
		return CheckIn
	default:
		return CheckIn
	}
}

// OpenToday reports whether latest is a check-in from the current business
// day.
func (e *Engine) OpenToday(latest *visit.Entry, now time.Time) bool {
	return e.Decide(latest, now) == CheckOut
}

// Latest locks the visitor and returns its most recent entry.
func (e *Engine) Latest(ctx context.Context, tx store.Tx, visitorID int64) (*visit.Entry, error) {
	if err := tx.LockVisitor(ctx, visitorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("visitor %d: %w", visitorID, visit.ErrNotFound)
		}
		return nil, err
	}
	return tx.LatestEntry(ctx, visitorID)
}

// Request carries everything Apply needs besides the transaction.
type Request struct {
	Visitor  visit.Visitor
	Code     string
	Actor    visit.Actor
	Override *visit.Details
	// Approver is the staff member who approved the request being
	// consumed, when known.
	Approver *int64
}

// Apply appends the ledger entry for t.  For CheckOut the caller must pass
// the open entry it decided on as prior.
func (e *Engine) Apply(ctx context.Context, tx store.Tx, req Request, t Transition, prior *visit.Entry) (visit.Entry, error) {
	if req.Visitor.ID == 0 {
		return visit.Entry{}, fmt.Errorf("visitor: %w", visit.ErrNotFound)
	}

	entry := visit.Entry{
		VisitorID: req.Visitor.ID,
		Name:      req.Visitor.Name,
		Status:    t.Status(),
		Code:      req.Code,
		At:        e.now().UTC(),
	}

	switch t {
	case CheckIn:
		entry.SessionID = e.newID()
		entry.Details = req.Visitor.Last
		if req.Override != nil {
			entry.Details = *req.Override
		}
		entry.CheckInBy = visit.Int64(req.Actor.ID)
		entry.CheckInGate = req.Actor.Gate
		entry.ApprovedBy = req.Approver
		if entry.ApprovedBy == nil {
			entry.ApprovedBy = visit.Int64(req.Actor.ID)
		}
	case CheckOut:
		if prior == nil || prior.Status != visit.CheckedIn {
			return visit.Entry{}, fmt.Errorf("check-out without open session: %w", visit.ErrInvalidTransition)
		}
		entry.SessionID = prior.SessionID
		entry.Details = prior.Details
		entry.CheckInBy = prior.CheckInBy
		entry.CheckInGate = prior.CheckInGate
		entry.ApprovedBy = prior.ApprovedBy
		entry.CheckOutBy = visit.Int64(req.Actor.ID)
		entry.CheckOutGate = req.Actor.Gate
	default:
		return visit.Entry{}, fmt.Errorf("unknown transition %v", t)
	}

	id, err := tx.AppendEntry(ctx, entry)
	if err != nil {
		return visit.Entry{}, fmt.Errorf("append %s: %w", t, err)
	}
	entry.ID = id
	return entry, nil
}

// Step locks the visitor, decides the transition and applies it.
func (e *Engine) Step(ctx context.Context, tx store.Tx, req Request) (visit.Entry, error) {
	latest, err := e.Latest(ctx, tx, req.Visitor.ID)
	if err != nil {
		return visit.Entry{}, err
	}
	t := e.Decide(latest, e.now())
	return e.Apply(ctx, tx, req, t, latest)
}
