package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// requestVisitor returns the visitor backing r, creating and linking one on
// first use.  A created visitor takes the request code as its permanent code.
func requestVisitor(ctx context.Context, tx store.Tx, r visit.Request) (visit.Visitor, error) {
	if r.VisitorID != nil {
		v, err := tx.VisitorByID(ctx, *r.VisitorID)
		if err != nil {
			return visit.Visitor{}, notFound(err, "visitor %d for request %d", *r.VisitorID, r.ID)
		}
		return v, nil
	}

	v := visit.Visitor{
		Name:          r.Name,
		Email:         r.Email,
		Phone:         r.Phone,
		PermanentCode: r.Code,
		Last:          r.Details,
		GroupCode:     r.GroupCode,
	}
	id, err := tx.CreateVisitor(ctx, v)
	if err != nil {
		return visit.Visitor{}, fmt.Errorf("create visitor for request %d: %w", r.ID, err)
	}
	v.ID = id
	if err := tx.LinkRequestVisitor(ctx, r.ID, id); err != nil {
		return visit.Visitor{}, fmt.Errorf("link request %d: %w", r.ID, err)
	}
	return v, nil
}

// linkByContact attaches r to an existing visitor with the same name and
// phone.  It is the only place contact details are matched.
func linkByContact(ctx context.Context, tx store.Tx, r *visit.Request) error {
	if r.VisitorID != nil {
		return nil
	}
	v, err := tx.VisitorByContact(ctx, r.Name, r.Phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.LinkRequestVisitor(ctx, r.ID, v.ID); err != nil {
		return err
	}
	r.VisitorID = visit.Int64(v.ID)
	return nil
}

// complete marks an approved request as consumed by a check-in.
func complete(ctx context.Context, tx store.Tx, r *visit.Request) error {
	if r.Status != visit.RequestApproved {
		return nil
	}
	if err := tx.SetRequestStatus(ctx, r.ID, visit.RequestApproved, visit.RequestCompleted, nil); err != nil {
		return fmt.Errorf("complete request %d: %w", r.ID, err)
	}
	r.Status = visit.RequestCompleted
	return nil
}

// notFound maps store.ErrNotFound onto visit.ErrNotFound with context.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf(format+": %w", append(args, visit.ErrNotFound)...)
	}
	return err
}
