package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/vestibule/internal/notify"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/session"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// ScanInput is one scan.  Purpose and Destination are set only once staff
// have confirmed the check-in details.
type ScanInput struct {
	Code        string
	Purpose     *string
	Destination *string
}

func (in ScanInput) confirmed() bool {
	return in.Purpose != nil || in.Destination != nil
}

type OutcomeKind int

const (
	OutcomeShowModal OutcomeKind = iota
	OutcomeSingle
	OutcomeGroup
)

// MemberResult is the transition applied to one visitor of a group scan.
type MemberResult struct {
	Name   string
	Status visit.LogStatus
}

// ScanOutcome describes what a scan did.  Entries holds every ledger entry
// written; it is empty for OutcomeShowModal.
type ScanOutcome struct {
	Kind      OutcomeKind
	Name      string
	Status    visit.LogStatus
	Details   visit.Details
	GroupCode string
	Members   []MemberResult
	Entries   []visit.Entry
}

// Response renders the outcome in the scan endpoint's wire shape.
func (o ScanOutcome) Response() types.ScanResponse {
	switch o.Kind {
	case OutcomeShowModal:
		return types.ScanResponse{
			Action:      types.ActionShowModal,
			Name:        o.Name,
			Purpose:     o.Details.Purpose,
			Destination: o.Details.Destination,
		}
	case OutcomeGroup:
		details := make([]string, 0, len(o.Members))
		for _, m := range o.Members {
			details = append(details, fmt.Sprintf("%s: %s", m.Name, m.Status))
		}
		return types.ScanResponse{
			Message: fmt.Sprintf("Group %s processed", o.GroupCode),
			Details: details,
		}
	default:
		return types.ScanResponse{Message: fmt.Sprintf("%s %s.", o.Name, o.Status)}
	}
}

// ScanService resolves scanned codes to check-in / check-out transitions.
type ScanService struct {
	store    store.Store
	engine   *session.Engine
	notifier notify.Emitter
	logger   *zap.Logger
}

func NewScanService(st store.Store, eng *session.Engine, n notify.Emitter, logger *zap.Logger) *ScanService {
	if n == nil {
		n = notify.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanService{store: st, engine: eng, notifier: n, logger: logger}
}

// Resolve matches the code against visitor permanent codes, then request
// codes, then group codes, and applies the resulting transition in one
// transaction.
func (s *ScanService) Resolve(ctx context.Context, actor visit.Actor, in ScanInput) (ScanOutcome, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		ve := &visit.ValidationError{}
		ve.Add("qr_data", "required")
		return ScanOutcome{}, ve
	}

	var out ScanOutcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.resolve(ctx, tx, actor, code, in)
		return err
	})
	if err != nil {
		return ScanOutcome{}, err
	}

	if len(out.Entries) > 0 {
		for _, e := range out.Entries {
			s.logger.Info("visit transition",
				zap.String("status", string(e.Status)),
				zap.Int64("visitor_id", e.VisitorID),
				zap.String("session_id", e.SessionID),
				zap.String("code", code),
				zap.Int64("actor_id", actor.ID),
				zap.String("gate", actor.Gate),
			)
		}
		s.notifier.Emit(notify.DashboardUpdate)
	}
	return out, nil
}

func (s *ScanService) resolve(ctx context.Context, tx store.Tx, actor visit.Actor, code string, in ScanInput) (ScanOutcome, error) {
	v, err := tx.VisitorByCode(ctx, code)
	if err == nil {
		req, err := scannableRequest(ctx, tx, code)
		if err != nil {
			return ScanOutcome{}, err
		}
		return s.single(ctx, tx, actor, v, code, in, req)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return ScanOutcome{}, err
	}

	r, err := tx.RequestByCode(ctx, code)
	if err == nil {
		return s.request(ctx, tx, actor, r, in)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return ScanOutcome{}, err
	}

	members, err := tx.RequestsByGroup(ctx, code)
	if err != nil {
		return ScanOutcome{}, err
	}
	if len(members) > 0 {
		return s.group(ctx, tx, actor, code, members)
	}

	return ScanOutcome{}, fmt.Errorf("code %q not recognized: %w", code, visit.ErrNotFound)
}

// scannableRequest returns the approved or completed request carrying code,
// if any.
func scannableRequest(ctx context.Context, tx store.Tx, code string) (*visit.Request, error) {
	r, err := tx.RequestByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !r.Status.Scannable() {
		return nil, nil
	}
	return &r, nil
}

func (s *ScanService) request(ctx context.Context, tx store.Tx, actor visit.Actor, r visit.Request, in ScanInput) (ScanOutcome, error) {
	switch r.Status {
	case visit.RequestPending:
		return ScanOutcome{}, fmt.Errorf("request %q not yet approved: %w", r.Code, visit.ErrNotFound)
	case visit.RequestRejected:
		return ScanOutcome{}, fmt.Errorf("request %q was rejected: %w", r.Code, visit.ErrAlreadyProcessed)
	case visit.RequestApproved, visit.RequestCompleted:
	default:
		return ScanOutcome{}, fmt.Errorf("request %q has status %q: %w", r.Code, r.Status, visit.ErrInvalidTransition)
	}

	v, err := requestVisitor(ctx, tx, r)
	if err != nil {
		return ScanOutcome{}, err
	}
	if r.VisitorID == nil {
		r.VisitorID = visit.Int64(v.ID)
	}
	return s.single(ctx, tx, actor, v, r.Code, in, &r)
}

// single runs one visitor's scan.  req is the approved request the code
// belongs to, when there is one; its approver is recorded and a check-in
// completes it.
func (s *ScanService) single(ctx context.Context, tx store.Tx, actor visit.Actor, v visit.Visitor, code string, in ScanInput, req *visit.Request) (ScanOutcome, error) {
	latest, err := s.engine.Latest(ctx, tx, v.ID)
	if err != nil {
		return ScanOutcome{}, err
	}

	sreq := session.Request{Visitor: v, Code: code, Actor: actor}
	if req != nil {
		sreq.Approver = req.ApprovedBy
	}

	if s.engine.Decide(latest, s.engine.Now()) == session.CheckOut {
		e, err := s.engine.Apply(ctx, tx, sreq, session.CheckOut, latest)
		if err != nil {
			return ScanOutcome{}, err
		}
		return ScanOutcome{Kind: OutcomeSingle, Name: v.Name, Status: e.Status, Details: e.Details, Entries: []visit.Entry{e}}, nil
	}

	// An approved request not yet consumed carries the details staff approved.
	d := v.Last
	if req != nil && req.Code == code && req.Status == visit.RequestApproved {
		d = req.Details
	}

	if !in.confirmed() {
		return ScanOutcome{Kind: OutcomeShowModal, Name: v.Name, Details: d}, nil
	}

	if in.Purpose != nil {
		d.Purpose = strings.TrimSpace(*in.Purpose)
	}
	if in.Destination != nil {
		d.Destination = strings.TrimSpace(*in.Destination)
	}
	if err := tx.UpdateVisitorLast(ctx, v.ID, d); err != nil {
		return ScanOutcome{}, notFound(err, "visitor %d", v.ID)
	}
	sreq.Visitor.Last = d

	e, err := s.engine.Apply(ctx, tx, sreq, session.CheckIn, nil)
	if err != nil {
		return ScanOutcome{}, err
	}
	if req != nil {
		if err := complete(ctx, tx, req); err != nil {
			return ScanOutcome{}, err
		}
	}
	return ScanOutcome{Kind: OutcomeSingle, Name: v.Name, Status: e.Status, Details: e.Details, Entries: []visit.Entry{e}}, nil
}

type groupMember struct {
	req     visit.Request
	visitor visit.Visitor
	latest  *visit.Entry
	// shared are further requests in the group backed by the same visitor.
	shared []visit.Request
}

// complete marks the member's request and every shared request consumed.
func (m *groupMember) complete(ctx context.Context, tx store.Tx) error {
	if err := complete(ctx, tx, &m.req); err != nil {
		return err
	}
	for i := range m.shared {
		if err := complete(ctx, tx, &m.shared[i]); err != nil {
			return err
		}
	}
	return nil
}

// group checks every eligible member out when any of them is checked in
// today, otherwise checks them all in.  Any failure aborts the whole scan.
func (s *ScanService) group(ctx context.Context, tx store.Tx, actor visit.Actor, groupCode string, reqs []visit.Request) (ScanOutcome, error) {
	members, err := loadMembers(ctx, tx, s.engine, groupCode, reqs)
	if err != nil {
		return ScanOutcome{}, err
	}

	now := s.engine.Now()
	anyOpen := false
	for _, m := range members {
		if s.engine.OpenToday(m.latest, now) {
			anyOpen = true
			break
		}
	}

	out := ScanOutcome{Kind: OutcomeGroup, GroupCode: groupCode}
	for i := range members {
		m := &members[i]
		sreq := session.Request{Visitor: m.visitor, Code: m.req.Code, Actor: actor, Approver: m.req.ApprovedBy}

		var e visit.Entry
		if anyOpen {
			if !s.engine.OpenToday(m.latest, now) {
				continue
			}
			e, err = s.engine.Apply(ctx, tx, sreq, session.CheckOut, m.latest)
			if err != nil {
				return ScanOutcome{}, err
			}
		} else {
			d := m.req.Details
			if err := tx.UpdateVisitorLast(ctx, m.visitor.ID, d); err != nil {
				return ScanOutcome{}, notFound(err, "visitor %d", m.visitor.ID)
			}
			sreq.Override = &d
			e, err = s.engine.Apply(ctx, tx, sreq, session.CheckIn, nil)
			if err != nil {
				return ScanOutcome{}, err
			}
			if err := m.complete(ctx, tx); err != nil {
				return ScanOutcome{}, err
			}
		}
		out.Members = append(out.Members, MemberResult{Name: m.visitor.Name, Status: e.Status})
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}

// loadMembers resolves the eligible members of a group to visitors and
// their latest entries.  A group with no approved member is AlreadyProcessed
// when every member was rejected, NotFound otherwise.
func loadMembers(ctx context.Context, tx store.Tx, eng *session.Engine, groupCode string, reqs []visit.Request) ([]groupMember, error) {
	var members []groupMember
	seen := make(map[int64]int)
	rejected := 0
	for _, r := range reqs {
		switch r.Status {
		case visit.RequestApproved, visit.RequestCompleted:
		case visit.RequestRejected:
			rejected++
			continue
		case visit.RequestPending:
			continue
		default:
			continue
		}

		v, err := requestVisitor(ctx, tx, r)
		if err != nil {
			return nil, err
		}
		r.VisitorID = visit.Int64(v.ID)
		if i, dup := seen[v.ID]; dup {
			members[i].shared = append(members[i].shared, r)
			continue
		}
		seen[v.ID] = len(members)
		latest, err := eng.Latest(ctx, tx, v.ID)
		if err != nil {
			return nil, err
		}
		members = append(members, groupMember{req: r, visitor: v, latest: latest})
	}

	if len(members) == 0 {
		if rejected == len(reqs) {
			return nil, fmt.Errorf("group %q was rejected: %w", groupCode, visit.ErrAlreadyProcessed)
		}
		return nil, fmt.Errorf("group %q not yet approved: %w", groupCode, visit.ErrNotFound)
	}
	return members, nil
}
