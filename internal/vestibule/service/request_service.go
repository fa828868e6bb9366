package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/vestibule/internal/mail"
	"github.com/BrandonDHaskell/vestibule/internal/notify"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/session"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// ErrUndelivered is returned by ResendQR when the mail provider fails.
var ErrUndelivered = errors.New("qr mail not delivered")

// Encoder renders a code as an image.
type Encoder interface {
	Encode(text string) ([]byte, error)
}

type RequestConfig struct {
	// AutoApprove stores new submissions as Approve and mails their QR
	// immediately, as a walk-in kiosk does.
	AutoApprove bool
}

// RequestService owns the request approval workflow and direct check-ins
// from the request list.
type RequestService struct {
	store    store.Store
	engine   *session.Engine
	encoder  Encoder
	mailer   mail.Sender
	notifier notify.Emitter
	logger   *zap.Logger
	validate *validator.Validate
	cfg      RequestConfig
	newCode  CodeGenerator
}

func NewRequestService(
	st store.Store,
	eng *session.Engine,
	enc Encoder,
	m mail.Sender,
	n notify.Emitter,
	logger *zap.Logger,
	cfg RequestConfig,
) *RequestService {
	if n == nil {
		n = notify.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		store:    st,
		engine:   eng,
		encoder:  enc,
		mailer:   m,
		notifier: n,
		logger:   logger,
		validate: newValidator(),
		cfg:      cfg,
		newCode:  RandomCode,
	}
}

// WithCodeGenerator replaces the random code source.  Intended for tests.
func (s *RequestService) WithCodeGenerator(gen CodeGenerator) *RequestService {
	s.newCode = gen
	return s
}

func (s *RequestService) initialStatus() visit.RequestStatus {
	if s.cfg.AutoApprove {
		return visit.RequestApproved
	}
	return visit.RequestPending
}

// ── Submission ───────────────────────────────────────────────────────────────

func (s *RequestService) Submit(ctx context.Context, in types.SubmitRequest) (types.SubmitResponse, error) {
	ve := &visit.ValidationError{}
	sub, ok := normalize(s.validate, in, "", ve)
	if !ok {
		return types.SubmitResponse{}, ve
	}

	var created visit.Request
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = s.create(ctx, tx, newCodeSource(s.newCode, tx), sub, "")
		return err
	})
	if err != nil {
		return types.SubmitResponse{}, err
	}

	s.logger.Info("visit request submitted",
		zap.Int64("request_id", created.ID),
		zap.String("status", string(created.Status)),
	)
	if created.Status == visit.RequestApproved {
		s.deliver(ctx, []visit.Request{created})
	}
	s.notifier.Emit(notify.RequestUpdate)
	s.notifier.Emit(notify.DashboardUpdate)

	return types.SubmitResponse{
		OK:        true,
		RequestID: created.ID,
		Code:      created.Code,
		Status:    string(created.Status),
	}, nil
}

// SubmitGroup stores every entry in one transaction.  More than one entry
// shares a fresh group code.
func (s *RequestService) SubmitGroup(ctx context.Context, in types.SubmitGroupRequest) (types.SubmitGroupResponse, error) {
	ve := &visit.ValidationError{}
	if len(in.Visitors) == 0 {
		ve.Add("visitors", "required")
		return types.SubmitGroupResponse{}, ve
	}
	subs := make([]submission, 0, len(in.Visitors))
	for i, v := range in.Visitors {
		sub, ok := normalize(s.validate, v, fmt.Sprintf("visitors[%d].", i), ve)
		if ok {
			subs = append(subs, sub)
		}
	}
	if err := ve.OrNil(); err != nil {
		return types.SubmitGroupResponse{}, err
	}

	var created []visit.Request
	var groupCode string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created = created[:0]
		codes := newCodeSource(s.newCode, tx)
		groupCode = ""
		if len(subs) > 1 {
			var err error
			if groupCode, err = codes.next(ctx); err != nil {
				return fmt.Errorf("group code: %w", err)
			}
		}
		for _, sub := range subs {
			r, err := s.create(ctx, tx, codes, sub, groupCode)
			if err != nil {
				return err
			}
			created = append(created, r)
		}
		return nil
	})
	if err != nil {
		return types.SubmitGroupResponse{}, err
	}

	s.logger.Info("group request submitted",
		zap.String("group_code", groupCode),
		zap.Int("members", len(created)),
	)
	if s.cfg.AutoApprove {
		s.deliver(ctx, created)
	}
	s.notifier.Emit(notify.RequestUpdate)
	s.notifier.Emit(notify.DashboardUpdate)

	out := types.SubmitGroupResponse{OK: true, GroupCode: groupCode}
	for _, r := range created {
		out.Visitors = append(out.Visitors, types.SubmittedVisitor{RequestID: r.ID, Name: r.Name, Code: r.Code})
	}
	return out, nil
}

func (s *RequestService) create(ctx context.Context, tx store.Tx, codes *codeSource, sub submission, groupCode string) (visit.Request, error) {
	code, err := codes.next(ctx)
	if err != nil {
		return visit.Request{}, fmt.Errorf("request code: %w", err)
	}
	r := visit.Request{
		Name:      sub.Name,
		Email:     sub.Email,
		Phone:     sub.Phone,
		Details:   sub.Details,
		Code:      code,
		Status:    s.initialStatus(),
		GroupCode: groupCode,
		CreatedAt: s.engine.Now(),
	}
	id, err := tx.CreateRequest(ctx, r)
	if err != nil {
		return visit.Request{}, fmt.Errorf("create request: %w", err)
	}
	r.ID = id
	if r.Status == visit.RequestApproved {
		if err := linkByContact(ctx, tx, &r); err != nil {
			return visit.Request{}, fmt.Errorf("link request %d: %w", id, err)
		}
	}
	return r, nil
}

// ── Approval ─────────────────────────────────────────────────────────────────

// Approve moves a pending request to Approve.  A grouped request is approved
// together with its whole group.  It returns the number of requests approved.
func (s *RequestService) Approve(ctx context.Context, requestID int64, actor visit.Actor) (int, error) {
	return s.decideRequest(ctx, requestID, actor, visit.RequestApproved)
}

// Reject moves a pending request to Reject, with its whole group if it has
// one.
func (s *RequestService) Reject(ctx context.Context, requestID int64, actor visit.Actor) (int, error) {
	return s.decideRequest(ctx, requestID, actor, visit.RequestRejected)
}

func (s *RequestService) ApproveGroup(ctx context.Context, groupCode string, actor visit.Actor) (int, error) {
	return s.decideGroup(ctx, groupCode, actor, visit.RequestApproved)
}

func (s *RequestService) RejectGroup(ctx context.Context, groupCode string, actor visit.Actor) (int, error) {
	return s.decideGroup(ctx, groupCode, actor, visit.RequestRejected)
}

func (s *RequestService) decideRequest(ctx context.Context, requestID int64, actor visit.Actor, to visit.RequestStatus) (int, error) {
	var changed []visit.Request
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.RequestByID(ctx, requestID)
		if err != nil {
			return notFound(err, "request %d", requestID)
		}
		reqs := []visit.Request{r}
		if r.GroupCode != "" {
			if reqs, err = tx.RequestsByGroup(ctx, r.GroupCode); err != nil {
				return err
			}
		}
		changed, err = s.transition(ctx, tx, reqs, actor, to)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.afterDecision(ctx, changed, actor, to)
	return len(changed), nil
}

func (s *RequestService) decideGroup(ctx context.Context, groupCode string, actor visit.Actor, to visit.RequestStatus) (int, error) {
	var changed []visit.Request
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		reqs, err := tx.RequestsByGroup(ctx, groupCode)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return fmt.Errorf("group %q: %w", groupCode, visit.ErrNotFound)
		}
		changed, err = s.transition(ctx, tx, reqs, actor, to)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.afterDecision(ctx, changed, actor, to)
	return len(changed), nil
}

// transition applies to to every request or to none.  Approval links each
// request to an existing visitor with matching contact details.
func (s *RequestService) transition(ctx context.Context, tx store.Tx, reqs []visit.Request, actor visit.Actor, to visit.RequestStatus) ([]visit.Request, error) {
	for _, r := range reqs {
		if !r.Status.CanTransition(to) {
			return nil, fmt.Errorf("request %d is %s: %w", r.ID, r.Status, visit.ErrInvalidTransition)
		}
	}

	var approver *int64
	if to == visit.RequestApproved {
		approver = visit.Int64(actor.ID)
	}
	out := make([]visit.Request, 0, len(reqs))
	for _, r := range reqs {
		if err := tx.SetRequestStatus(ctx, r.ID, r.Status, to, approver); err != nil {
			return nil, fmt.Errorf("request %d: %w", r.ID, err)
		}
		r.Status = to
		if approver != nil {
			r.ApprovedBy = visit.Int64(*approver)
			if err := linkByContact(ctx, tx, &r); err != nil {
				return nil, fmt.Errorf("link request %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RequestService) afterDecision(ctx context.Context, changed []visit.Request, actor visit.Actor, to visit.RequestStatus) {
	for _, r := range changed {
		s.logger.Info("visit request decided",
			zap.Int64("request_id", r.ID),
			zap.String("status", string(to)),
			zap.String("group_code", r.GroupCode),
			zap.Int64("actor_id", actor.ID),
		)
	}
	if to == visit.RequestApproved {
		s.deliver(ctx, changed)
	}
	s.notifier.Emit(notify.RequestUpdate)
	s.notifier.Emit(notify.DashboardUpdate)
}

// ── QR delivery ──────────────────────────────────────────────────────────────

// deliver mails QR codes for freshly approved requests.  Failures are
// logged; the approval already committed.
func (s *RequestService) deliver(ctx context.Context, reqs []visit.Request) {
	for _, r := range reqs {
		if r.Email == "" {
			continue
		}
		if err := s.send(ctx, r); err != nil {
			s.logger.Error("qr mail failed",
				zap.Int64("request_id", r.ID),
				zap.String("to", r.Email),
				zap.Error(err),
			)
		}
	}
}

func (s *RequestService) send(ctx context.Context, r visit.Request) error {
	png, err := s.encoder.Encode(r.Code)
	if err != nil {
		return err
	}
	msg := mail.VisitorQR(r.Name, r.Email, r.Code, png)
	if r.GroupCode != "" {
		groupPNG, err := s.encoder.Encode(r.GroupCode)
		if err != nil {
			return err
		}
		msg = mail.GroupQR(r.Name, r.Email, png, groupPNG)
	}
	return s.mailer.Send(ctx, msg)
}

// ResendQR mails the QR code of an approved request again.
func (s *RequestService) ResendQR(ctx context.Context, requestID int64) error {
	var r visit.Request
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		r, err = tx.RequestByID(ctx, requestID)
		return notFound(err, "request %d", requestID)
	})
	if err != nil {
		return err
	}
	if !r.Status.Scannable() {
		return fmt.Errorf("request %d is %s: %w", r.ID, r.Status, visit.ErrInvalidTransition)
	}
	if r.Email == "" {
		ve := &visit.ValidationError{}
		ve.Add("email", "no email on file")
		return ve
	}
	if err := s.send(ctx, r); err != nil {
		s.logger.Error("qr resend failed", zap.Int64("request_id", r.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUndelivered, err)
	}
	s.logger.Info("qr resent", zap.Int64("request_id", r.ID))
	return nil
}

// ── Direct check-in ──────────────────────────────────────────────────────────

// DirectCheckIn checks the request's visitor in with the request's recorded
// details, without a scan.  It returns 0 when the visitor is already checked
// in today.
func (s *RequestService) DirectCheckIn(ctx context.Context, requestID int64, actor visit.Actor) (int, error) {
	var entries []visit.Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entries = entries[:0]
		r, err := tx.RequestByID(ctx, requestID)
		if err != nil {
			return notFound(err, "request %d", requestID)
		}
		if err := checkInable(r); err != nil {
			return err
		}
		e, ok, err := s.checkIn(ctx, tx, r, actor)
		if err != nil {
			return err
		}
		if ok {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.afterCheckIn(entries, actor)
	return len(entries), nil
}

// DirectCheckInGroup checks in every approved member of a group that is not
// already checked in today.
func (s *RequestService) DirectCheckInGroup(ctx context.Context, groupCode string, actor visit.Actor) (int, error) {
	var entries []visit.Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entries = entries[:0]
		reqs, err := tx.RequestsByGroup(ctx, groupCode)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return fmt.Errorf("group %q: %w", groupCode, visit.ErrNotFound)
		}
		members, err := loadMembers(ctx, tx, s.engine, groupCode, reqs)
		if err != nil {
			return err
		}
		for i := range members {
			m := &members[i]
			e, ok, err := s.checkIn(ctx, tx, m.req, actor)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			for j := range m.shared {
				if err := complete(ctx, tx, &m.shared[j]); err != nil {
					return err
				}
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.afterCheckIn(entries, actor)
	return len(entries), nil
}

func checkInable(r visit.Request) error {
	switch r.Status {
	case visit.RequestApproved, visit.RequestCompleted:
		return nil
	case visit.RequestRejected:
		return fmt.Errorf("request %d was rejected: %w", r.ID, visit.ErrAlreadyProcessed)
	case visit.RequestPending:
		return fmt.Errorf("request %d not yet approved: %w", r.ID, visit.ErrInvalidTransition)
	default:
		return fmt.Errorf("request %d has status %q: %w", r.ID, r.Status, visit.ErrInvalidTransition)
	}
}

func (s *RequestService) checkIn(ctx context.Context, tx store.Tx, r visit.Request, actor visit.Actor) (visit.Entry, bool, error) {
	v, err := requestVisitor(ctx, tx, r)
	if err != nil {
		return visit.Entry{}, false, err
	}
	r.VisitorID = visit.Int64(v.ID)

	latest, err := s.engine.Latest(ctx, tx, v.ID)
	if err != nil {
		return visit.Entry{}, false, err
	}
	if s.engine.OpenToday(latest, s.engine.Now()) {
		return visit.Entry{}, false, nil
	}

	d := r.Details
	if err := tx.UpdateVisitorLast(ctx, v.ID, d); err != nil {
		return visit.Entry{}, false, notFound(err, "visitor %d", v.ID)
	}
	e, err := s.engine.Apply(ctx, tx, session.Request{
		Visitor:  v,
		Code:     r.Code,
		Actor:    actor,
		Override: &d,
	}, session.CheckIn, nil)
	if err != nil {
		return visit.Entry{}, false, err
	}
	if err := complete(ctx, tx, &r); err != nil {
		return visit.Entry{}, false, err
	}
	return e, true, nil
}

func (s *RequestService) afterCheckIn(entries []visit.Entry, actor visit.Actor) {
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		s.logger.Info("direct check-in",
			zap.Int64("visitor_id", e.VisitorID),
			zap.String("session_id", e.SessionID),
			zap.Int64("actor_id", actor.ID),
			zap.String("gate", actor.Gate),
		)
	}
	s.notifier.Emit(notify.DashboardUpdate)
	s.notifier.Emit(notify.RequestUpdate)
}
