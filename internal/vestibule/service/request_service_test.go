package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BrandonDHaskell/vestibule/internal/notify"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/service"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

var staff = visit.Actor{ID: 42, Gate: "admin"}

func validSubmission() types.SubmitRequest {
	return types.SubmitRequest{
		FirstName:     "Ana",
		MiddleInitial: "maria",
		LastName:      "Cruz",
		Email:         "ana@example.com",
		Phone:         "09171234567",
		Purpose:       "Meeting",
		Destination:   "Finance",
		Address:       "Makati",
	}
}

// ── Submit ───────────────────────────────────────────────────────────────────

func TestSubmit_StoresPendingRequest(t *testing.T) {
	h := newTestHarness(t)

	resp, err := h.reqs.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.OK || resp.Status != "Pending" || resp.Code != "CODE0001" {
		t.Errorf("unexpected response %+v", resp)
	}

	r := h.request(t, resp.RequestID)
	if r.Name != "Ana M. Cruz" {
		t.Errorf("expected composed name, got %q", r.Name)
	}
	if r.Details != (visit.Details{Purpose: "Meeting", Destination: "Finance", Address: "Makati"}) {
		t.Errorf("unexpected details %+v", r.Details)
	}
	if len(h.mailer.sent) != 0 {
		t.Error("expected no mail for a pending request")
	}
	if h.emitter.count(notify.RequestUpdate) != 1 || h.emitter.count(notify.DashboardUpdate) != 1 {
		t.Errorf("expected request and dashboard updates, got %v", h.emitter.events)
	}
}

func TestSubmit_OtherPurposeAndNoEmail(t *testing.T) {
	h := newTestHarness(t)
	in := validSubmission()
	in.MiddleInitial = ""
	in.Email = "ignored@example.com"
	in.NoEmail = true
	in.Purpose = "Other"
	in.OtherPurpose = "Site inspection"

	resp, err := h.reqs.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := h.request(t, resp.RequestID)
	if r.Name != "Ana Cruz" {
		t.Errorf("expected name without initial, got %q", r.Name)
	}
	if r.Email != "" {
		t.Errorf("expected email cleared, got %q", r.Email)
	}
	if r.Details.Purpose != "Site inspection" {
		t.Errorf("expected other purpose, got %q", r.Details.Purpose)
	}
}

func TestSubmit_ValidationErrorsListFields(t *testing.T) {
	h := newTestHarness(t)
	in := validSubmission()
	in.Email = ""
	in.Phone = "  "
	in.Address = ""
	in.Purpose = "Other"

	_, err := h.reqs.Submit(context.Background(), in)
	var ve *visit.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, f := range []string{"email", "phone", "address", "other_purpose"} {
		if _, ok := ve.Fields[f]; !ok {
			t.Errorf("expected failure for %s, got %v", f, ve.Fields)
		}
	}
	if n := len(h.st.Requests()); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestSubmit_InvalidEmail(t *testing.T) {
	h := newTestHarness(t)
	in := validSubmission()
	in.Email = "not-an-email"

	_, err := h.reqs.Submit(context.Background(), in)
	var ve *visit.ValidationError
	if !errors.As(err, &ve) || ve.Fields["email"] != "invalid email" {
		t.Fatalf("expected invalid email, got %v", err)
	}
}

func TestSubmit_AutoApproveMailsQR(t *testing.T) {
	h := newTestHarnessWith(t, service.RequestConfig{AutoApprove: true})

	resp, err := h.reqs.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != "Approve" {
		t.Errorf("expected Approve, got %s", resp.Status)
	}
	if len(h.mailer.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(h.mailer.sent))
	}
	m := h.mailer.sent[0]
	if m.To != "ana@example.com" || string(m.Attachments[0].Content) != "png:"+resp.Code {
		t.Errorf("unexpected mail %+v", m)
	}
}

func TestSubmit_SkipsCodesAlreadyInUse(t *testing.T) {
	h := newTestHarness(t)
	h.seedVisitor(t, visit.Visitor{Name: "Old", PermanentCode: "CODE0001"})

	resp, err := h.reqs.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Code != "CODE0002" {
		t.Errorf("expected the taken code to be skipped, got %s", resp.Code)
	}
}

func TestSubmitGroup_SharesGroupCode(t *testing.T) {
	h := newTestHarness(t)
	second := validSubmission()
	second.FirstName = "Ben"

	resp, err := h.reqs.SubmitGroup(context.Background(), types.SubmitGroupRequest{
		Visitors: []types.SubmitRequest{validSubmission(), second},
	})
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}
	if resp.GroupCode == "" || len(resp.Visitors) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	for _, sv := range resp.Visitors {
		if r := h.request(t, sv.RequestID); r.GroupCode != resp.GroupCode {
			t.Errorf("%s: expected group %s, got %q", sv.Name, resp.GroupCode, r.GroupCode)
		}
		if sv.Code == resp.GroupCode {
			t.Error("expected member code distinct from group code")
		}
	}
}

func TestSubmitGroup_SingleEntryHasNoGroup(t *testing.T) {
	h := newTestHarness(t)

	resp, err := h.reqs.SubmitGroup(context.Background(), types.SubmitGroupRequest{
		Visitors: []types.SubmitRequest{validSubmission()},
	})
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}
	if resp.GroupCode != "" {
		t.Errorf("expected no group code, got %q", resp.GroupCode)
	}
}

func TestSubmitGroup_OneInvalidEntryStoresNothing(t *testing.T) {
	h := newTestHarness(t)
	bad := validSubmission()
	bad.LastName = ""

	_, err := h.reqs.SubmitGroup(context.Background(), types.SubmitGroupRequest{
		Visitors: []types.SubmitRequest{validSubmission(), bad},
	})
	var ve *visit.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := ve.Fields["visitors[1].last_name"]; !ok {
		t.Errorf("expected indexed field name, got %v", ve.Fields)
	}
	if n := len(h.st.Requests()); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

// ── Approve / Reject ─────────────────────────────────────────────────────────

func TestApprove_LinksVisitorAndMailsQR(t *testing.T) {
	h := newTestHarness(t)
	v := h.seedVisitor(t, visit.Visitor{Name: "Ana M. Cruz", Phone: "09171234567", PermanentCode: "V1"})
	resp, err := h.reqs.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	n, err := h.reqs.Approve(context.Background(), resp.RequestID, staff)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 approved, got %d", n)
	}

	r := h.request(t, resp.RequestID)
	if r.Status != visit.RequestApproved {
		t.Errorf("expected Approve, got %s", r.Status)
	}
	if r.ApprovedBy == nil || *r.ApprovedBy != staff.ID {
		t.Errorf("expected approver %d, got %v", staff.ID, r.ApprovedBy)
	}
	if r.VisitorID == nil || *r.VisitorID != v.ID {
		t.Errorf("expected link to visitor %d, got %v", v.ID, r.VisitorID)
	}
	if len(h.mailer.sent) != 1 || h.mailer.sent[0].Subject != "Your Visitor QR Code" {
		t.Errorf("expected visitor QR mail, got %+v", h.mailer.sent)
	}
}

func TestApprove_MailFailureStillCommits(t *testing.T) {
	h := newTestHarness(t)
	h.mailer.err = errors.New("smtp down")
	resp, err := h.reqs.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := h.reqs.Approve(context.Background(), resp.RequestID, staff); err != nil {
		t.Fatalf("expected approval to succeed despite mail failure, got %v", err)
	}
	if got := h.request(t, resp.RequestID).Status; got != visit.RequestApproved {
		t.Errorf("expected Approve, got %s", got)
	}
}

func TestApprove_TwiceIsInvalidTransition(t *testing.T) {
	h := newTestHarness(t)
	resp, _ := h.reqs.Submit(context.Background(), validSubmission())
	if _, err := h.reqs.Approve(context.Background(), resp.RequestID, staff); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, err := h.reqs.Approve(context.Background(), resp.RequestID, staff)
	if !errors.Is(err, visit.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.reqs.Reject(context.Background(), resp.RequestID, staff); !errors.Is(err, visit.ErrInvalidTransition) {
		t.Fatalf("expected approved request to refuse rejection, got %v", err)
	}
}

func TestApprove_UnknownRequestNotFound(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.reqs.Approve(context.Background(), 999, staff)
	if !errors.Is(err, visit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApprove_GroupedRequestApprovesWholeGroup(t *testing.T) {
	h := newTestHarness(t)
	second := validSubmission()
	second.FirstName = "Ben"
	second.Email = "ben@example.com"
	resp, err := h.reqs.SubmitGroup(context.Background(), types.SubmitGroupRequest{
		Visitors: []types.SubmitRequest{validSubmission(), second},
	})
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}

	n, err := h.reqs.Approve(context.Background(), resp.Visitors[0].RequestID, staff)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 approved, got %d", n)
	}
	for _, sv := range resp.Visitors {
		if got := h.request(t, sv.RequestID).Status; got != visit.RequestApproved {
			t.Errorf("%s: expected Approve, got %s", sv.Name, got)
		}
	}
	if len(h.mailer.sent) != 2 {
		t.Fatalf("expected a mail per member, got %d", len(h.mailer.sent))
	}
	for _, m := range h.mailer.sent {
		if len(m.Attachments) != 2 || string(m.Attachments[1].Content) != "png:"+resp.GroupCode {
			t.Errorf("expected member and group QR attachments, got %+v", m.Attachments)
		}
	}
}

func TestApproveGroup_AllOrNothing(t *testing.T) {
	h := newTestHarness(t)
	seedGroupPending := func(name, code string, status visit.RequestStatus) visit.Request {
		return h.seedRequest(t, visit.Request{Name: name, Code: code, Status: status, GroupCode: "G1"})
	}
	a := seedGroupPending("Ana", "A1", visit.RequestPending)
	b := seedGroupPending("Ben", "B1", visit.RequestRejected)

	_, err := h.reqs.ApproveGroup(context.Background(), "G1", staff)
	if !errors.Is(err, visit.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := h.request(t, a.ID).Status; got != visit.RequestPending {
		t.Errorf("expected Ana still Pending, got %s", got)
	}
	if got := h.request(t, b.ID).Status; got != visit.RequestRejected {
		t.Errorf("expected Ben still Reject, got %s", got)
	}
	if len(h.mailer.sent) != 0 {
		t.Error("expected no mail after a failed group approval")
	}
}

func TestRejectGroup(t *testing.T) {
	h := newTestHarness(t)
	h.seedRequest(t, visit.Request{Name: "Ana", Code: "A1", Status: visit.RequestPending, GroupCode: "G1"})
	h.seedRequest(t, visit.Request{Name: "Ben", Code: "B1", Status: visit.RequestPending, GroupCode: "G1"})

	n, err := h.reqs.RejectGroup(context.Background(), "G1", staff)
	if err != nil {
		t.Fatalf("RejectGroup: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rejected, got %d", n)
	}
	for _, r := range h.st.Requests() {
		if r.Status != visit.RequestRejected {
			t.Errorf("%s: expected Reject, got %s", r.Name, r.Status)
		}
		if r.ApprovedBy != nil {
			t.Errorf("%s: expected no approver on rejection", r.Name)
		}
	}

	if _, err := h.reqs.ApproveGroup(context.Background(), "NOPE", staff); !errors.Is(err, visit.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown group, got %v", err)
	}
}

// ── Resend ───────────────────────────────────────────────────────────────────

func TestResendQR(t *testing.T) {
	h := newTestHarness(t)
	approved := h.seedRequest(t, visit.Request{Name: "Ana", Email: "ana@example.com", Code: "R1", Status: visit.RequestApproved})
	pending := h.seedRequest(t, visit.Request{Name: "Ben", Email: "ben@example.com", Code: "R2", Status: visit.RequestPending})
	noEmail := h.seedRequest(t, visit.Request{Name: "Cai", Code: "R3", Status: visit.RequestCompleted})

	if err := h.reqs.ResendQR(context.Background(), approved.ID); err != nil {
		t.Fatalf("ResendQR: %v", err)
	}
	if len(h.mailer.sent) != 1 || h.mailer.sent[0].To != "ana@example.com" {
		t.Errorf("expected resend to Ana, got %+v", h.mailer.sent)
	}

	if err := h.reqs.ResendQR(context.Background(), pending.ID); !errors.Is(err, visit.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for pending, got %v", err)
	}
	var ve *visit.ValidationError
	if err := h.reqs.ResendQR(context.Background(), noEmail.ID); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError without email, got %v", err)
	}

	h.mailer.err = errors.New("smtp down")
	err := h.reqs.ResendQR(context.Background(), approved.ID)
	if !errors.Is(err, service.ErrUndelivered) || !strings.Contains(err.Error(), "smtp down") {
		t.Errorf("expected ErrUndelivered, got %v", err)
	}
}

// ── Direct check-in ──────────────────────────────────────────────────────────

func TestDirectCheckIn_UsesRequestDetailsAndSkipsOpenVisit(t *testing.T) {
	h := newTestHarness(t)
	r := h.seedRequest(t, visit.Request{
		Name: "Ana", Code: "R1", Status: visit.RequestApproved,
		Details: visit.Details{Purpose: "Meeting", Destination: "Finance", Address: "Makati"},
	})

	n, err := h.reqs.DirectCheckIn(context.Background(), r.ID, staff)
	if err != nil {
		t.Fatalf("DirectCheckIn: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 check-in, got %d", n)
	}
	e := h.st.Entries()[0]
	if e.Details != r.Details || e.Status != visit.CheckedIn {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.ApprovedBy == nil || *e.ApprovedBy != staff.ID {
		t.Errorf("expected staff recorded as approver, got %v", e.ApprovedBy)
	}
	if got := h.request(t, r.ID).Status; got != visit.RequestCompleted {
		t.Errorf("expected Completed, got %s", got)
	}

	n, err = h.reqs.DirectCheckIn(context.Background(), r.ID, staff)
	if err != nil {
		t.Fatalf("second DirectCheckIn: %v", err)
	}
	if n != 0 || len(h.st.Entries()) != 1 {
		t.Errorf("expected already checked-in visitor to be skipped, got n=%d entries=%d", n, len(h.st.Entries()))
	}
}

func TestDirectCheckIn_RefusesUnapproved(t *testing.T) {
	h := newTestHarness(t)
	pending := h.seedRequest(t, visit.Request{Name: "Ana", Code: "R1", Status: visit.RequestPending})
	rejected := h.seedRequest(t, visit.Request{Name: "Ben", Code: "R2", Status: visit.RequestRejected})

	if _, err := h.reqs.DirectCheckIn(context.Background(), pending.ID, staff); !errors.Is(err, visit.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.reqs.DirectCheckIn(context.Background(), rejected.ID, staff); !errors.Is(err, visit.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestDirectCheckInGroup_CountsOnlyNewCheckIns(t *testing.T) {
	h := newTestHarness(t)
	seedGroup(t, h, "G1", "Ana", "Ben", "Cai")

	// Ana arrives first with her own code.
	h.resolve(t, service.ScanInput{Code: "G1-M1", Purpose: str("Seminar")})

	n, err := h.reqs.DirectCheckInGroup(context.Background(), "G1", staff)
	if err != nil {
		t.Fatalf("DirectCheckInGroup: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 new check-ins, got %d", n)
	}
	if got := len(h.st.Entries()); got != 3 {
		t.Errorf("expected 3 entries, got %d", got)
	}
	for _, r := range h.st.Requests() {
		if r.Status != visit.RequestCompleted {
			t.Errorf("%s: expected Completed, got %s", r.Name, r.Status)
		}
	}
}

func TestDirectCheckInGroup_CompletesRequestsSharingAVisitor(t *testing.T) {
	h := newTestHarness(t)
	v := h.seedVisitor(t, visit.Visitor{Name: "Ana", Phone: "0917", PermanentCode: "V1"})
	for _, code := range []string{"R1", "R2"} {
		h.seedRequest(t, visit.Request{
			Name: "Ana", Code: code, GroupCode: "G1", Status: visit.RequestApproved,
			VisitorID: visit.Int64(v.ID),
		})
	}

	n, err := h.reqs.DirectCheckInGroup(context.Background(), "G1", staff)
	if err != nil {
		t.Fatalf("DirectCheckInGroup: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 check-in, got %d", n)
	}
	for _, r := range h.st.Requests() {
		if r.Status != visit.RequestCompleted {
			t.Errorf("%s: expected Completed, got %s", r.Code, r.Status)
		}
	}
}
