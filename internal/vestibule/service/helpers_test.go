package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/mail"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/service"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/session"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store/memory"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

var manila = time.FixedZone("PHT", 8*60*60)

// 10:00 Manila on Mar 2.
var morning = time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

var gate = visit.Actor{ID: 7, Gate: "north"}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(text string) ([]byte, error) { return []byte("png:" + text), nil }

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// failingStore fails AppendEntry after n successful appends within a
// transaction.
type failingStore struct {
	*memory.Store
	n int
}

func (s *failingStore) WithTx(ctx context.Context, fn store.TxFn) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, left: s.n})
	})
}

type failingTx struct {
	store.Tx
	left int
}

var errInjected = errors.New("injected write failure")

func (t *failingTx) AppendEntry(ctx context.Context, e visit.Entry) (int64, error) {
	if t.left == 0 {
		return 0, errInjected
	}
	t.left--
	return t.Tx.AppendEntry(ctx, e)
}

type harness struct {
	st      *memory.Store
	clock   *fakeClock
	engine  *session.Engine
	emitter *recordingEmitter
	mailer  *fakeMailer
	scan    *service.ScanService
	reqs    *service.RequestService
	dash    *service.DashboardService
	lists   *service.ListingService
}

func newTestHarness(t *testing.T) *harness {
	return newTestHarnessWith(t, service.RequestConfig{})
}

func newTestHarnessWith(t *testing.T, cfg service.RequestConfig) *harness {
	t.Helper()
	h := &harness{
		st:      memory.New(),
		clock:   &fakeClock{t: morning},
		emitter: &recordingEmitter{},
		mailer:  &fakeMailer{},
	}
	n := 0
	h.engine = session.NewEngine(visit.CalendarIn(manila),
		session.WithClock(h.clock.Now),
		session.WithSessionIDs(func() string {
			n++
			return fmt.Sprintf("sess-%d", n)
		}),
	)
	codes := 0
	h.scan = service.NewScanService(h.st, h.engine, h.emitter, nil)
	h.reqs = service.NewRequestService(h.st, h.engine, fakeEncoder{}, h.mailer, h.emitter, nil, cfg).
		WithCodeGenerator(func() (string, error) {
			codes++
			return fmt.Sprintf("CODE%04d", codes), nil
		})
	h.dash = service.NewDashboardService(h.st, h.engine)
	h.lists = service.NewListingService(h.st, h.engine)
	return h
}

func (h *harness) seedVisitor(t *testing.T, v visit.Visitor) visit.Visitor {
	t.Helper()
	err := h.st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		id, err := tx.CreateVisitor(ctx, v)
		v.ID = id
		return err
	})
	if err != nil {
		t.Fatalf("seed visitor: %v", err)
	}
	return v
}

func (h *harness) seedRequest(t *testing.T, r visit.Request) visit.Request {
	t.Helper()
	if r.Phone == "" {
		r.Phone = "0917"
	}
	err := h.st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		id, err := tx.CreateRequest(ctx, r)
		r.ID = id
		return err
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return r
}

func (h *harness) request(t *testing.T, id int64) visit.Request {
	t.Helper()
	for _, r := range h.st.Requests() {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("request %d not found", id)
	return visit.Request{}
}

func (h *harness) visitorByCode(t *testing.T, code string) visit.Visitor {
	t.Helper()
	for _, v := range h.st.Visitors() {
		if v.PermanentCode == code {
			return v
		}
	}
	t.Fatalf("visitor with code %q not found", code)
	return visit.Visitor{}
}

func (h *harness) resolve(t *testing.T, in service.ScanInput) service.ScanOutcome {
	t.Helper()
	out, err := h.scan.Resolve(context.Background(), gate, in)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", in.Code, err)
	}
	return out
}

func str(s string) *string { return &s }
