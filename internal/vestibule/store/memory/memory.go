package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// Store is an in-memory implementation of store.Store intended for tests
// and dev environments.  Transactions hold the store mutex for their whole
// duration and work on a copy that replaces the live state on commit.
type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

type state struct {
	visitors []visit.Visitor
	requests []visit.Request
	entries  []visit.Entry
	nextID   int64
}

func (s state) clone() state {
	out := state{nextID: s.nextID}
	out.visitors = append([]visit.Visitor(nil), s.visitors...)
	out.requests = append([]visit.Request(nil), s.requests...)
	out.entries = append([]visit.Entry(nil), s.entries...)
	return out
}

func New() *Store {
	return &Store{now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) WithTx(ctx context.Context, fn store.TxFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{st: s.state.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

func (s *Store) Summary(_ context.Context, dayStart, dayEnd time.Time) (store.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum store.Summary
	seen := make(map[int64]struct{})
	closed := make(map[string]struct{})
	for _, e := range s.state.entries {
		if e.Status == visit.CheckedOut {
			closed[e.SessionID] = struct{}{}
		}
	}
	for _, e := range s.state.entries {
		if e.Status != visit.CheckedIn || e.At.Before(dayStart) || !e.At.Before(dayEnd) {
			continue
		}
		seen[e.VisitorID] = struct{}{}
		if _, ok := closed[e.SessionID]; !ok {
			sum.CurrentlyOnSite++
		}
	}
	sum.VisitorsToday = len(seen)
	for _, r := range s.state.requests {
		if r.Status == visit.RequestPending {
			sum.PendingRequests++
		}
	}
	return sum, nil
}

func (s *Store) Sessions(_ context.Context, q store.SessionQuery) ([]store.Session, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type opened struct {
		store.Session
		entryID int64
	}
	var all []opened
	index := make(map[string]int)
	for _, e := range s.state.entries {
		if e.Status != visit.CheckedIn {
			continue
		}
		index[e.SessionID] = len(all)
		all = append(all, opened{Session: store.Session{
			SessionID:   e.SessionID,
			VisitorID:   e.VisitorID,
			Name:        e.Name,
			Code:        e.Code,
			Details:     e.Details,
			CheckInAt:   e.At,
			CheckInGate: e.CheckInGate,
		}, entryID: e.ID})
	}
	for _, e := range s.state.entries {
		i, ok := index[e.SessionID]
		if !ok || e.Status != visit.CheckedOut {
			continue
		}
		at := e.At
		all[i].CheckOutAt = &at
		all[i].CheckOutGate = e.CheckOutGate
	}

	var match []opened
	for _, o := range all {
		if inRange(o.LastAt(), q.From, q.To) && nameMatches(o.Name, q.Name) {
			match = append(match, o)
		}
	}
	sort.SliceStable(match, func(i, j int) bool {
		a, b := match[i].LastAt(), match[j].LastAt()
		if a.Equal(b) {
			return match[i].entryID > match[j].entryID
		}
		return a.After(b)
	})

	lo, hi := page(len(match), q.Limit, q.Offset)
	out := make([]store.Session, 0, hi-lo)
	for _, o := range match[lo:hi] {
		out = append(out, o.Session)
	}
	return out, len(match), nil
}

func (s *Store) ListRequests(_ context.Context, q store.RequestQuery) ([]store.ListedRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var match []visit.Request
	for _, r := range s.state.requests {
		if inRange(r.CreatedAt, q.From, q.To) && nameMatches(r.Name, q.Name) {
			match = append(match, r)
		}
	}
	sort.SliceStable(match, func(i, j int) bool {
		if match[i].CreatedAt.Equal(match[j].CreatedAt) {
			return match[i].ID > match[j].ID
		}
		return match[i].CreatedAt.After(match[j].CreatedAt)
	})

	lo, hi := page(len(match), q.Limit, q.Offset)
	out := make([]store.ListedRequest, 0, hi-lo)
	for _, r := range match[lo:hi] {
		out = append(out, store.ListedRequest{Request: r, CheckedIn: s.latestIsCheckIn(r.Code)})
	}
	return out, len(match), nil
}

func (s *Store) latestIsCheckIn(code string) bool {
	var latest *visit.Entry
	for i := range s.state.entries {
		e := &s.state.entries[i]
		if e.Code != code {
			continue
		}
		if latest == nil || e.At.After(latest.At) || (e.At.Equal(latest.At) && e.ID > latest.ID) {
			latest = e
		}
	}
	return latest != nil && latest.Status == visit.CheckedIn
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	return to.IsZero() || t.Before(to)
}

func nameMatches(name, q string) bool {
	return q == "" || strings.Contains(strings.ToLower(name), strings.ToLower(q))
}

// page clamps limit and offset to a slice of n items.
func page(n, limit, offset int) (int, int) {
	if limit <= 0 {
		return 0, n
	}
	lo := min(max(offset, 0), n)
	return lo, min(lo+limit, n)
}

// Entries returns a copy of the ledger.  Test-only helper.
func (s *Store) Entries() []visit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]visit.Entry(nil), s.state.entries...)
}

// Requests returns a copy of all requests.  Test-only helper.
func (s *Store) Requests() []visit.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]visit.Request(nil), s.state.requests...)
}

// Visitors returns a copy of all visitors.  Test-only helper.
func (s *Store) Visitors() []visit.Visitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]visit.Visitor(nil), s.state.visitors...)
}

type memTx struct {
	st  state
	now func() time.Time
}

func (t *memTx) id() int64 {
	t.st.nextID++
	return t.st.nextID
}

// LockVisitor is a no-op: the whole transaction already holds the store lock.
func (t *memTx) LockVisitor(_ context.Context, visitorID int64) error {
	for _, v := range t.st.visitors {
		if v.ID == visitorID {
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *memTx) VisitorByID(_ context.Context, id int64) (visit.Visitor, error) {
	for _, v := range t.st.visitors {
		if v.ID == id {
			return v, nil
		}
	}
	return visit.Visitor{}, store.ErrNotFound
}

func (t *memTx) VisitorByCode(_ context.Context, code string) (visit.Visitor, error) {
	for _, v := range t.st.visitors {
		if v.PermanentCode == code {
			return v, nil
		}
	}
	return visit.Visitor{}, store.ErrNotFound
}

func (t *memTx) VisitorByContact(_ context.Context, name, phone string) (visit.Visitor, error) {
	for _, v := range t.st.visitors {
		if v.Name == name && v.Phone == phone {
			return v, nil
		}
	}
	return visit.Visitor{}, store.ErrNotFound
}

func (t *memTx) CreateVisitor(_ context.Context, v visit.Visitor) (int64, error) {
	for _, existing := range t.st.visitors {
		if existing.PermanentCode == v.PermanentCode {
			return 0, store.ErrConflict
		}
	}
	v.ID = t.id()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = t.now()
	}
	t.st.visitors = append(t.st.visitors, v)
	return v.ID, nil
}

func (t *memTx) UpdateVisitorLast(_ context.Context, id int64, d visit.Details) error {
	for i := range t.st.visitors {
		if t.st.visitors[i].ID == id {
			t.st.visitors[i].Last = d
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *memTx) RequestByID(_ context.Context, id int64) (visit.Request, error) {
	for _, r := range t.st.requests {
		if r.ID == id {
			return r, nil
		}
	}
	return visit.Request{}, store.ErrNotFound
}

func (t *memTx) RequestByCode(_ context.Context, code string) (visit.Request, error) {
	for _, r := range t.st.requests {
		if r.Code == code {
			return r, nil
		}
	}
	return visit.Request{}, store.ErrNotFound
}

func (t *memTx) RequestsByGroup(_ context.Context, groupCode string) ([]visit.Request, error) {
	var out []visit.Request
	for _, r := range t.st.requests {
		if groupCode != "" && r.GroupCode == groupCode {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) CreateRequest(_ context.Context, r visit.Request) (int64, error) {
	for _, existing := range t.st.requests {
		if existing.Code == r.Code {
			return 0, store.ErrConflict
		}
	}
	r.ID = t.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}
	t.st.requests = append(t.st.requests, r)
	return r.ID, nil
}

func (t *memTx) SetRequestStatus(_ context.Context, id int64, from, to visit.RequestStatus, approvedBy *int64) error {
	for i := range t.st.requests {
		r := &t.st.requests[i]
		if r.ID != id {
			continue
		}
		if r.Status != from || !from.CanTransition(to) {
			return visit.ErrInvalidTransition
		}
		r.Status = to
		if approvedBy != nil {
			r.ApprovedBy = visit.Int64(*approvedBy)
		}
		return nil
	}
	return store.ErrNotFound
}

func (t *memTx) LinkRequestVisitor(_ context.Context, requestID, visitorID int64) error {
	for i := range t.st.requests {
		if t.st.requests[i].ID == requestID {
			t.st.requests[i].VisitorID = visit.Int64(visitorID)
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *memTx) LatestEntry(_ context.Context, visitorID int64) (*visit.Entry, error) {
	var mine []visit.Entry
	for _, e := range t.st.entries {
		if e.VisitorID == visitorID {
			mine = append(mine, e)
		}
	}
	if len(mine) == 0 {
		return nil, nil
	}
	sort.SliceStable(mine, func(i, j int) bool {
		if mine[i].At.Equal(mine[j].At) {
			return mine[i].ID > mine[j].ID
		}
		return mine[i].At.After(mine[j].At)
	})
	e := mine[0]
	return &e, nil
}

func (t *memTx) AppendEntry(_ context.Context, e visit.Entry) (int64, error) {
	for _, existing := range t.st.entries {
		if existing.SessionID == e.SessionID && existing.Status == e.Status {
			return 0, store.ErrConflict
		}
	}
	e.ID = t.id()
	t.st.entries = append(t.st.entries, e)
	return e.ID, nil
}

func (t *memTx) CodeInUse(_ context.Context, code string) (bool, error) {
	for _, r := range t.st.requests {
		if r.Code == code || r.GroupCode == code {
			return true, nil
		}
	}
	for _, v := range t.st.visitors {
		if v.PermanentCode == code {
			return true, nil
		}
	}
	return false, nil
}
