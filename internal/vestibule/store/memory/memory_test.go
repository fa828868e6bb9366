package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store/memory"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

func TestWithTx_DiscardsWritesOnError(t *testing.T) {
	st := memory.New()
	boom := errors.New("boom")

	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.CreateVisitor(ctx, visit.Visitor{Name: "Ana", PermanentCode: "V1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(st.Visitors()); n != 0 {
		t.Errorf("expected no visitors after rollback, got %d", n)
	}
}

func TestWithTx_CanceledContext(t *testing.T) {
	st := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := st.WithTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled without running fn, got %v (called=%v)", err, called)
	}
}

func TestAppendEntry_UniqueSessionStatus(t *testing.T) {
	st := memory.New()
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		id, err := tx.CreateVisitor(ctx, visit.Visitor{Name: "Ana", PermanentCode: "V1"})
		if err != nil {
			return err
		}
		e := visit.Entry{VisitorID: id, Status: visit.CheckedIn, SessionID: "s1", At: time.Now()}
		if _, err := tx.AppendEntry(ctx, e); err != nil {
			return err
		}
		_, err = tx.AppendEntry(ctx, e)
		return err
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := len(st.Entries()); n != 0 {
		t.Errorf("expected failed tx to leave no entries, got %d", n)
	}
}

func TestSetRequestStatus_CompareAndSet(t *testing.T) {
	st := memory.New()
	var id int64
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.CreateRequest(ctx, visit.Request{Name: "Ana", Code: "R1", Status: visit.RequestPending})
		if err != nil {
			return err
		}
		return tx.SetRequestStatus(ctx, id, visit.RequestPending, visit.RequestRejected, nil)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	err = st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.SetRequestStatus(ctx, id, visit.RequestPending, visit.RequestApproved, visit.Int64(1))
	})
	if !errors.Is(err, visit.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if r := st.Requests()[0]; r.Status != visit.RequestRejected || r.ApprovedBy != nil {
		t.Errorf("expected untouched rejected request, got %+v", r)
	}
}

func TestSummary_CountsOpenSessionsInDay(t *testing.T) {
	st := memory.New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, _ := tx.CreateVisitor(ctx, visit.Visitor{Name: "Ana", PermanentCode: "V1"})
		b, _ := tx.CreateVisitor(ctx, visit.Visitor{Name: "Ben", PermanentCode: "V2"})
		for _, e := range []visit.Entry{
			{VisitorID: a, Status: visit.CheckedIn, SessionID: "a1", At: day.Add(time.Hour)},
			{VisitorID: a, Status: visit.CheckedOut, SessionID: "a1", At: day.Add(2 * time.Hour)},
			{VisitorID: b, Status: visit.CheckedIn, SessionID: "b1", At: day.Add(3 * time.Hour)},
			{VisitorID: b, Status: visit.CheckedIn, SessionID: "b0", At: day.Add(-time.Hour)},
		} {
			if _, err := tx.AppendEntry(ctx, e); err != nil {
				return err
			}
		}
		_, err := tx.CreateRequest(ctx, visit.Request{Name: "Cy", Code: "R1", Status: visit.RequestPending})
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	sum, err := st.Summary(context.Background(), day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := store.Summary{VisitorsToday: 2, CurrentlyOnSite: 1, PendingRequests: 1}
	if sum != want {
		t.Errorf("expected %+v, got %+v", want, sum)
	}
}

func TestSessions_PairsAndFilters(t *testing.T) {
	st := memory.New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, _ := tx.CreateVisitor(ctx, visit.Visitor{Name: "Ana", PermanentCode: "V1"})
		b, _ := tx.CreateVisitor(ctx, visit.Visitor{Name: "Ben", PermanentCode: "V2"})
		for _, e := range []visit.Entry{
			{VisitorID: a, Name: "Ana", Status: visit.CheckedIn, SessionID: "a1", At: day.Add(time.Hour), CheckInGate: "north"},
			{VisitorID: a, Name: "Ana", Status: visit.CheckedOut, SessionID: "a1", At: day.Add(5 * time.Hour), CheckOutGate: "south"},
			{VisitorID: b, Name: "Ben", Status: visit.CheckedIn, SessionID: "b1", At: day.Add(3 * time.Hour)},
			{VisitorID: b, Name: "Ben", Status: visit.CheckedIn, SessionID: "b0", At: day.Add(-time.Hour)},
		} {
			if _, err := tx.AppendEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	got, total, err := st.Sessions(context.Background(), store.SessionQuery{From: day, To: day.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if total != 2 || got[0].SessionID != "a1" || got[1].SessionID != "b1" {
		t.Fatalf("expected a1 then b1, got %d %+v", total, got)
	}
	if got[0].CheckOutAt == nil || !got[0].CheckOutAt.Equal(day.Add(5*time.Hour)) || got[0].CheckOutGate != "south" {
		t.Errorf("unexpected a1 %+v", got[0])
	}

	got, total, err = st.Sessions(context.Background(), store.SessionQuery{Name: "bE", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if total != 2 || len(got) != 1 || got[0].SessionID != "b0" {
		t.Errorf("expected page [b0] of 2, got %d %+v", total, got)
	}
}

func TestListRequests_CheckedInFollowsLatestEntry(t *testing.T) {
	st := memory.New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, _ := tx.CreateVisitor(ctx, visit.Visitor{Name: "Ana", PermanentCode: "V1"})
		if _, err := tx.CreateRequest(ctx, visit.Request{Name: "Cy", Code: "R1", CreatedAt: day}); err != nil {
			return err
		}
		if _, err := tx.CreateRequest(ctx, visit.Request{Name: "Dee", Code: "R2", CreatedAt: day.Add(time.Hour)}); err != nil {
			return err
		}
		for _, e := range []visit.Entry{
			{VisitorID: a, Code: "R1", Status: visit.CheckedIn, SessionID: "s1", At: day.Add(2 * time.Hour)},
			{VisitorID: a, Code: "R2", Status: visit.CheckedIn, SessionID: "s2", At: day.Add(2 * time.Hour)},
			{VisitorID: a, Code: "R2", Status: visit.CheckedOut, SessionID: "s2", At: day.Add(3 * time.Hour)},
		} {
			if _, err := tx.AppendEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	got, total, err := st.ListRequests(context.Background(), store.RequestQuery{})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if total != 2 || got[0].Code != "R2" || got[0].CheckedIn || got[1].Code != "R1" || !got[1].CheckedIn {
		t.Errorf("unexpected listing %+v", got)
	}
}
