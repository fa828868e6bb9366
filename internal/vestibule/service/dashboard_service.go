package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/session"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
)

type DashboardService struct {
	store  store.Store
	engine *session.Engine
}

func NewDashboardService(st store.Store, eng *session.Engine) *DashboardService {
	return &DashboardService{store: st, engine: eng}
}

// recentVisits is the number of sessions shown on the dashboard.
const recentVisits = 5

// Summary returns today's counters in the business calendar and the most
// recently active visit sessions.
func (s *DashboardService) Summary(ctx context.Context) (types.DashboardSummary, error) {
	now := s.engine.Now()
	cal := s.engine.Calendar()
	start, end := cal.DayBounds(now)

	sum, err := s.store.Summary(ctx, start, end)
	if err != nil {
		return types.DashboardSummary{}, err
	}
	recent, _, err := s.store.Sessions(ctx, store.SessionQuery{Limit: recentVisits})
	if err != nil {
		return types.DashboardSummary{}, err
	}

	out := types.DashboardSummary{
		VisitorsToday:   sum.VisitorsToday,
		CurrentlyOnSite: sum.CurrentlyOnSite,
		PendingRequests: sum.PendingRequests,
		ServerTime:      now.In(cal.Location()).Format(time.RFC3339),
		Recent:          make([]types.VisitEntry, 0, len(recent)),
	}
	for _, ss := range recent {
		out.Recent = append(out.Recent, visitEntry(cal, ss))
	}
	return out, nil
}
