package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/session"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
	dateLayout     = "2006-01-02"
)

// ListFilter selects one page of a listing.  Date is a business-zone day in
// YYYY-MM-DD form; nil applies the listing's default and an empty string
// lists every day.
type ListFilter struct {
	Date    *string
	Search  string
	Page    int
	PerPage int
}

func (f ListFilter) paging() (page, perPage, offset int) {
	page, perPage = f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	perPage = min(perPage, maxPerPage)
	return page, perPage, (page - 1) * perPage
}

func pageOf(page, perPage, total int) types.Page {
	return types.Page{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   (total + perPage - 1) / perPage,
	}
}

// ListingService serves the read-side views staff browse: the visit log and
// the request queue.
type ListingService struct {
	store  store.Store
	engine *session.Engine
}

func NewListingService(st store.Store, eng *session.Engine) *ListingService {
	return &ListingService{store: st, engine: eng}
}

// day resolves the filter date to a half-open UTC range.  fallback is used
// when no date was given.
func (s *ListingService) day(date *string, fallback func() (time.Time, time.Time)) (time.Time, time.Time, error) {
	if date == nil {
		from, to := fallback()
		return from, to, nil
	}
	d := strings.TrimSpace(*date)
	if d == "" {
		return time.Time{}, time.Time{}, nil
	}
	cal := s.engine.Calendar()
	t, err := time.ParseInLocation(dateLayout, d, cal.Location())
	if err != nil {
		ve := &visit.ValidationError{}
		ve.Add("filter_date", "must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, ve
	}
	start, end := cal.DayBounds(t)
	return start, end, nil
}

func unbounded() (time.Time, time.Time) { return time.Time{}, time.Time{} }

// Logs lists visit sessions by their latest activity.  Without a date every
// day is listed.
func (s *ListingService) Logs(ctx context.Context, f ListFilter) (types.LogsResponse, error) {
	from, to, err := s.day(f.Date, unbounded)
	if err != nil {
		return types.LogsResponse{}, err
	}
	page, perPage, offset := f.paging()
	sessions, total, err := s.store.Sessions(ctx, store.SessionQuery{
		From:   from,
		To:     to,
		Name:   strings.TrimSpace(f.Search),
		Limit:  perPage,
		Offset: offset,
	})
	if err != nil {
		return types.LogsResponse{}, err
	}

	out := types.LogsResponse{Logs: make([]types.VisitEntry, 0, len(sessions)), Page: pageOf(page, perPage, total)}
	cal := s.engine.Calendar()
	for _, ss := range sessions {
		out.Logs = append(out.Logs, visitEntry(cal, ss))
	}
	return out, nil
}

// Requests lists requests created on one day, today by default, grouped by
// group code in order of first appearance.
func (s *ListingService) Requests(ctx context.Context, f ListFilter) (types.RequestsResponse, error) {
	cal := s.engine.Calendar()
	from, to, err := s.day(f.Date, func() (time.Time, time.Time) { return cal.DayBounds(s.engine.Now()) })
	if err != nil {
		return types.RequestsResponse{}, err
	}
	page, perPage, offset := f.paging()
	reqs, total, err := s.store.ListRequests(ctx, store.RequestQuery{
		From:   from,
		To:     to,
		Name:   strings.TrimSpace(f.Search),
		Limit:  perPage,
		Offset: offset,
	})
	if err != nil {
		return types.RequestsResponse{}, err
	}

	out := types.RequestsResponse{Groups: []types.RequestGroup{}, Page: pageOf(page, perPage, total)}
	if !from.IsZero() {
		out.Date = from.In(cal.Location()).Format(dateLayout)
	}
	index := make(map[string]int)
	for _, r := range reqs {
		key := r.GroupCode
		if key == "" {
			key = "single-" + strconv.FormatInt(r.ID, 10)
		}
		i, ok := index[key]
		if !ok {
			i = len(out.Groups)
			index[key] = i
			out.Groups = append(out.Groups, types.RequestGroup{Key: key})
		}
		out.Groups[i].Requests = append(out.Groups[i].Requests, requestItem(cal, r))
	}
	return out, nil
}

func visitEntry(cal visit.Calendar, ss store.Session) types.VisitEntry {
	loc := cal.Location()
	e := types.VisitEntry{
		SessionID:    ss.SessionID,
		Name:         ss.Name,
		Code:         ss.Code,
		Purpose:      ss.Details.Purpose,
		Destination:  ss.Details.Destination,
		Address:      ss.Details.Address,
		CheckInAt:    ss.CheckInAt.In(loc).Format(time.RFC3339),
		VisitDate:    ss.LastAt().In(loc).Format(dateLayout),
		CheckInGate:  ss.CheckInGate,
		CheckOutGate: ss.CheckOutGate,
	}
	if ss.CheckOutAt != nil {
		e.CheckOutAt = ss.CheckOutAt.In(loc).Format(time.RFC3339)
	}
	return e
}

func requestItem(cal visit.Calendar, r store.ListedRequest) types.RequestListItem {
	return types.RequestListItem{
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Purpose:     r.Details.Purpose,
		Destination: r.Details.Destination,
		Address:     r.Details.Address,
		Code:        r.Code,
		Status:      string(r.Status),
		GroupCode:   r.GroupCode,
		CheckedIn:   r.CheckedIn,
		CreatedAt:   r.CreatedAt.In(cal.Location()).Format(time.RFC3339),
	}
}
