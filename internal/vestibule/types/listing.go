package types

// Page describes the slice of a listing that was returned.
type Page struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// VisitEntry is one visit session as shown in the logs.  Times are RFC 3339
// in the business time zone; CheckOutAt is empty while the visitor is on
// site.
type VisitEntry struct {
	SessionID    string `json:"visit_session_id"`
	Name         string `json:"name"`
	Code         string `json:"unique_code"`
	Purpose      string `json:"purpose"`
	Destination  string `json:"destination"`
	Address      string `json:"address,omitempty"`
	CheckInAt    string `json:"check_in_time"`
	CheckOutAt   string `json:"check_out_time,omitempty"`
	VisitDate    string `json:"visit_date"`
	CheckInGate  string `json:"check_in_gate,omitempty"`
	CheckOutGate string `json:"check_out_gate,omitempty"`
}

type LogsResponse struct {
	Logs []VisitEntry `json:"logs"`
	Page
}

type RequestListItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone"`
	Purpose     string `json:"purpose"`
	Destination string `json:"destination"`
	Address     string `json:"address"`
	Code        string `json:"unique_code"`
	Status      string `json:"status"`
	GroupCode   string `json:"group_code,omitempty"`
	CheckedIn   bool   `json:"checked_in"`
	CreatedAt   string `json:"timestamp"`
}

// RequestGroup holds the requests sharing a group code.  Requests outside
// a group get a key of the form "single-<id>".
type RequestGroup struct {
	Key      string            `json:"key"`
	Requests []RequestListItem `json:"requests"`
}

type RequestsResponse struct {
	Date   string         `json:"filter_date,omitempty"`
	Groups []RequestGroup `json:"groups"`
	Page
}
