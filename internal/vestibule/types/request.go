package types

// SubmitRequest is one registration form entry.
type SubmitRequest struct {
	FirstName     string `json:"first_name" validate:"required,max=50"`
	MiddleInitial string `json:"middle_initial,omitempty" validate:"max=10"`
	LastName      string `json:"last_name" validate:"required,max=50"`
	Email         string `json:"email,omitempty" validate:"omitempty,email,max=120"`
	NoEmail       bool   `json:"no_email,omitempty"`
	Phone         string `json:"phone" validate:"required,max=20"`
	Purpose       string `json:"purpose" validate:"required,max=200"`
	OtherPurpose  string `json:"other_purpose,omitempty" validate:"max=200"`
	Destination   string `json:"destination" validate:"required,max=100"`
	Address       string `json:"address" validate:"required,max=200"`
}

type SubmitResponse struct {
	OK        bool   `json:"ok"`
	RequestID int64  `json:"request_id"`
	Code      string `json:"unique_code"`
	Status    string `json:"status"`
}

type SubmitGroupRequest struct {
	Visitors []SubmitRequest `json:"visitors"`
}

type SubmittedVisitor struct {
	RequestID int64  `json:"request_id"`
	Name      string `json:"name"`
	Code      string `json:"unique_code"`
}

type SubmitGroupResponse struct {
	OK        bool               `json:"ok"`
	GroupCode string             `json:"group_code,omitempty"`
	Visitors  []SubmittedVisitor `json:"visitors"`
}

// ActionResponse acknowledges a staff workflow action.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

type DashboardSummary struct {
	VisitorsToday   int          `json:"visitor_today"`
	CurrentlyOnSite int          `json:"checked_in"`
	PendingRequests int          `json:"pending_requests"`
	ServerTime      string       `json:"server_time"`
	Recent          []VisitEntry `json:"recent_visitors"`
}
