package visit

import "fmt"

// RequestStatus is the approval state of a VisitRequest.  The string values
// are the ones persisted and shown to staff.
type RequestStatus string

const (
	RequestPending   RequestStatus = "Pending"
	RequestApproved  RequestStatus = "Approve"
	RequestRejected  RequestStatus = "Reject"
	RequestCompleted RequestStatus = "Completed"
)

// ParseRequestStatus maps a stored value back onto the closed set.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case RequestPending, RequestApproved, RequestRejected, RequestCompleted:
		return RequestStatus(s), nil
	default:
		return "", fmt.Errorf("unknown request status %q", s)
	}
}

// CanTransition reports whether a request may move from s to next.
//
//	Pending  -> Approve | Reject
//	Approve  -> Completed
//	Reject, Completed: terminal
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestApproved || next == RequestRejected
	case RequestApproved:
		return next == RequestCompleted
	case RequestRejected, RequestCompleted:
		return false
	default:
		return false
	}
}

// Scannable is true for requests whose code may be used at the gate.
func (s RequestStatus) Scannable() bool {
	switch s {
	case RequestApproved, RequestCompleted:
		return true
	case RequestPending, RequestRejected:
		return false
	default:
		return false
	}
}

// LogStatus is the kind of a ledger entry.
type LogStatus string

const (
	CheckedIn  LogStatus = "Checked-In"
	CheckedOut LogStatus = "Checked-Out"
)

func ParseLogStatus(s string) (LogStatus, error) {
	switch LogStatus(s) {
	case CheckedIn, CheckedOut:
		return LogStatus(s), nil
	default:
		return "", fmt.Errorf("unknown log status %q", s)
	}
}
