package types

// ScanRequest is the body of POST /v1/scan.  Purpose and Destination are
// only sent on the second call, after staff confirm the check-in details.
type ScanRequest struct {
	QRData      string  `json:"qr_data"`
	Purpose     *string `json:"purpose,omitempty"`
	Destination *string `json:"destination,omitempty"`
}

const ActionShowModal = "show_modal"

type ScanResponse struct {
	Message     string   `json:"message,omitempty"`
	Action      string   `json:"action,omitempty"`
	Name        string   `json:"name,omitempty"`
	Purpose     string   `json:"purpose,omitempty"`
	Destination string   `json:"destination,omitempty"`
	Details     []string `json:"details,omitempty"`
}
