package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/vestibule/internal/qr"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/service"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

// Decoder reads a code from an uploaded image.
type Decoder interface {
	Decode(image []byte) (string, error)
}

type Dependencies struct {
	Logger    *zap.Logger
	Addr      string
	Scan      *service.ScanService
	Requests  *service.RequestService
	Dashboard *service.DashboardService
	Listings  *service.ListingService
	Decoder   Decoder
	// Stream serves GET /v1/dashboard/ws.  Nil disables the route.
	Stream http.Handler
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	scan       *service.ScanService
	requests   *service.RequestService
	dashboard  *service.DashboardService
	listings   *service.ListingService
	decoder    Decoder
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:    logger,
		mux:       mux,
		scan:      d.Scan,
		requests:  d.Requests,
		dashboard: d.Dashboard,
		listings:  d.Listings,
		decoder:   d.Decoder,
	}

	mux.HandleFunc("POST /v1/scan", requireActor(s.handleScan))
	mux.HandleFunc("POST /v1/scan/image", requireActor(s.handleScanImage))

	mux.HandleFunc("GET /v1/logs", requireActor(s.handleLogs))
	mux.HandleFunc("GET /v1/requests", requireActor(s.handleListRequests))
	mux.HandleFunc("POST /v1/requests", s.handleSubmit)
	mux.HandleFunc("POST /v1/requests/group", s.handleSubmitGroup)
	mux.HandleFunc("POST /v1/requests/{id}/approve", requireActor(s.requestAction(s.requests.Approve, "approved")))
	mux.HandleFunc("POST /v1/requests/{id}/reject", requireActor(s.requestAction(s.requests.Reject, "rejected")))
	mux.HandleFunc("POST /v1/requests/{id}/checkin", requireActor(s.requestAction(s.requests.DirectCheckIn, "checked in")))
	mux.HandleFunc("POST /v1/requests/{id}/resend", requireActor(s.handleResend))

	mux.HandleFunc("POST /v1/groups/{code}/approve", requireActor(s.groupAction(s.requests.ApproveGroup, "approved")))
	mux.HandleFunc("POST /v1/groups/{code}/reject", requireActor(s.groupAction(s.requests.RejectGroup, "rejected")))
	mux.HandleFunc("POST /v1/groups/{code}/checkin", requireActor(s.groupAction(s.requests.DirectCheckInGroup, "checked in")))

	mux.HandleFunc("GET /v1/dashboard/summary", s.handleSummary)
	if d.Stream != nil {
		mux.Handle("GET /v1/dashboard/ws", d.Stream)
	}

	handler := loggingMiddleware(logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeLenientJSON accepts keys it does not know.  Scanner firmware adds
// fields of its own to the scan body.
func decodeLenientJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
}

// ── Scan ─────────────────────────────────────────────────────────────────────

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	if isProtobuf(r) {
		var st structpb.Struct
		if err := readProto(r, &st); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		out, err := s.scan.Resolve(r.Context(), actor, scanInputFromStruct(&st))
		if err != nil {
			status, body := s.classify("scan", err)
			writeProto(w, status, scanResponseToStruct(types.ScanResponse{Message: body.Message}))
			return
		}
		writeProto(w, http.StatusOK, scanResponseToStruct(out.Response()))
		return
	}

	var req types.ScanRequest
	if err := decodeLenientJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	out, err := s.scan.Resolve(r.Context(), actor, service.ScanInput{
		Code:        req.QRData,
		Purpose:     req.Purpose,
		Destination: req.Destination,
	})
	if err != nil {
		s.writeServiceError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, out.Response())
}

func (s *Server) handleScanImage(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	img, err := io.ReadAll(io.LimitReader(r.Body, maxImageBody))
	if err != nil || len(img) == 0 {
		writeError(w, http.StatusBadRequest, "bad_image", "image body is required")
		return
	}
	code, err := s.decoder.Decode(img)
	if err != nil {
		s.writeServiceError(w, "scan_image", err)
		return
	}
	out, err := s.scan.Resolve(r.Context(), actor, service.ScanInput{Code: code})
	if err != nil {
		s.writeServiceError(w, "scan_image", err)
		return
	}
	writeJSON(w, http.StatusOK, out.Response())
}

// ── Requests ─────────────────────────────────────────────────────────────────

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	resp, err := s.requests.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "submit", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleSubmitGroup(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	resp, err := s.requests.SubmitGroup(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "submit_group", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type requestOp func(ctx context.Context, id int64, actor visit.Actor) (int, error)

type groupOp func(ctx context.Context, code string, actor visit.Actor) (int, error)

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) requestAction(op requestOp, verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_id", "request id must be a positive integer")
			return
		}
		actor, _ := ActorFrom(r.Context())
		n, err := op(r.Context(), id, actor)
		if err != nil {
			s.writeServiceError(w, "request "+verb, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ActionResponse{
			OK:      true,
			Message: strconv.Itoa(n) + " " + pluralRequests(n) + " " + verb,
			Count:   n,
		})
	}
}

func (s *Server) groupAction(op groupOp, verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(r.PathValue("code"))
		actor, _ := ActorFrom(r.Context())
		n, err := op(r.Context(), code, actor)
		if err != nil {
			s.writeServiceError(w, "group "+verb, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ActionResponse{
			OK:      true,
			Message: strconv.Itoa(n) + " members of group " + code + " " + verb,
			Count:   n,
		})
	}
}

func pluralRequests(n int) string {
	if n == 1 {
		return "request"
	}
	return "requests"
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_id", "request id must be a positive integer")
		return
	}
	if err := s.requests.ResendQR(r.Context(), id); err != nil {
		s.writeServiceError(w, "resend", err)
		return
	}
	writeJSON(w, http.StatusOK, types.ActionResponse{OK: true, Message: "QR code sent"})
}

// ── Listings ─────────────────────────────────────────────────────────────────

// listFilter reads filter_date, search_query, page and per_page.
func listFilter(r *http.Request) (service.ListFilter, bool) {
	q := r.URL.Query()
	f := service.ListFilter{Search: q.Get("search_query")}
	if q.Has("filter_date") {
		d := q.Get("filter_date")
		f.Date = &d
	}
	for key, dst := range map[string]*int{"page": &f.Page, "per_page": &f.PerPage} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return service.ListFilter{}, false
		}
		*dst = n
	}
	return f, true
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	f, ok := listFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_query", "page and per_page must be integers")
		return
	}
	out, err := s.listings.Logs(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, "logs", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	f, ok := listFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_query", "page and per_page must be integers")
		return
	}
	out, err := s.listings.Requests(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, "list requests", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Dashboard ────────────────────────────────────────────────────────────────

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.dashboard.Summary(r.Context())
	if err != nil {
		s.writeServiceError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ── Errors ───────────────────────────────────────────────────────────────────

func (s *Server) classify(op string, err error) (int, errorBody) {
	var ve *visit.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Error: "validation_failed", Message: ve.Error(), Fields: ve.Fields}
	case errors.Is(err, visit.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()}
	case errors.Is(err, visit.ErrAlreadyProcessed):
		return http.StatusNotFound, errorBody{Error: "already_processed", Message: err.Error()}
	case errors.Is(err, visit.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Error: "invalid_transition", Message: err.Error()}
	case errors.Is(err, store.ErrConflict):
		s.logger.Warn(op+" conflict", zap.Error(err))
		return http.StatusConflict, errorBody{Error: "conflict", Message: "the record was changed concurrently, retry"}
	case errors.Is(err, service.ErrUndelivered):
		return http.StatusBadGateway, errorBody{Error: "mail_failed", Message: "QR code could not be delivered"}
	case errors.Is(err, qr.ErrNoCode):
		return http.StatusUnprocessableEntity, errorBody{Error: "no_qr_code", Message: "no QR code found in image"}
	case errors.Is(err, qr.ErrInvalidImage):
		return http.StatusBadRequest, errorBody{Error: "bad_image", Message: "image could not be read"}
	default:
		s.logger.Error(op+" error", zap.Error(err))
		return http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "unexpected server error"}
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	status, body := s.classify(op, err)
	writeJSON(w, status, body)
}
