package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

const (
	HeaderActorID = "X-Actor-ID"
	HeaderGate    = "X-Gate"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpapi: hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("from", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("dur", time.Since(start)),
		)
	})
}

type actorKey struct{}

// ActorFrom returns the staff member attached to ctx by requireActor.
func ActorFrom(ctx context.Context) (visit.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(visit.Actor)
	return a, ok
}

// requireActor reads the acting staff member from the X-Actor-ID and X-Gate
// headers.  Authentication happens upstream.
func requireActor(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "actor_required", HeaderActorID+" header is required")
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "bad_actor", HeaderActorID+" must be a positive integer")
			return
		}
		actor := visit.Actor{ID: id, Gate: strings.TrimSpace(r.Header.Get(HeaderGate))}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	}
}
