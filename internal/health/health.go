// Package health serves the gRPC health protocol and keeps it in step with
// database reachability.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported alongside the overall ("") status.
const ServiceName = "vestibule.v1.Visits"

type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewServer returns a gRPC server exposing only the health service.
func NewServer(hs *health.Server) *grpc.Server {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return s
}

// Watcher pings the database on an interval and flips the health status
// between SERVING and NOT_SERVING.
type Watcher struct {
	hs       *health.Server
	db       Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	serving  bool
}

func NewWatcher(hs *health.Server, db Pinger, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		hs:       hs,
		db:       db,
		interval: interval,
		timeout:  2 * time.Second,
		logger:   logger,
		done:     make(chan struct{}),
		serving:  true,
	}
}

// Start runs one check immediately, then repeats on the interval until ctx
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	w.logger.Info("health watcher started", zap.Duration("interval", w.interval))
}

// Stop signals the watcher to exit, waits for it, and reports NOT_SERVING.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
	w.hs.Shutdown()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check pings once and updates the served status.
func (w *Watcher) Check(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.db.PingContext(pctx)
	cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if w.serving {
			w.logger.Warn("database unreachable", zap.Error(err))
		}
	} else if !w.serving {
		w.logger.Info("database reachable again")
	}
	w.serving = err == nil

	w.hs.SetServingStatus("", status)
	w.hs.SetServingStatus(ServiceName, status)
}
