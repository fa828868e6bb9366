// Package notify carries fire-and-forget dashboard signals out of the core.
// Services Emit after their transaction commits; a Broadcaster goroutine
// drains the queue into the configured sinks.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DashboardUpdate = "dashboard_update"
	RequestUpdate   = "request_update"
)

// Emitter is the one-way publish call the core depends on.  Emit must not
// block.
type Emitter interface {
	Emit(event string)
}

// Event is the envelope sent to dashboards.  Origin identifies the process
// that produced it so relays can skip their own messages.
type Event struct {
	Name   string    `json:"event"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Sink delivers events to one transport.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

type discard struct{}

func (discard) Emit(string) {}

// Discard drops every event.
var Discard Emitter = discard{}

// Queue is a bounded, non-blocking Emitter.  When full, events are dropped
// and logged.
type Queue struct {
	ch     chan Event
	origin string
	now    func() time.Time
	logger *zap.Logger
}

func NewQueue(size int, origin string, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:     make(chan Event, size),
		origin: origin,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (q *Queue) Emit(event string) {
	ev := Event{Name: event, Origin: q.origin, At: q.now()}
	select {
	case q.ch <- ev:
	default:
		q.logger.Warn("notification dropped: queue full", zap.String("event", event))
	}
}

func (q *Queue) Origin() string { return q.origin }

func (q *Queue) events() <-chan Event { return q.ch }
