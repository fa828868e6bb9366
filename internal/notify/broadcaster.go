package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Broadcaster drains a Queue into its sinks.  A failing sink is logged and
// skipped; nothing flows back to the emitter.
type Broadcaster struct {
	queue   *Queue
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewBroadcaster(q *Queue, logger *zap.Logger, sinks ...Sink) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		queue:   q,
		sinks:   sinks,
		timeout: 2 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start begins the background loop.  It exits when ctx is cancelled or
// Stop is called.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	go b.loop(ctx)
	b.logger.Info("notification broadcaster started", zap.Int("sinks", len(b.sinks)))
}

// Stop signals the loop to exit and waits for it.  Events still queued are
// discarded.
func (b *Broadcaster) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	<-b.done
}

func (b *Broadcaster) loop(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue.events():
			b.deliver(ctx, ev)
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, ev Event) {
	for _, s := range b.sinks {
		sctx, cancel := context.WithTimeout(ctx, b.timeout)
		err := s.Publish(sctx, ev)
		cancel()
		if err != nil {
			b.logger.Warn("notification publish failed",
				zap.String("event", ev.Name),
				zap.Error(err),
			)
		}
	}
}
