package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"go.uber.org/zap"
)

// ForwarderID is the subscriber id the forwarder registers under.
const ForwarderID = "bus"

const publishTimeout = 5 * time.Second

type change struct {
	paths  []string
	source string
	at     time.Time
}

// ChangeForwarder republishes context store notifications on the bus.
// Store callbacks only enqueue; network I/O happens on the Run goroutine so
// an update never waits on Redis.
type ChangeForwarder struct {
	pub     Publisher
	queue   chan change
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewChangeForwarder creates a forwarder with a queue of size buffer.
func NewChangeForwarder(pub Publisher, buffer int, logger *zap.Logger) *ChangeForwarder {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChangeForwarder{pub: pub, queue: make(chan change, buffer), logger: logger}
}

// Attach subscribes the forwarder to store changes under prefixes, or to
// every change when none are given.
func (f *ChangeForwarder) Attach(store *contextstore.Store, prefixes ...string) {
	store.Subscribe(f.OnChange, ForwarderID, prefixes...)
}

// OnChange is a contextstore.ChangeFunc. It never blocks; when the queue is
// full the change is dropped and counted.
func (f *ChangeForwarder) OnChange(changed []string, source string) {
	c := change{paths: append([]string(nil), changed...), source: source, at: time.Now().UTC()}
	select {
	case f.queue <- c:
	default:
		n := f.dropped.Add(1)
		f.logger.Warn("change queue full, event dropped",
			zap.String("source", source), zap.Int64("dropped", n))
	}
}

// Dropped returns how many changes were discarded.
func (f *ChangeForwarder) Dropped() int64 { return f.dropped.Load() }

// Run publishes queued changes until ctx is cancelled.
func (f *ChangeForwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-f.queue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := f.pub.Publish(pctx, &Event{
				Topic:     TopicContextChanged,
				Source:    c.source,
				Paths:     c.paths,
				Timestamp: c.at,
			})
			cancel()
			if err != nil {
				f.logger.Warn("forward change failed", zap.String("source", c.source), zap.Error(err))
			}
		}
	}
}
