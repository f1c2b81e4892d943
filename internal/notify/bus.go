package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/nudge-coach/internal/bus"
)

// Bus publishes nudges as bus.TopicNudge events.
type Bus struct {
	pub bus.Publisher
}

var _ Notifier = (*Bus)(nil)

func NewBus(pub bus.Publisher) *Bus { return &Bus{pub: pub} }

func (b *Bus) Channel() string { return "bus" }

func (b *Bus) Notify(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return b.pub.Publish(ctx, &bus.Event{
		Topic:     bus.TopicNudge,
		Source:    "delivery",
		Payload:   payload,
		Timestamp: n.Timestamp,
	})
}

func (b *Bus) Close() error { return nil }
