package agents

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/nidhogg/nudge-coach/internal/notify"
	"go.uber.org/zap"
)

// Sender delivers a rendered notification. notify.Broadcaster satisfies it.
type Sender interface {
	Notify(ctx context.Context, n *notify.Notification) error
}

var _ Sender = (*notify.Broadcaster)(nil)

// Delivery pushes the current suggestion to the user once.
type Delivery struct {
	h      *contextstore.Handle
	sender Sender
	clock  clock.Clock
	logger *zap.Logger
}

// NewDelivery creates the delivery agent.
func NewDelivery(store *contextstore.Store, sender Sender, clk clock.Clock, logger *zap.Logger) *Delivery {
	d := &Delivery{
		h:      store.Handle(DeliveryKey),
		sender: sender,
		clock:  clk,
		logger: logger,
	}
	d.h.Seed(map[string]any{
		"state": map[string]any{
			"last_notification":   "",
			"last_suggestion_id":  "",
			"total_notifications": 0,
		},
		"notification_settings": map[string]any{
			"audio_enabled":  true,
			"visual_enabled": true,
			"do_not_disturb": false,
		},
		"last_notification": nil,
	})
	return d
}

// Run implements pipeline.Agent.
func (d *Delivery) Run(ctx context.Context) error {
	raw, ok := d.h.Lookup("nudge.current_suggestion")
	if !ok || raw == nil {
		return ErrNoSuggestion
	}
	var s breaks.Suggestion
	if err := contextstore.Decode(raw, &s); err != nil {
		return fmt.Errorf("decode suggestion: %w", err)
	}
	if s.ID == "" {
		return ErrNoSuggestion
	}

	if last, _ := d.h.GetString("delivery.state.last_suggestion_id"); last == s.ID {
		d.logger.Debug("suggestion already delivered", zap.String("id", s.ID))
		return nil
	}
	settings := d.h.Own("notification_settings")
	if dnd, _ := contextstore.AsBool(settings["do_not_disturb"]); dnd {
		d.logger.Info("do not disturb, holding suggestion", zap.String("id", s.ID))
		return nil
	}

	now := d.clock.Now()
	n := &notify.Notification{
		ID:           uuid.NewString(),
		SuggestionID: s.ID,
		BreakType:    string(s.Type),
		Title:        s.Message,
		Body:         body(s),
		Priority:     s.Priority,
		Timestamp:    now,
	}
	if n.Title == "" {
		n.Title = s.Title
	}

	sendErr := d.sender.Notify(ctx, n)

	total := getInt(d.h, "delivery.state.total_notifications", 0) + 1
	d.h.Update(map[string]any{
		"state": map[string]any{
			"last_notification":   stamp(now),
			"last_suggestion_id":  s.ID,
			"total_notifications": total,
		},
		"last_notification": n,
	})

	if sendErr != nil {
		return fmt.Errorf("deliver suggestion %s: %w", s.ID, sendErr)
	}
	d.logger.Info("suggestion delivered",
		zap.String("id", s.ID),
		zap.String("notification_id", n.ID),
		zap.Int("total", total))
	return nil
}

func body(s breaks.Suggestion) string {
	if s.Duration > 0 {
		return fmt.Sprintf("%s (%d min)", s.Activity, s.Duration)
	}
	return s.Activity
}
