package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxHistory = 50

// Record tracks a delivered notification.
type Record struct {
	Notification *Notification `json:"notification"`
	SentAt       time.Time     `json:"sent_at"`
	Delivered    []string      `json:"delivered"`
	Failed       []string      `json:"failed,omitempty"`
}

// Broadcaster fans a notification out to every registered channel.
type Broadcaster struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	history   []Record
	logger    *zap.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		notifiers: make(map[string]Notifier),
		logger:    logger,
	}
}

// Register adds n, replacing any notifier on the same channel.
func (b *Broadcaster) Register(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers[n.Channel()] = n
	b.logger.Info("registered notifier", zap.String("channel", n.Channel()))
}

// Channels returns the registered channel names, sorted.
func (b *Broadcaster) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.notifiers))
	for c := range b.notifiers {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

// Notify sends n on every channel. A failing channel does not stop the
// others; the returned error joins all failures and is nil only when every
// channel succeeded.
func (b *Broadcaster) Notify(ctx context.Context, n *Notification) error {
	b.mu.RLock()
	targets := make([]Notifier, 0, len(b.notifiers))
	for _, nt := range b.notifiers {
		targets = append(targets, nt)
	}
	b.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Channel() < targets[j].Channel() })

	rec := Record{Notification: n, SentAt: time.Now()}
	var errs []error
	for _, nt := range targets {
		if err := nt.Notify(ctx, n); err != nil {
			b.logger.Error("notify failed",
				zap.String("channel", nt.Channel()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", nt.Channel(), err))
			rec.Failed = append(rec.Failed, nt.Channel())
			continue
		}
		rec.Delivered = append(rec.Delivered, nt.Channel())
	}

	b.mu.Lock()
	b.history = append(b.history, rec)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	b.mu.Unlock()

	return errors.Join(errs...)
}

// History returns up to limit recent records, oldest first.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]Record(nil), b.history[len(b.history)-limit:]...)
}

// Close shuts down every notifier.
func (b *Broadcaster) Close() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var errs []error
	for c, n := range b.notifiers {
		if err := n.Close(); err != nil {
			b.logger.Error("notifier close failed", zap.String("channel", c), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the structured log. It is always registered
// so that a nudge is visible even without chat integrations.
type Log struct {
	logger *zap.Logger
}

var _ Notifier = (*Log)(nil)

func NewLog(logger *zap.Logger) *Log { return &Log{logger: logger} }

func (l *Log) Channel() string { return "log" }

func (l *Log) Notify(_ context.Context, n *Notification) error {
	l.logger.Info("break nudge",
		zap.String("id", n.ID),
		zap.String("break_type", n.BreakType),
		zap.String("title", n.Title),
		zap.String("priority", n.Priority),
		zap.String("body", n.Body))
	return nil
}

func (l *Log) Close() error { return nil }
