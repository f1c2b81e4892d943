// Package agents holds the pipeline steps. Each agent owns one context
// namespace and writes only through its scoped handle.
package agents

import (
	"errors"
	"time"

	"github.com/nidhogg/nudge-coach/internal/contextstore"
)

// Agent keys, also their namespaces.
const (
	FocusKey       = "focus"
	EnvironmentKey = "environment"
	NudgeKey       = "nudge"
	DeliveryKey    = "delivery"
)

// ErrNoSuggestion is returned by the delivery agent when nothing is queued.
var ErrNoSuggestion = errors.New("no suggestion to deliver")

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func getFloat(h *contextstore.Handle, path string, def float64) float64 {
	if v, ok := h.GetFloat(path); ok {
		return v
	}
	return def
}

func getInt(h *contextstore.Handle, path string, def int) int {
	if v, ok := h.GetInt(path); ok {
		return v
	}
	return def
}
