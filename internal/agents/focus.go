package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/nidhogg/nudge-coach/internal/sensor"
	"go.uber.org/zap"
)

// maxElapsed caps the time credited between two runs so that a suspended
// laptop does not count as hours of work.
const maxElapsed = time.Hour

// Focus levels, from most to least engaged.
const (
	FocusDeep    = "deep-focus"
	FocusFocused = "focused"
	FocusActive  = "active"
	FocusLight   = "light"
	FocusMinimal = "minimal"
)

var modeKeywords = []struct {
	mode  string
	words []string
}{
	{"meeting", []string{"zoom", "meet", "teams", "webex", "slack huddle"}},
	{"coding", []string{"code", "vim", "goland", "intellij", "terminal", "xcode"}},
	{"writing", []string{"docs", "word", "notion", "obsidian", "pages"}},
	{"browsing", []string{"chrome", "firefox", "safari", "edge", "browser"}},
}

// Focus samples activity and tracks the continuous work session.
type Focus struct {
	h             *contextstore.Handle
	reader        sensor.Reader
	idleThreshold time.Duration
	loc           *time.Location
	clock         clock.Clock
	logger        *zap.Logger
}

// NewFocus creates the focus agent and seeds its namespace. Session
// counters reset at midnight in loc, UTC when nil.
func NewFocus(store *contextstore.Store, reader sensor.Reader, idleThreshold time.Duration, loc *time.Location, clk clock.Clock, logger *zap.Logger) *Focus {
	if loc == nil {
		loc = time.UTC
	}
	f := &Focus{
		h:             store.Handle(FocusKey),
		reader:        reader,
		idleThreshold: idleThreshold,
		loc:           loc,
		clock:         clk,
		logger:        logger,
	}
	f.h.Seed(map[string]any{
		"state": map[string]any{
			"active":      false,
			"focus_level": "unknown",
			"focus_mode":  "normal",
			"active_apps": []any{},
			"idle_time":   0,
			"last_update": "",
		},
		"metrics": map[string]any{"cpu_usage": 0, "memory_usage": 0, "activity_level": 0},
		"session": map[string]any{
			"started_at":         "",
			"active_minutes":     0,
			"rest_minutes":       0,
			"continuous_minutes": 0,
		},
	})
	return f
}

// Run implements pipeline.Agent.
func (f *Focus) Run(ctx context.Context) error {
	r, err := f.reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("read activity: %w", err)
	}
	now := f.clock.Now()

	var elapsed time.Duration
	prev, hasPrev := f.h.GetTime("focus.state.last_update")
	if hasPrev && now.After(prev) {
		elapsed = min(now.Sub(prev), maxElapsed)
	}
	minutes := elapsed.Minutes()

	activeMin := getFloat(f.h, "focus.session.active_minutes", 0)
	restMin := getFloat(f.h, "focus.session.rest_minutes", 0)
	contMin := getFloat(f.h, "focus.session.continuous_minutes", 0)
	startedAt, _ := f.h.GetString("focus.session.started_at")
	if hasPrev && !sameDay(prev.In(f.loc), now.In(f.loc)) {
		activeMin, restMin = 0, 0
	}

	idle := time.Duration(r.IdleSeconds * float64(time.Second))
	active := idle < f.idleThreshold
	if active {
		activeMin += minutes
		contMin += minutes
		if startedAt == "" {
			startedAt = stamp(now)
		}
	} else {
		restMin += minutes
		contMin = 0
		startedAt = ""
	}

	level := FocusLevel(idle, f.idleThreshold)
	mode := FocusMode(r.ActiveApps)
	activity := breaks.ActivityLevel(r.CPUPercent, r.MemoryPercent, r.IdleSeconds)
	apps := make([]any, len(r.ActiveApps))
	for i, a := range r.ActiveApps {
		apps[i] = a
	}

	f.h.Update(map[string]any{
		"state": map[string]any{
			"active":      active,
			"focus_level": level,
			"focus_mode":  mode,
			"active_apps": apps,
			"idle_time":   int(r.IdleSeconds),
			"last_update": stamp(now),
		},
		"metrics": map[string]any{
			"cpu_usage":      r.CPUPercent,
			"memory_usage":   r.MemoryPercent,
			"activity_level": activity,
		},
		"session": map[string]any{
			"started_at":         startedAt,
			"active_minutes":     activeMin,
			"rest_minutes":       restMin,
			"continuous_minutes": contMin,
		},
	})

	f.logger.Info("focus updated",
		zap.String("level", level),
		zap.String("mode", mode),
		zap.Bool("active", active),
		zap.Float64("continuous_minutes", contMin))
	return nil
}

// FocusLevel grades engagement from idle time relative to the idle
// threshold.
func FocusLevel(idle, threshold time.Duration) string {
	switch {
	case idle < 30*time.Second:
		return FocusDeep
	case idle < 2*time.Minute:
		return FocusFocused
	case idle < threshold:
		return FocusActive
	case idle < 2*threshold:
		return FocusLight
	default:
		return FocusMinimal
	}
}

// FocusMode guesses the kind of work from application names.
func FocusMode(apps []string) string {
	for _, km := range modeKeywords {
		for _, app := range apps {
			name := strings.ToLower(app)
			for _, w := range km.words {
				if strings.Contains(name, w) {
					return km.mode
				}
			}
		}
	}
	return "normal"
}

// sameDay compares calendar dates as seen in each time's own location.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
