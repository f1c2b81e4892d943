package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
)

const historyLimit = 10

// Suppression reasons written to nudge.state.suppressed_reason.
const (
	ReasonMeeting     = "meeting_imminent"
	ReasonNotDue      = "not_due"
	ReasonUserResting = "user_resting"
)

// NudgeOptions tunes when a break is due.
type NudgeOptions struct {
	// BreakInterval is the minimum spacing between suggestions.
	BreakInterval time.Duration
	// MeetingBuffer suppresses suggestions when a meeting starts sooner.
	MeetingBuffer time.Duration
}

// Nudge scores wellness and, when a break is due, asks the coach for a
// suggestion.
type Nudge struct {
	h       *contextstore.Handle
	coach   *breaks.Coach
	tracker *wellness.Tracker
	samples wellness.SampleStore
	opts    NudgeOptions
	clock   clock.Clock
	logger  *zap.Logger
}

// NewNudge creates the suggestion agent. samples may be nil.
func NewNudge(store *contextstore.Store, coach *breaks.Coach, tracker *wellness.Tracker, samples wellness.SampleStore, opts NudgeOptions, clk clock.Clock, logger *zap.Logger) *Nudge {
	n := &Nudge{
		h:       store.Handle(NudgeKey),
		coach:   coach,
		tracker: tracker,
		samples: samples,
		opts:    opts,
		clock:   clk,
		logger:  logger,
	}
	n.h.Seed(map[string]any{
		"state": map[string]any{
			"active":              true,
			"last_update":         "",
			"break_due":           false,
			"suppressed_reason":   "",
			"suggestions_emitted": 0,
		},
		"wellness": map[string]any{
			"score":       100,
			"trend":       wellness.TrendStable,
			"components":  map[string]any{},
			"suggestions": []any{},
		},
		"current_suggestion": nil,
		"suggestion_history": []any{},
	})
	return n
}

// Run implements pipeline.Agent.
func (n *Nudge) Run(ctx context.Context) error {
	now := n.clock.Now()
	m := n.metrics()

	sample := n.tracker.Update(m)
	if n.samples != nil {
		if err := n.samples.SaveSample(ctx, sample); err != nil {
			n.logger.Error("persist wellness sample", zap.Error(err))
		}
	}
	b := n.tracker.Breakdown()
	tips := n.coach.WellnessTips(ctx, b)
	n.h.Update(map[string]any{
		"wellness": map[string]any{
			"score":       b.Score,
			"trend":       b.Trend,
			"components":  toAnyMap(b.Components),
			"suggestions": toAnyList(tips),
			"updated_at":  stamp(now),
		},
	})

	nextMeeting := time.Duration(-1)
	if mins, ok := n.h.GetInt("environment.calendar.next_meeting_in_minutes"); ok {
		nextMeeting = time.Duration(mins) * time.Minute
	}

	if reason := n.suppression(now, nextMeeting); reason != "" {
		n.h.Update(map[string]any{
			"state": map[string]any{
				"active":            true,
				"break_due":         false,
				"suppressed_reason": reason,
				"last_update":       stamp(now),
			},
		})
		n.logger.Info("suggestion suppressed", zap.String("reason", reason), zap.Float64("score", b.Score))
		return nil
	}

	activity := getFloat(n.h, "focus.metrics.activity_level", 0.5)
	s := n.coach.Suggest(ctx, breaks.Request{
		Now:           now,
		ActivityLevel: activity,
		WorkDuration:  m.ActiveDuration,
		CPUPercent:    m.CPUPercent,
		WellnessScore: b.Score,
		NextMeetingIn: nextMeeting,
		LastFeedback:  n.coach.LastFeedback(),
	})

	history := n.history()
	history = append(history, s)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	emitted := getInt(n.h, "nudge.state.suggestions_emitted", 0) + 1

	changed := n.h.Update(map[string]any{
		"state": map[string]any{
			"active":              true,
			"break_due":           true,
			"suppressed_reason":   "",
			"last_update":         stamp(now),
			"last_suggestion_at":  stamp(now),
			"suggestions_emitted": emitted,
		},
		"current_suggestion": s,
		"suggestion_history": history,
	})
	if len(changed) == 0 {
		return fmt.Errorf("suggestion %s was not recorded", s.ID)
	}
	n.logger.Info("suggestion ready",
		zap.String("id", s.ID),
		zap.String("break_type", string(s.Type)),
		zap.Float64("score", b.Score))
	return nil
}

// suppression returns why no break should be suggested now, or "".
func (n *Nudge) suppression(now time.Time, nextMeeting time.Duration) string {
	if nextMeeting >= 0 && nextMeeting <= n.opts.MeetingBuffer {
		return ReasonMeeting
	}
	if active, ok := n.h.GetBool("focus.state.active"); ok && !active {
		return ReasonUserResting
	}
	if last, ok := n.h.GetTime("nudge.state.last_suggestion_at"); ok && now.Sub(last) < n.opts.BreakInterval {
		return ReasonNotDue
	}
	return ""
}

// metrics collects scoring inputs from the focus and environment
// namespaces and the feedback history.
func (n *Nudge) metrics() wellness.Metrics {
	taken, suggested := n.coach.Compliance()
	cont := getFloat(n.h, "focus.session.continuous_minutes", 0)
	return wellness.Metrics{
		BreaksTaken:      taken,
		BreaksSuggested:  suggested,
		ActiveDuration:   time.Duration(cont * float64(time.Minute)),
		ActiveMinutes:    getFloat(n.h, "focus.session.active_minutes", 0),
		RestMinutes:      getFloat(n.h, "focus.session.rest_minutes", 0),
		MeetingsAttended: getInt(n.h, "environment.calendar.meetings_attended", 0),
		TotalMeetings:    getInt(n.h, "environment.calendar.total_meetings", 0),
		CPUPercent:       getFloat(n.h, "focus.metrics.cpu_usage", 0),
		MemoryPercent:    getFloat(n.h, "focus.metrics.memory_usage", 0),
	}
}

func (n *Nudge) history() []any {
	v, ok := n.h.Lookup("nudge.suggestion_history")
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	return list
}

func toAnyMap(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toAnyList(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
