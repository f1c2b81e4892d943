package agents

import (
	"context"
	"time"

	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/calendar"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"go.uber.org/zap"
)

const meetingHorizon = 4 * time.Hour

// Environment publishes local time and the calendar outlook.
type Environment struct {
	h        *contextstore.Handle
	calendar calendar.Source
	loc      *time.Location
	clock    clock.Clock
	logger   *zap.Logger
}

// NewEnvironment creates the environment agent. src may be nil when no
// calendar is configured.
func NewEnvironment(store *contextstore.Store, src calendar.Source, loc *time.Location, clk clock.Clock, logger *zap.Logger) *Environment {
	if loc == nil {
		loc = time.UTC
	}
	e := &Environment{
		h:        store.Handle(EnvironmentKey),
		calendar: src,
		loc:      loc,
		clock:    clk,
		logger:   logger,
	}
	e.h.Seed(map[string]any{
		"time": map[string]any{
			"hour":             0,
			"minute":           0,
			"day_of_week":      0,
			"is_working_hours": false,
			"time_of_day":      "",
			"timezone":         loc.String(),
		},
		"calendar": map[string]any{
			"upcoming_meetings":       []any{},
			"next_meeting_in_minutes": nil,
			"total_meetings":          0,
			"meetings_attended":       0,
		},
	})
	return e
}

// Run implements pipeline.Agent. A calendar failure keeps the last known
// calendar section and does not fail the agent.
func (e *Environment) Run(ctx context.Context) error {
	now := e.clock.Now().In(e.loc)
	update := map[string]any{"time": timeSection(now)}

	if e.calendar != nil {
		from, to := calendar.DayBounds(now)
		meetings, err := e.calendar.Meetings(ctx, from, to)
		if err != nil {
			e.logger.Warn("calendar unavailable, keeping last known outlook", zap.Error(err))
		} else {
			update["calendar"] = calendarSection(calendar.Summarize(meetings, now, meetingHorizon))
		}
	}

	e.h.Update(update)
	e.logger.Info("environment updated",
		zap.Int("hour", now.Hour()),
		zap.String("time_of_day", string(breaks.BucketOf(now))))
	return nil
}

func timeSection(now time.Time) map[string]any {
	wd := now.Weekday()
	// Monday is 0, matching ISO ordering.
	dow := (int(wd) + 6) % 7
	working := dow < 5 && now.Hour() >= 9 && now.Hour() < 18
	return map[string]any{
		"hour":             now.Hour(),
		"minute":           now.Minute(),
		"day_of_week":      dow,
		"is_working_hours": working,
		"time_of_day":      string(breaks.BucketOf(now)),
		"timezone":         now.Location().String(),
		"last_update":      stamp(now),
	}
}

func calendarSection(s calendar.Summary) map[string]any {
	upcoming := make([]any, 0, len(s.Upcoming))
	for _, m := range s.Upcoming {
		upcoming = append(upcoming, map[string]any{
			"title":            m.Title,
			"start_time":       stamp(m.Start),
			"end_time":         stamp(m.EndTime()),
			"duration_minutes": int(m.EndTime().Sub(m.Start).Minutes()),
			"status":           m.Status,
		})
	}
	var next any
	if s.NextMeetingIn >= 0 {
		next = int(s.NextMeetingIn.Minutes())
	}
	return map[string]any{
		"upcoming_meetings":       upcoming,
		"next_meeting_in_minutes": next,
		"total_meetings":          s.TotalMeetings,
		"meetings_attended":       s.MeetingsAttended,
	}
}
