// Package calendar provides meeting data for schedule adherence and
// meeting-imminent suppression.
package calendar

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Meeting statuses. Anything else is treated as confirmed.
const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusDeclined  = "declined"
	StatusMissed    = "missed"
	StatusCancelled = "cancelled"
)

// Meeting is one calendar event.
type Meeting struct {
	Title  string    `json:"title" yaml:"title"`
	Start  time.Time `json:"start_time" yaml:"start_time"`
	End    time.Time `json:"end_time" yaml:"end_time"`
	Status string    `json:"status,omitempty" yaml:"status,omitempty"`
}

// EndTime returns End, or Start plus 30 minutes when End is unset.
func (m Meeting) EndTime() time.Time {
	if m.End.IsZero() || m.End.Before(m.Start) {
		return m.Start.Add(30 * time.Minute)
	}
	return m.End
}

func (m Meeting) cancelled() bool {
	return strings.EqualFold(m.Status, StatusCancelled)
}

// Source lists meetings starting in [from, to).
type Source interface {
	Meetings(ctx context.Context, from, to time.Time) ([]Meeting, error)
}

// Summary is the calendar view written into the environment namespace.
type Summary struct {
	Upcoming         []Meeting
	NextMeetingIn    time.Duration // negative when nothing is upcoming
	TotalMeetings    int
	MeetingsAttended int
}

// Summarize derives the upcoming list within horizon and today's adherence
// counters from the meetings of the day containing now. Cancelled meetings
// are ignored and declined ones are never upcoming. A meeting counts as
// attended once it has ended and was not declined or missed.
func Summarize(day []Meeting, now time.Time, horizon time.Duration) Summary {
	s := Summary{NextMeetingIn: -1, Upcoming: []Meeting{}}
	sorted := append([]Meeting(nil), day...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	for _, m := range sorted {
		if m.cancelled() {
			continue
		}
		s.TotalMeetings++
		st := strings.ToLower(m.Status)
		if !m.EndTime().After(now) {
			if st != StatusDeclined && st != StatusMissed {
				s.MeetingsAttended++
			}
			continue
		}
		if st != StatusDeclined && !m.Start.Before(now) && m.Start.Before(now.Add(horizon)) {
			s.Upcoming = append(s.Upcoming, m)
			if s.NextMeetingIn < 0 {
				s.NextMeetingIn = m.Start.Sub(now)
			}
		}
	}
	return s
}

// DayBounds returns midnight to midnight of the day containing t in t's
// location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, mo, d := t.Date()
	start := time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

func inRange(meetings []Meeting, from, to time.Time) []Meeting {
	out := []Meeting{}
	for _, m := range meetings {
		if !m.Start.Before(from) && m.Start.Before(to) {
			out = append(out, m)
		}
	}
	return out
}

// Static is an in-memory Source.
type Static struct {
	mu       sync.RWMutex
	meetings []Meeting
}

var _ Source = (*Static)(nil)

// NewStatic returns a source over meetings.
func NewStatic(meetings ...Meeting) *Static {
	return &Static{meetings: meetings}
}

// Set replaces the meetings.
func (s *Static) Set(meetings ...Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings = meetings
}

func (s *Static) Meetings(_ context.Context, from, to time.Time) ([]Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return inRange(s.meetings, from, to), nil
}
