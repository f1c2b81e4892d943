package breaks

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay buckets used by the selection modifiers.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Midday    TimeOfDay = "midday"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// BucketOf maps a local hour to its time-of-day bucket.
func BucketOf(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return Morning
	case h >= 11 && h < 14:
		return Midday
	case h >= 14 && h < 17:
		return Afternoon
	default:
		return Evening
	}
}

type entry struct {
	title           string
	defaultDuration int
	activities      []string
	benefits        []string
	messages        map[TimeOfDay]string
	alternative     string
}

var catalog = map[BreakType]entry{
	EyeBreak: {
		title:           "Eye Care Break",
		defaultDuration: 2,
		activities: []string{
			"Look at something 20 feet away for 20 seconds (20-20-20 rule)",
			"Gently close your eyes and roll them in circles",
			"Cup your hands over your eyes for 30 seconds of darkness",
		},
		benefits: []string{"Reduce eye strain", "Prevent fatigue"},
		messages: map[TimeOfDay]string{
			Morning:   "Your eyes could use a quick rest. Look at something distant for 20 seconds?",
			Midday:    "Been focusing on the screen a while. Time for a 20-second eye break?",
			Afternoon: "Been focusing on the screen a while. Time for a 20-second eye break?",
			Evening:   "As the day winds down, let's give your eyes a quick rest.",
		},
		alternative: "Could you at least look away from the screen briefly?",
	},
	StretchBreak: {
		title:           "Quick Stretch",
		defaultDuration: 5,
		activities: []string{
			"Stand up and stretch your arms overhead",
			"Gentle neck rotations - 5 each direction",
			"Shoulder rolls - 10 forward and backward",
			"Wrist and finger stretches for typing relief",
		},
		benefits: []string{"Reduce muscle tension", "Improve flexibility"},
		messages: map[TimeOfDay]string{
			Morning:   "Start the day right with some energizing stretches!",
			Midday:    "A quick stretch could help maintain your momentum.",
			Afternoon: "A quick stretch could help maintain your momentum.",
			Evening:   "Some gentle stretches to release the day's tension?",
		},
		alternative: "Even a 30-second posture check can help!",
	},
	WalkBreak: {
		title:           "Walking Break",
		defaultDuration: 10,
		activities: []string{
			"Take a short walk around your space",
			"Walk to get a glass of water",
			"Do a lap around your office or home",
			"Step outside for fresh air if possible",
		},
		benefits: []string{"Boost energy", "Improve circulation"},
		messages: map[TimeOfDay]string{
			Morning:   "A brief morning walk could energize your day!",
			Midday:    "Perfect time for a short walk to refresh your mind.",
			Afternoon: "Perfect time for a short walk to refresh your mind.",
			Evening:   "A walk could help transition from work mode.",
		},
		alternative: "How about some desk stretches instead?",
	},
	HydrationBreak: {
		title:           "Hydration Break",
		defaultDuration: 3,
		activities: []string{
			"Time for a glass of water!",
			"Refill your water bottle",
			"Have some herbal tea",
			"Remember to stay hydrated",
		},
		benefits: []string{"Stay hydrated", "Sharpen concentration"},
		messages: map[TimeOfDay]string{
			Morning:   "Start fresh with some water!",
			Midday:    "Stay hydrated through the afternoon!",
			Afternoon: "Stay hydrated through the afternoon!",
			Evening:   "One last hydration break before wrapping up?",
		},
		alternative: "Even a small sip of water would be good!",
	},
}

// Title returns the display title of t.
func Title(t BreakType) string { return catalog[t].title }

// Activities returns the template activities of t.
func Activities(t BreakType) []string {
	return append([]string(nil), catalog[t].activities...)
}

// Message returns a short nudge text for t at the given time of day.
func Message(t BreakType, tod TimeOfDay) string {
	return catalog[t].messages[tod]
}

// Alternative suggests a smaller break when t is postponed.
func Alternative(t BreakType) string {
	if e, ok := catalog[t]; ok {
		return e.alternative
	}
	return "Consider a micro-break if you can't take a full break."
}

// Explain says why a break is suggested now.
func Explain(t BreakType, workMinutes int, cpuPercent float64) string {
	name := strings.ReplaceAll(string(t), "_", " ")
	switch {
	case workMinutes > 60:
		return fmt.Sprintf("You've been working for over an hour. A %s could help you stay fresh.", name)
	case cpuPercent > 70:
		return "I notice high system activity. A quick break might help maintain your productivity."
	default:
		return fmt.Sprintf("Regular %ss help maintain your wellbeing.", name)
	}
}

// ActivityLevel folds system readings into [0,1]: CPU 40%, memory 30% and
// recency of input 30%, where an hour idle counts as fully inactive.
func ActivityLevel(cpuPercent, memPercent, idleSeconds float64) float64 {
	cpu := clampUnit(cpuPercent / 100)
	mem := clampUnit(memPercent / 100)
	idle := 1 - clampUnit(idleSeconds/3600)
	return cpu*0.4 + mem*0.3 + idle*0.3
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
