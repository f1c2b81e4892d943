package breaks

import (
	"errors"
	"time"
)

// BreakType labels a kind of micro-break.
type BreakType string

const (
	EyeBreak       BreakType = "eye_break"
	StretchBreak   BreakType = "stretch_break"
	WalkBreak      BreakType = "walk_break"
	HydrationBreak BreakType = "hydration_break"
)

// Types lists the catalog in draw order.
var Types = []BreakType{EyeBreak, StretchBreak, WalkBreak, HydrationBreak}

// Valid reports whether t is in the catalog.
func (t BreakType) Valid() bool {
	_, ok := catalog[t]
	return ok
}

var (
	ErrUnknownBreakType = errors.New("unknown break type")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
)

// Weight bounds of a base preference.
const (
	MinWeight = 0.1
	MaxWeight = 2.0
)

// Feedback is an immutable user response to a delivered suggestion.
type Feedback struct {
	SuggestionID        string    `json:"suggestion_id,omitempty"`
	BreakType           BreakType `json:"break_type"`
	Timestamp           time.Time `json:"timestamp"`
	Accepted            bool      `json:"accepted"`
	Completed           bool      `json:"completed"`
	EffectivenessRating *int      `json:"effectiveness_rating,omitempty"`
	EnergyLevelAfter    *int      `json:"energy_level_after,omitempty"`
}

// Validate checks the break type and optional ratings.
func (f Feedback) Validate() error {
	if !f.BreakType.Valid() {
		return ErrUnknownBreakType
	}
	for _, r := range []*int{f.EffectivenessRating, f.EnergyLevelAfter} {
		if r != nil && (*r < 1 || *r > 5) {
			return ErrInvalidRating
		}
	}
	return nil
}

// Emission records that a suggestion of some type was shown.
type Emission struct {
	SuggestionID string    `json:"suggestion_id"`
	BreakType    BreakType `json:"break_type"`
	Timestamp    time.Time `json:"timestamp"`
}

// Priority of a suggestion.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Sources of a suggestion.
const (
	SourceLocal = "local"
	SourceLLM   = "llm"
)

// Suggestion is a break recommendation ready for delivery.
type Suggestion struct {
	ID            string    `json:"id"`
	Type          BreakType `json:"type"`
	Title         string    `json:"title"`
	Activity      string    `json:"activity"`
	Duration      int       `json:"duration"`
	Benefits      []string  `json:"benefits"`
	Message       string    `json:"message"`
	Explanation   string    `json:"explanation"`
	Alternative   string    `json:"alternative"`
	Priority      string    `json:"priority"`
	Source        string    `json:"source"`
	ActivityLevel float64   `json:"activity_level"`
	CreatedAt     time.Time `json:"created_at"`
}

// Request carries the context of one suggestion.
type Request struct {
	Now           time.Time
	ActivityLevel float64
	WorkDuration  time.Duration
	CPUPercent    float64
	WellnessScore float64
	// NextMeetingIn is negative when no meeting is known.
	NextMeetingIn time.Duration
	LastFeedback  *Feedback
}
