package breaks

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	ratedWindow      = 20
	longWorkDuration = 90 * time.Minute
)

// Activity bands.
const (
	ActivityLow    = "low"
	ActivityMedium = "medium"
	ActivityHigh   = "high"
)

// BandOf classifies an activity level in [0,1].
func BandOf(level float64) string {
	switch {
	case level > 0.7:
		return ActivityHigh
	case level < 0.3:
		return ActivityLow
	default:
		return ActivityMedium
	}
}

type modifiers map[BreakType]float64

func (m modifiers) of(t BreakType) float64 {
	if v, ok := m[t]; ok {
		return v
	}
	return 1
}

var timeModifiers = map[TimeOfDay]modifiers{
	Morning:   {EyeBreak: 1.2, HydrationBreak: 1.1},
	Midday:    {WalkBreak: 1.2, HydrationBreak: 1.1},
	Afternoon: {WalkBreak: 1.3, StretchBreak: 1.1},
	Evening:   {StretchBreak: 1.2, EyeBreak: 1.1, WalkBreak: 0.9},
}

var activityModifiers = map[string]modifiers{
	ActivityHigh:   {WalkBreak: 1.4, StretchBreak: 1.2},
	ActivityMedium: {},
	ActivityLow:    {EyeBreak: 0.8, HydrationBreak: 1.2},
}

// Physically active breaks are favored after long continuous work.
var longWorkModifiers = modifiers{WalkBreak: 1.5, StretchBreak: 1.3}

// SelectionContext is the input of one weighted draw.
type SelectionContext struct {
	Now           time.Time
	ActivityLevel float64
	WorkDuration  time.Duration
}

// EffectivenessMultiplier maps the mean of the last 20 effectiveness
// ratings for t to [0.7, 1.3]. Unrated types get 1.
func EffectivenessMultiplier(history []Feedback, t BreakType) float64 {
	var sum, n int
	for i := len(history) - 1; i >= 0 && n < ratedWindow; i-- {
		f := history[i]
		if f.BreakType != t || f.EffectivenessRating == nil {
			continue
		}
		sum += *f.EffectivenessRating
		n++
	}
	if n == 0 {
		return 1
	}
	mean := float64(sum) / float64(n)
	return 0.7 + (mean-1)*0.15
}

// ComputeWeights multiplies base preference, time-of-day, activity, long
// work and effectiveness factors for every catalog type.
func ComputeWeights(base map[BreakType]float64, history []Feedback, sc SelectionContext) map[BreakType]float64 {
	tod := timeModifiers[BucketOf(sc.Now)]
	act := activityModifiers[BandOf(sc.ActivityLevel)]
	out := make(map[BreakType]float64, len(Types))
	for _, t := range Types {
		w := base[t] * tod.of(t) * act.of(t)
		if sc.WorkDuration > longWorkDuration {
			w *= longWorkModifiers.of(t)
		}
		w *= EffectivenessMultiplier(history, t)
		if w < 0 {
			w = 0
		}
		out[t] = w
	}
	return out
}

// Draw picks a type from the categorical distribution of weights using
// r in [0,1). With a zero total every type is equally likely.
func Draw(weights map[BreakType]float64, r float64) BreakType {
	var total float64
	for _, t := range Types {
		total += weights[t]
	}
	if total <= 0 {
		i := int(r * float64(len(Types)))
		if i >= len(Types) {
			i = len(Types) - 1
		}
		return Types[i]
	}
	target := r * total
	var acc float64
	for _, t := range Types {
		acc += weights[t]
		if target < acc {
			return t
		}
	}
	// Rounding can leave target at total; return the last positive type.
	for i := len(Types) - 1; i >= 0; i-- {
		if weights[Types[i]] > 0 {
			return Types[i]
		}
	}
	return Types[len(Types)-1]
}

// Selector draws break types from adaptive weights.
type Selector struct {
	prefs *Preferences
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewSelector creates a selector seeded with seed.
func NewSelector(prefs *Preferences, seed uint64) *Selector {
	return &Selector{prefs: prefs, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Weights returns the adjusted weights for sc.
func (s *Selector) Weights(sc SelectionContext) map[BreakType]float64 {
	return ComputeWeights(s.prefs.Weights(), s.prefs.History(), sc)
}

// Select draws one break type for sc.
func (s *Selector) Select(sc SelectionContext) BreakType {
	return Draw(s.Weights(sc), s.float())
}

func (s *Selector) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Selector) pick(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}
