package breaks

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PreferenceStore persists base weights, feedback and emissions.
type PreferenceStore interface {
	LoadWeights(ctx context.Context) (map[BreakType]float64, error)
	SaveWeight(ctx context.Context, t BreakType, weight float64) error
	AppendFeedback(ctx context.Context, f Feedback) error
	LoadFeedback(ctx context.Context, since time.Time) ([]Feedback, error)
	AppendEmission(ctx context.Context, e Emission) error
	LoadEmissions(ctx context.Context, since time.Time) ([]Emission, error)
}

// DefaultDurations are break lengths in minutes.
var DefaultDurations = map[BreakType]int{
	EyeBreak:       2,
	StretchBreak:   5,
	WalkBreak:      10,
	HydrationBreak: 3,
}

const (
	historyWindow = 7 * 24 * time.Hour
	emissionBoost = 1.1
)

// Preferences holds the adaptive base weights and the append-only
// feedback history. Changes are written through to the store; a store
// failure is returned but the in-memory state still advances.
type Preferences struct {
	mu        sync.RWMutex
	weights   map[BreakType]float64
	durations map[BreakType]int
	history   []Feedback
	emissions []Emission
	store     PreferenceStore
	logger    *zap.Logger
}

// NewPreferences creates preferences with every weight at 1.0.
func NewPreferences(store PreferenceStore, logger *zap.Logger) *Preferences {
	p := &Preferences{
		weights:   make(map[BreakType]float64, len(Types)),
		durations: make(map[BreakType]int, len(Types)),
		store:     store,
		logger:    logger,
	}
	for _, t := range Types {
		p.weights[t] = 1.0
		p.durations[t] = DefaultDurations[t]
	}
	return p
}

// Load restores weights and the last week of feedback and emissions.
func (p *Preferences) Load(ctx context.Context, now time.Time) error {
	if p.store == nil {
		return nil
	}
	weights, err := p.store.LoadWeights(ctx)
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}
	since := now.Add(-historyWindow)
	history, err := p.store.LoadFeedback(ctx, since)
	if err != nil {
		return fmt.Errorf("load feedback: %w", err)
	}
	emissions, err := p.store.LoadEmissions(ctx, since)
	if err != nil {
		return fmt.Errorf("load emissions: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for t, w := range weights {
		if t.Valid() {
			p.weights[t] = clampWeight(w)
		}
	}
	p.history = history
	p.emissions = emissions
	p.logger.Info("preferences loaded",
		zap.Int("feedback", len(history)),
		zap.Int("emissions", len(emissions)))
	return nil
}

// Weights returns a copy of the base weights.
func (p *Preferences) Weights() map[BreakType]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[BreakType]float64, len(p.weights))
	for k, v := range p.weights {
		out[k] = v
	}
	return out
}

// Duration returns the preferred length of t in minutes.
func (p *Preferences) Duration(t BreakType) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.durations[t]
}

// History returns the feedback history, oldest first.
func (p *Preferences) History() []Feedback {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Feedback(nil), p.history...)
}

// AddFeedback validates and appends f. A rated response scales the base
// weight by 1+(rating-3)*0.1, clamped to [0.1, 2.0].
func (p *Preferences) AddFeedback(ctx context.Context, f Feedback) error {
	if err := f.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.history = append(p.history, f)
	weight, changed := p.weights[f.BreakType], false
	if f.EffectivenessRating != nil {
		factor := 1 + float64(*f.EffectivenessRating-3)*0.1
		weight = clampWeight(weight * factor)
		p.weights[f.BreakType] = weight
		changed = true
	}
	p.mu.Unlock()

	p.logger.Info("break feedback recorded",
		zap.String("break_type", string(f.BreakType)),
		zap.Bool("accepted", f.Accepted),
		zap.Bool("completed", f.Completed),
		zap.Float64("weight", weight))

	if p.store == nil {
		return nil
	}
	if err := p.store.AppendFeedback(ctx, f); err != nil {
		return fmt.Errorf("persist feedback: %w", err)
	}
	if changed {
		if err := p.store.SaveWeight(ctx, f.BreakType, weight); err != nil {
			return fmt.Errorf("persist weight: %w", err)
		}
	}
	return nil
}

// RecordEmission notes that a suggestion of e.BreakType was shown and
// boosts its base weight by 10%, capped at 2.0.
func (p *Preferences) RecordEmission(ctx context.Context, e Emission) error {
	if !e.BreakType.Valid() {
		return ErrUnknownBreakType
	}
	p.mu.Lock()
	p.emissions = append(p.emissions, e)
	weight := math.Min(MaxWeight, p.weights[e.BreakType]*emissionBoost)
	p.weights[e.BreakType] = weight
	p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	if err := p.store.AppendEmission(ctx, e); err != nil {
		return fmt.Errorf("persist emission: %w", err)
	}
	if err := p.store.SaveWeight(ctx, e.BreakType, weight); err != nil {
		return fmt.Errorf("persist weight: %w", err)
	}
	return nil
}

// Compliance counts breaks taken (accepted and completed) and suggestions
// emitted at or after since.
func (p *Preferences) Compliance(since time.Time) (taken, suggested int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.history {
		if !f.Timestamp.Before(since) && f.Accepted && f.Completed {
			taken++
		}
	}
	for _, e := range p.emissions {
		if !e.Timestamp.Before(since) {
			suggested++
		}
	}
	return taken, suggested
}

func clampWeight(w float64) float64 {
	return math.Max(MinWeight, math.Min(MaxWeight, w))
}
