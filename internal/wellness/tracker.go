package wellness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nudge-coach/internal/clock"
	"go.uber.org/zap"
)

// Trend classifications.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

const (
	window      = 24 * time.Hour
	trendMargin = 5.0
)

// Sample is one scoring result.
type Sample struct {
	Timestamp  time.Time          `json:"timestamp"`
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// Breakdown summarizes the latest sample.
type Breakdown struct {
	Score       float64            `json:"score"`
	Trend       string             `json:"trend"`
	Components  map[string]float64 `json:"components"`
	Suggestions []string           `json:"suggestions"`
}

// Tracker scores metrics and keeps a rolling 24 hour sample history.
type Tracker struct {
	mu      sync.Mutex
	history []Sample
	clock   clock.Clock
	logger  *zap.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(clk clock.Clock, logger *zap.Logger) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{clock: clk, logger: logger}
}

// Update scores m, appends a sample and prunes samples older than 24 hours.
func (t *Tracker) Update(m Metrics) Sample {
	components := ComponentScores(m)
	s := Sample{
		Timestamp:  t.clock.Now(),
		Score:      Composite(components),
		Components: components,
	}

	t.mu.Lock()
	t.history = append(t.history, s)
	cutoff := s.Timestamp.Add(-window)
	kept := t.history[:0]
	for _, h := range t.history {
		if h.Timestamp.After(cutoff) {
			kept = append(kept, h)
		}
	}
	t.history = kept
	t.mu.Unlock()

	t.logger.Debug("wellness score updated",
		zap.Float64("score", s.Score),
		zap.Any("components", components))
	return s
}

// Breakdown reports the latest score, its trend against the previous
// sample, component scores and advice. With no samples the score is 100.
func (t *Tracker) Breakdown() Breakdown {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == 0 {
		return Breakdown{
			Score:       100,
			Trend:       TrendStable,
			Components:  map[string]float64{},
			Suggestions: []string{},
		}
	}
	latest := t.history[len(t.history)-1]
	trend := TrendStable
	if len(t.history) > 1 {
		trend = Classify(latest.Score, t.history[len(t.history)-2].Score)
	}
	components := make(map[string]float64, len(latest.Components))
	for k, v := range latest.Components {
		components[k] = v
	}
	return Breakdown{
		Score:       latest.Score,
		Trend:       trend,
		Components:  components,
		Suggestions: Advice(components),
	}
}

// History returns a copy of the retained samples, oldest first.
func (t *Tracker) History() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sample(nil), t.history...)
}

// Restore seeds the history, for instance from a snapshot, keeping only
// samples inside the window.
func (t *Tracker) Restore(samples []Sample) {
	cutoff := t.clock.Now().Add(-window)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = t.history[:0]
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			t.history = append(t.history, s)
		}
	}
}

// SampleStore persists scoring samples across restarts.
type SampleStore interface {
	SaveSample(ctx context.Context, s Sample) error
	LoadSamples(ctx context.Context, since time.Time) ([]Sample, error)
}

// Load restores the last 24 hours of samples from store.
func (t *Tracker) Load(ctx context.Context, store SampleStore) error {
	samples, err := store.LoadSamples(ctx, t.clock.Now().Add(-window))
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	t.Restore(samples)
	t.logger.Info("wellness history restored", zap.Int("samples", len(samples)))
	return nil
}

// Classify compares a score with the previous one.
func Classify(current, previous float64) string {
	switch {
	case current >= previous+trendMargin:
		return TrendImproving
	case current <= previous-trendMargin:
		return TrendDeclining
	default:
		return TrendStable
	}
}
