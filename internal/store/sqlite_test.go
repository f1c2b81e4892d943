package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "db", "nudge.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteWeights(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	w, err := s.LoadWeights(ctx)
	require.NoError(t, err)
	assert.Empty(t, w)

	require.NoError(t, s.SaveWeight(ctx, breaks.EyeBreak, 1.1))
	require.NoError(t, s.SaveWeight(ctx, breaks.EyeBreak, 1.21))
	require.NoError(t, s.SaveWeight(ctx, breaks.WalkBreak, 0.5))

	w, err = s.LoadWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[breaks.BreakType]float64{breaks.EyeBreak: 1.21, breaks.WalkBreak: 0.5}, w)
}

func TestSQLiteFeedbackAndEmissions(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	four := 4

	require.NoError(t, s.AppendFeedback(ctx, breaks.Feedback{
		SuggestionID: "old", BreakType: breaks.StretchBreak, Timestamp: t0.Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, s.AppendFeedback(ctx, breaks.Feedback{
		SuggestionID: "s1", BreakType: breaks.WalkBreak, Timestamp: t0,
		Accepted: true, Completed: true, EffectivenessRating: &four,
	}))
	require.NoError(t, s.AppendEmission(ctx, breaks.Emission{SuggestionID: "s1", BreakType: breaks.WalkBreak, Timestamp: t0.Add(-time.Minute)}))

	fb, err := s.LoadFeedback(ctx, t0.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Equal(t, "s1", fb[0].SuggestionID)
	assert.True(t, fb[0].Timestamp.Equal(t0))
	require.NotNil(t, fb[0].EffectivenessRating)
	assert.Equal(t, 4, *fb[0].EffectivenessRating)
	assert.Nil(t, fb[0].EnergyLevelAfter)
	assert.True(t, fb[0].Accepted && fb[0].Completed)

	em, err := s.LoadEmissions(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, em, 1)
	assert.Equal(t, breaks.WalkBreak, em[0].BreakType)
}

func TestSQLiteBacksPreferences(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	five := 5

	p := breaks.NewPreferences(s, zap.NewNop())
	require.NoError(t, p.RecordEmission(ctx, breaks.Emission{SuggestionID: "a", BreakType: breaks.HydrationBreak, Timestamp: t0}))
	require.NoError(t, p.AddFeedback(ctx, breaks.Feedback{SuggestionID: "a", BreakType: breaks.HydrationBreak, Timestamp: t0, Accepted: true, Completed: true, EffectivenessRating: &five}))

	restored := breaks.NewPreferences(s, zap.NewNop())
	require.NoError(t, restored.Load(ctx, t0.Add(time.Hour)))
	assert.InDelta(t, 1.1*1.2, restored.Weights()[breaks.HydrationBreak], 1e-9)
	taken, suggested := restored.Compliance(t0.Add(-time.Hour))
	assert.Equal(t, 1, taken)
	assert.Equal(t, 1, suggested)
}

func TestSQLiteSamples(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	require.NoError(t, s.SaveSample(ctx, wellness.Sample{Timestamp: t0.Add(-25 * time.Hour), Score: 40}))
	require.NoError(t, s.SaveSample(ctx, wellness.Sample{
		Timestamp: t0, Score: 82.5,
		Components: map[string]float64{wellness.BreakCompliance: 100, wellness.WorkDuration: 60},
	}))

	got, err := s.LoadSamples(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 82.5, got[0].Score)
	assert.Equal(t, 60.0, got[0].Components[wellness.WorkDuration])

	tr := wellness.NewTracker(clock.NewMock(t0), zap.NewNop())
	tr.Restore(got)
	assert.Len(t, tr.History(), 1)
}
