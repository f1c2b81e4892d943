package breaks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/llm"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLLM struct {
	content string
	err     error
	calls   int
	last    *llm.ChatRequest
}

func (f *fakeLLM) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content}, nil
}

func newCoach(t *testing.T, client llm.Client) (*Coach, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(at(10))
	prefs := NewPreferences(NewMemoryStore(), zap.NewNop())
	var adv *Advisor
	if client != nil {
		adv = NewAdvisor(client, "test-model", zap.NewNop())
	}
	return NewCoach(prefs, NewSelector(prefs, 3), adv, clk, zap.NewNop()), clk
}

func TestSuggestLocal(t *testing.T) {
	c, _ := newCoach(t, nil)
	s := c.Suggest(context.Background(), Request{ActivityLevel: 0.5, WorkDuration: 20 * time.Minute, WellnessScore: 85, NextMeetingIn: -1})

	require.True(t, s.Type.Valid())
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, SourceLocal, s.Source)
	assert.Equal(t, Title(s.Type), s.Title)
	assert.Contains(t, Activities(s.Type), s.Activity)
	assert.Equal(t, DefaultDurations[s.Type], s.Duration)
	assert.Equal(t, Message(s.Type, Morning), s.Message)
	assert.Equal(t, Alternative(s.Type), s.Alternative)
	assert.NotEmpty(t, s.Alternative)
	assert.Equal(t, PriorityNormal, s.Priority)
	assert.Equal(t, at(10), s.CreatedAt)

	taken, suggested := c.Compliance()
	assert.Equal(t, 0, taken)
	assert.Equal(t, 1, suggested)
	assert.InDelta(t, 1.1, c.Preferences().Weights()[s.Type], 1e-9)
}

func TestSuggestPriority(t *testing.T) {
	c, _ := newCoach(t, nil)
	ctx := context.Background()
	assert.Equal(t, PriorityHigh, c.Suggest(ctx, Request{WorkDuration: 90 * time.Minute, WellnessScore: 90}).Priority)
	assert.Equal(t, PriorityHigh, c.Suggest(ctx, Request{WorkDuration: 10 * time.Minute, WellnessScore: 59}).Priority)
	assert.Equal(t, PriorityNormal, c.Suggest(ctx, Request{WorkDuration: 10 * time.Minute, WellnessScore: 60}).Priority)
}

func TestSuggestLLMEnhanced(t *testing.T) {
	fake := &fakeLLM{content: "```json\n" + `{"title":"Window Gaze","activity":"Look outside for 20 seconds","duration":3,"benefits":["Rest eyes"],"type":"eye_break"}` + "\n```"}
	c, _ := newCoach(t, fake)
	s := c.Suggest(context.Background(), Request{ActivityLevel: 0.2, WellnessScore: 80, NextMeetingIn: 30 * time.Minute})

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "test-model", fake.last.Model)
	assert.Contains(t, fake.last.Messages[1].Content, "Next meeting in: 30 min")
	assert.Equal(t, SourceLLM, s.Source)
	assert.Equal(t, EyeBreak, s.Type)
	assert.Equal(t, "Window Gaze", s.Title)
	assert.Equal(t, 3, s.Duration)
	assert.Equal(t, []string{"Rest eyes"}, s.Benefits)
	assert.InDelta(t, 1.1, c.Preferences().Weights()[EyeBreak], 1e-9)
}

func TestSuggestLLMUnknownTypeCoerced(t *testing.T) {
	fake := &fakeLLM{content: `{"title":"Breathe","activity":"Box breathing","duration":4,"benefits":[],"type":"deep_breathing"}`}
	c, _ := newCoach(t, fake)
	s := c.Suggest(context.Background(), Request{WellnessScore: 80})
	assert.Equal(t, StretchBreak, s.Type)
	assert.Equal(t, "Box breathing", s.Activity)
}

func TestSuggestKeepsLocalTypeWhenReplyOmitsType(t *testing.T) {
	fake := &fakeLLM{content: `{"title":"Rest","activity":"Look away","duration":2,"benefits":["eyes"]}`}
	c, _ := newCoach(t, fake)

	seen := map[BreakType]int{}
	for i := 0; i < 40; i++ {
		s := c.Suggest(context.Background(), Request{ActivityLevel: 0.2, WellnessScore: 80})
		require.Equal(t, SourceLocal, s.Source)
		require.Contains(t, Activities(s.Type), s.Activity)
		seen[s.Type]++
	}
	assert.Equal(t, 40, fake.calls)
	assert.Greater(t, len(seen), 1, "local weighted draw decides the type: %v", seen)
}

func TestSuggestFallsBackOnLLMFailure(t *testing.T) {
	for name, fake := range map[string]*fakeLLM{
		"transport": {err: errors.New("connection refused")},
		"malformed": {content: "Sure! Take a walk."},
		"empty":     {content: `{"title":"x"}`},
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newCoach(t, fake)
			s := c.Suggest(context.Background(), Request{WellnessScore: 80})
			assert.Equal(t, SourceLocal, s.Source)
			assert.Equal(t, Title(s.Type), s.Title)
			assert.Contains(t, Activities(s.Type), s.Activity)
		})
	}
}

func TestRecordFeedbackStampsTime(t *testing.T) {
	c, clk := newCoach(t, nil)
	clk.Advance(5 * time.Minute)
	require.NoError(t, c.RecordFeedback(context.Background(), Feedback{BreakType: WalkBreak, Accepted: true, Completed: true}))
	last := c.LastFeedback()
	require.NotNil(t, last)
	assert.Equal(t, at(10).Add(5*time.Minute), last.Timestamp)
	taken, _ := c.Compliance()
	assert.Equal(t, 1, taken)

	assert.ErrorIs(t, c.RecordFeedback(context.Background(), Feedback{BreakType: WalkBreak, EffectivenessRating: rating(9)}), ErrInvalidRating)
}

func TestWellnessTips(t *testing.T) {
	b := wellness.Breakdown{Score: 55, Components: map[string]float64{wellness.BreakCompliance: 40}, Suggestions: []string{"local"}}

	c, _ := newCoach(t, nil)
	assert.Equal(t, []string{"local"}, c.WellnessTips(context.Background(), b))

	fake := &fakeLLM{content: "- Take a walk\n\n- Drink water\n* Stretch\n- Sleep more"}
	c, _ = newCoach(t, fake)
	assert.Equal(t, []string{"Take a walk", "Drink water", "Stretch"}, c.WellnessTips(context.Background(), b))
	assert.Contains(t, fake.last.Messages[0].Content, "Break compliance: 40.0%")

	c, _ = newCoach(t, &fakeLLM{err: errors.New("timeout")})
	assert.Equal(t, []string{"local"}, c.WellnessTips(context.Background(), b))
}
