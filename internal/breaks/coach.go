package breaks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
)

const (
	complianceWindow  = 24 * time.Hour
	highPriorityWork  = 90 * time.Minute
	highPriorityScore = 60.0
)

// Coach turns a request into a delivered suggestion and folds user
// responses back into the preferences.
type Coach struct {
	prefs    *Preferences
	selector *Selector
	advisor  *Advisor
	clock    clock.Clock
	logger   *zap.Logger
}

// NewCoach wires the decision engine. advisor may be nil, in which case
// every suggestion is built from the local catalog.
func NewCoach(prefs *Preferences, selector *Selector, advisor *Advisor, clk clock.Clock, logger *zap.Logger) *Coach {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coach{
		prefs:    prefs,
		selector: selector,
		advisor:  advisor,
		clock:    clk,
		logger:   logger,
	}
}

// Preferences exposes the adaptive weights.
func (c *Coach) Preferences() *Preferences { return c.prefs }

// Suggest selects a break for req. It never fails: language model errors
// degrade to the locally selected template and persistence errors are
// logged.
func (c *Coach) Suggest(ctx context.Context, req Request) Suggestion {
	if req.Now.IsZero() {
		req.Now = c.clock.Now()
	}
	t := c.selector.Select(SelectionContext{
		Now:           req.Now,
		ActivityLevel: req.ActivityLevel,
		WorkDuration:  req.WorkDuration,
	})
	workMinutes := int(req.WorkDuration.Minutes())

	s := c.localSuggestion(t, req)
	if c.advisor != nil {
		enhanced, err := c.advisor.Enhance(ctx, s, req, workMinutes)
		if err != nil {
			c.logger.Warn("llm suggestion failed, using local template",
				zap.String("break_type", string(t)), zap.Error(err))
		} else {
			s = enhanced
		}
	}

	s.Message = Message(s.Type, BucketOf(req.Now))
	s.Explanation = Explain(s.Type, workMinutes, req.CPUPercent)
	s.Alternative = Alternative(s.Type)
	s.Priority = PriorityNormal
	if req.WorkDuration >= highPriorityWork || req.WellnessScore < highPriorityScore {
		s.Priority = PriorityHigh
	}

	if err := c.prefs.RecordEmission(ctx, Emission{
		SuggestionID: s.ID,
		BreakType:    s.Type,
		Timestamp:    req.Now,
	}); err != nil {
		c.logger.Error("record emission", zap.String("id", s.ID), zap.Error(err))
	}

	c.logger.Info("break suggested",
		zap.String("id", s.ID),
		zap.String("break_type", string(s.Type)),
		zap.String("source", s.Source),
		zap.String("priority", s.Priority))
	return s
}

func (c *Coach) localSuggestion(t BreakType, req Request) Suggestion {
	e := catalog[t]
	activity := ""
	if n := len(e.activities); n > 0 {
		activity = e.activities[c.selector.pick(n)]
	}
	return Suggestion{
		ID:            uuid.New().String(),
		Type:          t,
		Title:         e.title,
		Activity:      activity,
		Duration:      c.prefs.Duration(t),
		Benefits:      append([]string(nil), e.benefits...),
		Source:        SourceLocal,
		ActivityLevel: req.ActivityLevel,
		CreatedAt:     req.Now,
	}
}

// RecordFeedback stores a user response. A zero timestamp is set to now.
func (c *Coach) RecordFeedback(ctx context.Context, f Feedback) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = c.clock.Now()
	}
	return c.prefs.AddFeedback(ctx, f)
}

// Compliance counts breaks taken and suggested over the last 24 hours.
func (c *Coach) Compliance() (taken, suggested int) {
	return c.prefs.Compliance(c.clock.Now().Add(-complianceWindow))
}

// LastFeedback returns the most recent response, or nil.
func (c *Coach) LastFeedback() *Feedback {
	h := c.prefs.History()
	if len(h) == 0 {
		return nil
	}
	f := h[len(h)-1]
	return &f
}

// WellnessTips returns model-written advice for b, falling back to the
// per-component suggestions already in b.
func (c *Coach) WellnessTips(ctx context.Context, b wellness.Breakdown) []string {
	if c.advisor == nil {
		return b.Suggestions
	}
	tips, err := c.advisor.Tips(ctx, b.Score, b.Components)
	if err != nil {
		c.logger.Warn("llm tips failed, using local advice", zap.Error(err))
		return b.Suggestions
	}
	return tips
}
