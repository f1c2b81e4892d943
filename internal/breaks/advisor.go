package breaks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/nudge-coach/internal/llm"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
)

// Advisor asks a language model to personalise a locally chosen break.
type Advisor struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

// NewAdvisor wraps client. model may be empty when the client carries one.
func NewAdvisor(client llm.Client, model string, logger *zap.Logger) *Advisor {
	return &Advisor{client: client, model: model, logger: logger}
}

// proposal is the JSON shape the model is asked to return.
type proposal struct {
	Title    string   `json:"title"`
	Activity string   `json:"activity"`
	Duration int      `json:"duration"`
	Benefits []string `json:"benefits"`
	Type     string   `json:"type"`
}

// Enhance returns base rewritten by the model. Any transport or parse
// failure is returned so the caller can keep the local suggestion.
func (a *Advisor) Enhance(ctx context.Context, base Suggestion, req Request, workMinutes int) (Suggestion, error) {
	prompt := breakPrompt(base, req, workMinutes)
	resp, err := a.client.Chat(ctx, &llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: "system", Content: "You are a workplace wellness coach. Answer with a single JSON object."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		return base, fmt.Errorf("llm enhance: %w", err)
	}

	var p proposal
	if err := json.Unmarshal([]byte(llm.StripFences(resp.Content)), &p); err != nil {
		return base, fmt.Errorf("parse suggestion: %w", err)
	}
	if strings.TrimSpace(p.Activity) == "" {
		return base, fmt.Errorf("parse suggestion: missing activity")
	}
	if strings.TrimSpace(p.Type) == "" {
		return base, fmt.Errorf("parse suggestion: missing type")
	}

	out := base
	out.Type = BreakType(strings.TrimSpace(p.Type))
	if !out.Type.Valid() {
		a.logger.Debug("model proposed unknown break type",
			zap.String("type", p.Type))
		out.Type = StretchBreak
	}
	if p.Title != "" {
		out.Title = p.Title
	}
	out.Activity = p.Activity
	if p.Duration > 0 {
		out.Duration = p.Duration
	}
	if len(p.Benefits) > 0 {
		out.Benefits = p.Benefits
	}
	out.Source = SourceLLM
	return out, nil
}

// Tips asks for two or three short work-life balance tips for the given
// component scores.
func (a *Advisor) Tips(ctx context.Context, score float64, components map[string]float64) ([]string, error) {
	var b strings.Builder
	b.WriteString("As a wellness coach, give advice based on:\n")
	fmt.Fprintf(&b, "Score: %.1f\n", score)
	fmt.Fprintf(&b, "Break compliance: %.1f%%\n", components[wellness.BreakCompliance])
	fmt.Fprintf(&b, "Work duration: %.1f%%\n", components[wellness.WorkDuration])
	fmt.Fprintf(&b, "Activity balance: %.1f%%\n", components[wellness.ActivityBalance])
	fmt.Fprintf(&b, "Schedule: %.1f%%\n", components[wellness.ScheduleAdherence])
	fmt.Fprintf(&b, "System usage: %.1f%%\n", components[wellness.SystemUsage])
	b.WriteString("\nGive 2-3 short, actionable work-life balance tips, one per line.")

	resp, err := a.client.Chat(ctx, &llm.ChatRequest{
		Model:     a.model,
		Messages:  []llm.Message{{Role: "user", Content: b.String()}},
		MaxTokens: 200,
	})
	if err != nil {
		return nil, fmt.Errorf("llm tips: %w", err)
	}

	var tips []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if line == "" {
			continue
		}
		tips = append(tips, line)
		if len(tips) == 3 {
			break
		}
	}
	if len(tips) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	return tips, nil
}

func breakPrompt(base Suggestion, req Request, workMinutes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "As a wellness coach, enhance this %s suggestion. Context:\n", base.Type)
	fmt.Fprintf(&b, "Time: %s\n", BucketOf(req.Now))
	fmt.Fprintf(&b, "Work duration: %d min\n", workMinutes)
	fmt.Fprintf(&b, "Activity level: %.2f/1.0\n", req.ActivityLevel)
	fmt.Fprintf(&b, "Current wellness: %.1f\n", req.WellnessScore)
	if req.NextMeetingIn >= 0 {
		fmt.Fprintf(&b, "Next meeting in: %d min\n", int(req.NextMeetingIn.Minutes()))
	}
	if f := req.LastFeedback; f != nil {
		fmt.Fprintf(&b, "Last break: %s (accepted=%t, completed=%t)\n", f.BreakType, f.Accepted, f.Completed)
	}
	b.WriteString("\nBreak suggestion details:\n")
	fmt.Fprintf(&b, "- Type: %s\n- Title: %s\n- Suggested activity: %s\n- Recommended duration: %d minutes\n",
		base.Type, base.Title, base.Activity, base.Duration)
	b.WriteString("\nPersonalise it for the time of day and activity level. Keep the same break type.\n")
	fmt.Fprintf(&b, `Return JSON: {"title": "...", "activity": "...", "duration": %d, "benefits": ["...", "..."], "type": "%s"}`,
		base.Duration, base.Type)
	return b.String()
}
