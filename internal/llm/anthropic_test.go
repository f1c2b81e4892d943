package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestAnthropicChat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "secret" {
			t.Errorf("api key = %q", key)
		}
		if v := r.Header.Get("anthropic-version"); v != anthropicVersion {
			t.Errorf("version = %q", v)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg-1",
			"model": "claude-test",
			"content": []map[string]string{
				{"type": "text", "text": "take a "},
				{"type": "text", "text": "walk"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 3},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{Endpoint: srv.URL + "/v1", APIKey: "secret", Model: "claude-test"}, zap.NewNop())
	resp, err := c.Chat(context.Background(), &ChatRequest{Messages: []Message{
		{Role: "system", Content: "You are a coach."},
		{Role: "user", Content: "break?"},
	}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "take a walk" || resp.Usage.TotalTokens != 13 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if got.System != "You are a coach." || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("system prompt not lifted: %+v", got)
	}
	if got.Model != "claude-test" || got.MaxTokens != 1024 {
		t.Errorf("defaults not applied: model=%q max_tokens=%d", got.Model, got.MaxTokens)
	}
}

func TestAnthropicEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{Endpoint: srv.URL}, zap.NewNop())
	if _, err := c.Chat(context.Background(), &ChatRequest{}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	c, err := New("", Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, ok := c.(*OpenAIClient); !ok {
		t.Errorf("default = %T, want *OpenAIClient", c)
	}
	c, err = New("Anthropic", Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("anthropic provider: %v", err)
	}
	if _, ok := c.(*AnthropicClient); !ok {
		t.Errorf("anthropic = %T, want *AnthropicClient", c)
	}
	if _, err := New("bard", Config{}, zap.NewNop()); err == nil {
		t.Error("expected unknown provider error")
	}
}
