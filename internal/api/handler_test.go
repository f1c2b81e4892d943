package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/nidhogg/nudge-coach/internal/notify"
	"github.com/nidhogg/nudge-coach/internal/pipeline"
	"github.com/nidhogg/nudge-coach/internal/sensor"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *contextstore.Store
	coach   *breaks.Coach
	tracker *wellness.Tracker
	clk     *clock.Mock
	ts      *httptest.Server
}

// newTestEnv wires a Handler over in-memory deps and a scheduler whose only
// agent publishes a fixed suggestion.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewMock(t0)
	dir := t.TempDir()
	store := contextstore.NewStore(filepath.Join(dir, "ctx.json"), "", clk, logger)

	prefs := breaks.NewPreferences(breaks.NewMemoryStore(), logger)
	coach := breaks.NewCoach(prefs, breaks.NewSelector(prefs, 1), nil, clk, logger)
	tracker := wellness.NewTracker(clk, logger)
	tracker.Update(wellness.Metrics{ActiveDuration: 2 * time.Hour, CPUPercent: 95})

	sched := pipeline.NewScheduler(store, clk, pipeline.Options{
		Interval: 5 * time.Minute,
		Sequence: []string{"nudge"},
	}, logger)
	nudge := store.Handle("nudge")
	sched.Register("nudge", pipeline.AgentFunc(func(context.Context) error {
		nudge.Update(map[string]any{"current_suggestion": breaks.Suggestion{
			ID: "s-1", Type: breaks.WalkBreak, Title: "Walk", Activity: "Walk around",
		}})
		return nil
	}))

	broadcaster := notify.NewBroadcaster(logger)
	broadcaster.Register(notify.NewLog(logger))

	h := NewHandler(store, sched, coach, tracker, sensor.NewTracker(clk), broadcaster, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return &testEnv{store: store, coach: coach, tracker: tracker, clk: clk, ts: ts}
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp := getJSON(t, env.ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestContextLookup(t *testing.T) {
	env := newTestEnv(t)
	env.store.Update(map[string]any{"focus": map[string]any{"state": map[string]any{"active": true}}}, "focus")

	resp := getJSON(t, env.ts, "/api/context?path=focus.state.active")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["value"] != true {
		t.Errorf("expected true, got %v", body["value"])
	}

	resp = getJSON(t, env.ts, "/api/context?path=focus.missing")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for missing path, got %d", resp.StatusCode)
	}

	resp = getJSON(t, env.ts, "/api/context")
	var tree map[string]any
	decodeJSON(t, resp, &tree)
	if _, ok := tree["scheduler"]; !ok {
		t.Errorf("expected scheduler namespace in full tree, got keys %v", tree)
	}
}

func TestSchedulerRunAndStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/scheduler/run", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("run: expected 200, got %d", resp.StatusCode)
	}
	var rec pipeline.RunRecord
	decodeJSON(t, resp, &rec)
	if !rec.Success || rec.RunsCompleted != 1 {
		t.Fatalf("unexpected run record: %+v", rec)
	}

	env.clk.Advance(time.Minute)
	resp = getJSON(t, env.ts, "/api/scheduler")
	var status map[string]any
	decodeJSON(t, resp, &status)
	if got := status["seconds_until_next_run"]; got != 240.0 {
		t.Errorf("expected 240 seconds until next run, got %v", got)
	}

	resp = getJSON(t, env.ts, "/api/suggestion")
	var s breaks.Suggestion
	decodeJSON(t, resp, &s)
	if s.ID != "s-1" {
		t.Errorf("expected suggestion s-1, got %q", s.ID)
	}
}

func TestWellness(t *testing.T) {
	env := newTestEnv(t)

	resp := getJSON(t, env.ts, "/api/wellness")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Breakdown wellness.Breakdown `json:"breakdown"`
		History   []wellness.Sample  `json:"history"`
	}
	decodeJSON(t, resp, &body)
	if body.Breakdown.Score >= 100 {
		t.Errorf("expected a reduced score, got %v", body.Breakdown.Score)
	}
	if len(body.Breakdown.Suggestions) == 0 {
		t.Error("expected advice for low components")
	}
	if len(body.History) != 1 {
		t.Errorf("expected 1 sample, got %d", len(body.History))
	}

	resp = getJSON(t, env.ts, "/api/wellness?limit=x")
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t)

	// Break type resolved from the current suggestion.
	postJSON(t, env.ts, "/api/scheduler/run", nil).Body.Close()
	resp := postJSON(t, env.ts, "/api/feedback", map[string]any{
		"suggestion_id":        "s-1",
		"accepted":             true,
		"completed":            true,
		"effectiveness_rating": 5,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["break_type"] != string(breaks.WalkBreak) {
		t.Errorf("expected walk_break, got %v", body["break_type"])
	}
	if w := body["weight"].(float64); w <= 1.0 {
		t.Errorf("expected weight above 1 after a top rating, got %v", w)
	}
	if taken, _ := env.coach.Compliance(); taken != 1 {
		t.Errorf("expected 1 break taken, got %d", taken)
	}
	if _, ok := body["alternative"]; ok {
		t.Errorf("accepted break should not offer an alternative: %v", body)
	}

	resp = postJSON(t, env.ts, "/api/feedback", map[string]any{"suggestion_id": "s-1", "accepted": false})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201 for skipped break, got %d", resp.StatusCode)
	}
	body = nil
	decodeJSON(t, resp, &body)
	if body["alternative"] != breaks.Alternative(breaks.WalkBreak) {
		t.Errorf("expected walk_break alternative, got %v", body["alternative"])
	}

	resp = postJSON(t, env.ts, "/api/feedback", map[string]any{"break_type": "nap_break"})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for unknown type, got %d", resp.StatusCode)
	}

	resp = postJSON(t, env.ts, "/api/feedback", map[string]any{"break_type": "eye_break", "effectiveness_rating": 9})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for out of range rating, got %d", resp.StatusCode)
	}
}

func TestActivityAndNotifications(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/activity", map[string]string{"app": "vim"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		ActiveApps []string `json:"active_apps"`
	}
	decodeJSON(t, resp, &body)
	if len(body.ActiveApps) != 1 || body.ActiveApps[0] != "vim" {
		t.Errorf("expected [vim], got %v", body.ActiveApps)
	}

	resp = getJSON(t, env.ts, "/api/notifications?limit=0")
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for zero limit, got %d", resp.StatusCode)
	}

	resp = getJSON(t, env.ts, "/api/notifications")
	var records []notify.Record
	decodeJSON(t, resp, &records)
	if len(records) != 0 {
		t.Errorf("expected no notifications yet, got %d", len(records))
	}
}
