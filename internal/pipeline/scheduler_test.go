package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) agent(key string, err error) Agent {
	return AgentFunc(func(context.Context) error {
		r.mu.Lock()
		r.calls = append(r.calls, key)
		r.mu.Unlock()
		return err
	})
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestScheduler(t *testing.T, opts Options) (*Scheduler, *contextstore.Store, *clock.Mock) {
	t.Helper()
	dir := t.TempDir()
	clk := clock.NewMock(t0)
	store := contextstore.NewStore(filepath.Join(dir, "ctx.json"), filepath.Join(dir, "backups"), clk, zap.NewNop())
	return NewScheduler(store, clk, opts, zap.NewNop()), store, clk
}

func TestCycleContinuesPastFailingAgent(t *testing.T) {
	seq := []string{"one", "two", "three", "four"}
	s, store, _ := newTestScheduler(t, Options{Interval: time.Minute, Sequence: seq})
	rec := &recorder{}
	s.Register("one", rec.agent("one", nil))
	s.Register("two", AgentFunc(func(ctx context.Context) error {
		_ = rec.agent("two", nil).Run(ctx)
		panic("agent two exploded")
	}))
	s.Register("three", rec.agent("three", nil))
	s.Register("four", rec.agent("four", nil))

	out := s.ScheduledRun(context.Background(), t0)

	assert.Equal(t, seq, rec.snapshot())
	assert.Equal(t, []string{"two"}, out.Failed())
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.RunsCompleted)
	assert.Equal(t, float64(1), store.Get("scheduler.state.runs_completed"))
	assert.Equal(t, false, store.Get("scheduler.state.last_run_success"))
	assert.Equal(t, map[string]any{"one": true, "two": false, "three": true, "four": true},
		store.Get("scheduler.agent_status"))
}

func TestErroringAgentRecordedFailed(t *testing.T) {
	s, _, _ := newTestScheduler(t, Options{Sequence: []string{"a", "b"}})
	s.Register("a", AgentFunc(func(context.Context) error { return errors.New("no suggestion") }))
	s.Register("b", AgentFunc(func(context.Context) error { return nil }))

	out := s.RunCycle(context.Background(), t0)
	require.Len(t, out.Results, 2)
	assert.False(t, out.Results[0].Success)
	assert.Equal(t, "no suggestion", out.Results[0].Error)
	assert.True(t, out.Results[1].Success)
}

func TestUnknownAgentRecordedFailed(t *testing.T) {
	s, _, _ := newTestScheduler(t, Options{Sequence: []string{"ghost"}})

	out := s.RunCycle(context.Background(), t0)
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Contains(t, out.Results[0].Error, ErrUnknownAgent.Error())
}

func TestSequenceReadFromStore(t *testing.T) {
	s, store, _ := newTestScheduler(t, Options{Sequence: []string{"a", "b"}})
	rec := &recorder{}
	s.Register("a", rec.agent("a", nil))
	s.Register("b", rec.agent("b", nil))

	store.Update(map[string]any{"scheduler": map[string]any{"agent_sequence": []string{"b", "a"}}}, "operator")
	s.RunCycle(context.Background(), t0)

	assert.Equal(t, []string{"b", "a"}, rec.snapshot())
}

func TestNextRunMonotonic(t *testing.T) {
	interval := 5 * time.Minute
	s, store, _ := newTestScheduler(t, Options{Interval: interval, Sequence: []string{"ok", "bad"}})
	s.Register("ok", AgentFunc(func(context.Context) error { return nil }))
	s.Register("bad", AgentFunc(func(context.Context) error { return errors.New("fail") }))

	for k := 1; k <= 5; k++ {
		slot := t0.Add(time.Duration(k-1) * interval)
		out := s.ScheduledRun(context.Background(), slot)
		want := t0.Add(time.Duration(k) * interval)
		assert.Equal(t, want, out.NextRunAt)
		assert.Equal(t, want, s.NextRunAt())
		assert.Equal(t, want.Format(time.RFC3339Nano), store.Get("scheduler.state.next_run_at"))
		assert.Equal(t, k, out.RunsCompleted)
	}
}

func TestCatchAllRepublishesNextRun(t *testing.T) {
	interval := time.Minute
	s, store, clk := newTestScheduler(t, Options{
		Interval: interval,
		Sequence: []string{"a"},
		OnCycle:  []func(RunRecord){func(RunRecord) { panic("observer failed") }},
	})
	s.Register("a", AgentFunc(func(context.Context) error { return nil }))
	clk.Advance(10 * time.Second)

	var out RunRecord
	require.NotPanics(t, func() { out = s.ScheduledRun(context.Background(), t0) })

	assert.Equal(t, t0.Add(interval), out.NextRunAt)
	assert.Contains(t, out.Error, "observer failed")
	assert.Equal(t, t0.Add(interval).Format(time.RFC3339Nano), store.Get("scheduler.state.next_run_at"))
	assert.Contains(t, store.Get("scheduler.state.last_error"), "observer failed")
	assert.Equal(t, clk.Now().Format(time.RFC3339Nano), store.Get("scheduler.state.error_time"))
}

func TestCleanCycleClearsLastError(t *testing.T) {
	failed := false
	s, store, clk := newTestScheduler(t, Options{
		Interval: time.Minute,
		Sequence: []string{"a"},
		OnCycle: []func(RunRecord){func(RunRecord) {
			if !failed {
				failed = true
				panic("observer failed")
			}
		}},
	})
	s.Register("a", AgentFunc(func(context.Context) error { return nil }))

	s.ScheduledRun(context.Background(), t0)
	assert.Contains(t, store.Get("scheduler.state.last_error"), "observer failed")

	clk.Advance(time.Minute)
	out := s.ScheduledRun(context.Background(), t0.Add(time.Minute))
	assert.Empty(t, out.Error)
	assert.Nil(t, store.Get("scheduler.state.last_error"))
	assert.Nil(t, store.Get("scheduler.state.error_time"))
	assert.Empty(t, s.Status().Error)
}

func TestAgentTimeout(t *testing.T) {
	s, _, _ := newTestScheduler(t, Options{Sequence: []string{"slow"}, AgentTimeout: 10 * time.Millisecond})
	s.Register("slow", AgentFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	out := s.RunCycle(context.Background(), t0)
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Contains(t, out.Results[0].Error, "deadline exceeded")
}

func TestCountersSurviveRestart(t *testing.T) {
	s, store, clk := newTestScheduler(t, Options{Sequence: []string{"a"}})
	s.Register("a", AgentFunc(func(context.Context) error { return nil }))
	s.RunCycle(context.Background(), t0)
	s.RunCycle(context.Background(), t0.Add(time.Minute))
	path, err := store.Snapshot("")
	require.NoError(t, err)

	restored := contextstore.NewStore(path, "", clk, zap.NewNop())
	require.NoError(t, restored.Load(""))
	again := NewScheduler(restored, clk, Options{Sequence: []string{"a"}}, zap.NewNop())
	again.Register("a", AgentFunc(func(context.Context) error { return nil }))
	out := again.RunCycle(context.Background(), t0.Add(2*time.Minute))
	assert.Equal(t, 3, out.RunsCompleted)
}

func TestStartStopLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	interval := 5 * time.Minute
	s, store, clk := newTestScheduler(t, Options{Interval: interval, Tick: 2 * time.Millisecond, Sequence: []string{"a"}})
	s.Register("a", AgentFunc(func(context.Context) error { return nil }))

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool { return s.Status().RunsCompleted == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, true, store.Get("scheduler.state.active"))
	assert.Equal(t, interval, s.TimeUntilNextRun())

	for k := 2; k <= 4; k++ {
		clk.Advance(interval)
		require.Eventually(t, func() bool { return s.Status().RunsCompleted == k }, time.Second, time.Millisecond)
		assert.Equal(t, t0.Add(time.Duration(k)*interval), s.NextRunAt())
	}

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	s.Stop()
	s.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop within one second")
	}
	assert.Equal(t, false, store.Get("scheduler.state.active"))
}

func TestLoopSkipsMissedSlots(t *testing.T) {
	defer goleak.VerifyNone(t)

	interval := time.Minute
	s, _, clk := newTestScheduler(t, Options{Interval: interval, Tick: 2 * time.Millisecond, Sequence: []string{"a"}})
	s.Register("a", AgentFunc(func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(ctx)
	}()

	require.Eventually(t, func() bool { return s.Status().RunsCompleted == 1 }, time.Second, time.Millisecond)
	clk.Advance(3*interval + 10*time.Second)
	require.Eventually(t, func() bool { return s.Status().RunsCompleted == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, t0.Add(4*interval), s.NextRunAt())

	cancel()
	<-done
}
