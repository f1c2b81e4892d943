package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"go.uber.org/zap"
)

// Scheduler runs the agent sequence once per interval slot. Agent failures
// are logged and recorded without stopping the cycle, and a next-run time
// is published after every cycle whatever happened inside it.
type Scheduler struct {
	store  *contextstore.Store
	handle *contextstore.Handle
	clock  clock.Clock
	opts   Options
	logger *zap.Logger

	agentsMu sync.RWMutex
	agents   map[string]Agent

	runMu sync.Mutex // serializes cycles

	mu      sync.RWMutex
	nextRun time.Time
	last    RunRecord

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler writing to the store's scheduler
// namespace. Initial state is seeded without clobbering counters restored
// from a snapshot.
func NewScheduler(store *contextstore.Store, clk clock.Clock, opts Options, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	opts = opts.withDefaults()
	s := &Scheduler{
		store:  store,
		handle: store.Handle(Namespace),
		clock:  clk,
		opts:   opts,
		logger: logger,
		agents: make(map[string]Agent),
		stopCh: make(chan struct{}),
	}

	status := make(map[string]any, len(opts.Sequence))
	for _, key := range opts.Sequence {
		status[key] = false
	}
	s.handle.Seed(map[string]any{
		"state": map[string]any{
			"active":               false,
			"last_run":             nil,
			"next_run_at":          nil,
			"runs_completed":       0,
			"run_interval_seconds": opts.Interval.Seconds(),
			"run_interval_minutes": opts.Interval.Minutes(),
		},
		"agent_sequence": opts.Sequence,
		"agent_status":   status,
	})
	s.handle.Update(map[string]any{"state": map[string]any{
		"run_interval_seconds": opts.Interval.Seconds(),
		"run_interval_minutes": opts.Interval.Minutes(),
	}})
	return s
}

// Register adds or replaces the agent for key.
func (s *Scheduler) Register(key string, agent Agent) {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	s.agents[key] = agent
}

// Interval returns the configured cycle interval.
func (s *Scheduler) Interval() time.Duration { return s.opts.Interval }

// Start runs one cycle immediately, then polls every tick and runs a cycle
// whenever the clock reaches the next slot. It blocks until Stop is called
// or ctx is cancelled. A scheduler can be started once.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.handle.Update(map[string]any{"state": map[string]any{"active": true}})
	defer s.handle.Update(map[string]any{"state": map[string]any{"active": false}})

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.Duration("tick", s.opts.Tick))

	s.ScheduledRun(ctx, s.clock.Now())

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", zap.String("reason", "context done"))
			return nil
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			now := s.clock.Now()
			next := s.NextRunAt()
			if now.Before(next) {
				continue
			}
			slot := next
			for !now.Before(slot.Add(s.opts.Interval)) {
				slot = slot.Add(s.opts.Interval)
			}
			if skipped := int(slot.Sub(next) / s.opts.Interval); skipped > 0 {
				s.logger.Warn("skipped missed cycles", zap.Int("count", skipped))
			}
			s.ScheduledRun(ctx, slot)
		}
	}
}

// Stop signals the run loop to exit. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// FireNow runs one cycle at the current time, serialized with the loop.
func (s *Scheduler) FireNow(ctx context.Context) RunRecord {
	return s.ScheduledRun(ctx, s.clock.Now())
}

// NextRunAt returns the published next slot, zero before the first cycle.
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRun
}

// TimeUntilNextRun returns the time left before the next slot, zero when it
// is unknown or already due.
func (s *Scheduler) TimeUntilNextRun() time.Duration {
	next := s.NextRunAt()
	if next.IsZero() {
		return 0
	}
	if d := next.Sub(s.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Status returns the record of the latest cycle.
func (s *Scheduler) Status() RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.last
	rec.Results = append([]AgentResult(nil), s.last.Results...)
	return rec
}

// ScheduledRun is the catch-all wrapper around RunCycle. Anything escaping
// the per-agent guard is logged and recorded, and next_run_at is still
// recomputed from slot and republished.
func (s *Scheduler) ScheduledRun(ctx context.Context, slot time.Time) (rec RunRecord) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("cycle failed: %v", r)
		next := slot.Add(s.opts.Interval)
		now := s.clock.Now()

		s.mu.Lock()
		s.nextRun = next
		s.last.NextRunAt = next
		s.last.Error = err.Error()
		rec = s.last
		s.mu.Unlock()

		s.handle.Update(map[string]any{"state": map[string]any{
			"next_run_at": next,
			"last_error":  err.Error(),
			"error_time":  now,
		}})
		s.logger.Error("scheduled run failed",
			zap.Error(err),
			zap.Time("next_run_at", next))
	}()
	return s.RunCycle(ctx, slot)
}

// RunCycle executes the agent sequence in order and records the outcome.
func (s *Scheduler) RunCycle(ctx context.Context, slot time.Time) RunRecord {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	next := slot.Add(s.opts.Interval)
	s.mu.Lock()
	s.nextRun = next
	s.mu.Unlock()

	sequence := s.sequence()
	s.logger.Info("running agent cycle", zap.Strings("sequence", sequence))

	results := make([]AgentResult, 0, len(sequence))
	status := make(map[string]any, len(sequence))
	success := true
	for _, key := range sequence {
		res := s.runAgent(ctx, key)
		results = append(results, res)
		status[key] = res.Success
		success = success && res.Success
	}

	runs, _ := s.handle.GetInt(Namespace + ".state.runs_completed")
	runs++
	ranAt := s.clock.Now()

	rec := RunRecord{
		Results:       results,
		RanAt:         ranAt,
		RunsCompleted: runs,
		NextRunAt:     next,
		Success:       success,
	}

	s.handle.Update(map[string]any{
		"state": map[string]any{
			"last_run":         ranAt,
			"next_run_at":      next,
			"runs_completed":   runs,
			"last_run_success": success,
			"last_error":       nil,
			"error_time":       nil,
		},
		"agent_status": status,
	})

	s.mu.Lock()
	s.last = rec
	s.mu.Unlock()

	s.logger.Info("agent cycle completed",
		zap.Bool("success", success),
		zap.Int("runs_completed", runs),
		zap.Strings("failed", rec.Failed()),
		zap.Time("next_run_at", next))

	// Persistence failures are logged by the store and do not fail the cycle.
	_, _ = s.store.Snapshot("")

	for _, fn := range s.opts.OnCycle {
		fn(rec)
	}
	return rec
}

func (s *Scheduler) sequence() []string {
	raw, ok := s.store.Lookup(Namespace + ".agent_sequence")
	if !ok {
		return s.opts.Sequence
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return s.opts.Sequence
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if key, ok := v.(string); ok && key != "" {
			out = append(out, key)
		}
	}
	if len(out) == 0 {
		return s.opts.Sequence
	}
	return out
}

func (s *Scheduler) runAgent(ctx context.Context, key string) (res AgentResult) {
	res.Key = key
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	s.agentsMu.RLock()
	agent, ok := s.agents[key]
	s.agentsMu.RUnlock()
	if !ok {
		res.Error = fmt.Errorf("%w: %s", ErrUnknownAgent, key).Error()
		s.logger.Warn("unknown agent in sequence", zap.String("agent", key))
		return res
	}

	if s.opts.AgentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.AgentTimeout)
		defer cancel()
	}

	err := s.invoke(ctx, agent)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("agent exceeded %s: %w", s.opts.AgentTimeout, ctx.Err())
	}
	if err != nil {
		res.Error = err.Error()
		s.logger.Warn("agent failed",
			zap.String("agent", key),
			zap.Error(err))
		return res
	}
	res.Success = true
	s.logger.Debug("agent completed", zap.String("agent", key))
	return res
}

func (s *Scheduler) invoke(ctx context.Context, agent Agent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAgentPanic, r)
		}
	}()
	return agent.Run(ctx)
}
