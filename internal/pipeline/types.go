package pipeline

import (
	"context"
	"errors"
	"time"
)

// Namespace is the context-store namespace owned by the scheduler.
const Namespace = "scheduler"

// DefaultSequence is the agent order used when none is configured.
var DefaultSequence = []string{"focus", "environment", "nudge", "delivery"}

var (
	// ErrUnknownAgent is recorded for sequence keys with no registered agent.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrAgentPanic wraps a recovered agent panic.
	ErrAgentPanic = errors.New("agent panicked")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Agent is one pipeline step. A nil error means success.
type Agent interface {
	Run(ctx context.Context) error
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context) error

// Run implements Agent.
func (f AgentFunc) Run(ctx context.Context) error { return f(ctx) }

// AgentResult is the outcome of one agent within a cycle.
type AgentResult struct {
	Key      string        `json:"key"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunRecord describes the most recent cycle. It is replaced every cycle;
// only RunsCompleted accumulates.
type RunRecord struct {
	Results       []AgentResult `json:"results"`
	RanAt         time.Time     `json:"ran_at"`
	RunsCompleted int           `json:"runs_completed"`
	NextRunAt     time.Time     `json:"next_run_at"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
}

// Failed lists the keys of agents that failed in this cycle.
func (r RunRecord) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res.Key)
		}
	}
	return out
}

// Options configures a Scheduler.
type Options struct {
	// Interval between cycle start slots.
	Interval time.Duration
	// Tick is the polling granularity of the run loop and the bound on
	// how long Stop takes to be observed.
	Tick time.Duration
	// AgentTimeout, when positive, is the deadline handed to each agent.
	// Agents observe it cooperatively.
	AgentTimeout time.Duration
	// Sequence is used when the store carries no agent_sequence.
	Sequence []string
	// OnCycle observers run after bookkeeping and the snapshot.
	OnCycle []func(RunRecord)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 300 * time.Second
	}
	if o.Tick <= 0 || o.Tick > time.Second {
		o.Tick = time.Second
	}
	if len(o.Sequence) == 0 {
		o.Sequence = DefaultSequence
	}
	return o
}
