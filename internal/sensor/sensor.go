// Package sensor supplies the activity readings consumed by the focus agent.
package sensor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// Reading is one sample of user and machine activity.
type Reading struct {
	At            time.Time `json:"at"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	IdleSeconds   float64   `json:"idle_seconds"`
	ActiveApps    []string  `json:"active_apps"`
}

// Reader produces readings.
type Reader interface {
	Read(ctx context.Context) (Reading, error)
}

// appWindow is how long a reported application stays in ActiveApps.
const appWindow = 10 * time.Minute

// Tracker records user input events reported by a desktop helper and
// derives idle time from the most recent one.
type Tracker struct {
	mu   sync.Mutex
	last time.Time
	apps map[string]time.Time
	clk  clock.Clock
}

// NewTracker starts with the user considered active now.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{last: clk.Now(), apps: make(map[string]time.Time), clk: clk}
}

// Touch records input activity, optionally naming the focused application.
func (t *Tracker) Touch(app string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	t.last = now
	if app != "" {
		t.apps[app] = now
	}
}

// IdleSeconds is the time since the last Touch.
func (t *Tracker) IdleSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	idle := t.clk.Now().Sub(t.last).Seconds()
	if idle < 0 {
		return 0
	}
	return idle
}

// ActiveApps lists applications touched within the last ten minutes.
func (t *Tracker) ActiveApps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clk.Now().Add(-appWindow)
	apps := []string{}
	for name, seen := range t.apps {
		if seen.Before(cutoff) {
			delete(t.apps, name)
			continue
		}
		apps = append(apps, name)
	}
	sort.Strings(apps)
	return apps
}

// SystemSampler reads CPU and memory utilisation from the host and idle
// time from a Tracker.
type SystemSampler struct {
	tracker *Tracker
	clk     clock.Clock
	logger  *zap.Logger
}

var _ Reader = (*SystemSampler)(nil)

// NewSystemSampler creates a host sampler.
func NewSystemSampler(tracker *Tracker, clk clock.Clock, logger *zap.Logger) *SystemSampler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SystemSampler{tracker: tracker, clk: clk, logger: logger}
}

// Read samples the host. CPU usage is measured since the previous call.
func (s *SystemSampler) Read(ctx context.Context) (Reading, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Reading{}, fmt.Errorf("read cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("read memory: %w", err)
	}
	r := Reading{
		At:            s.clk.Now(),
		MemoryPercent: vm.UsedPercent,
		ActiveApps:    []string{},
	}
	if len(pct) > 0 {
		r.CPUPercent = pct[0]
	}
	if s.tracker != nil {
		r.IdleSeconds = s.tracker.IdleSeconds()
		r.ActiveApps = s.tracker.ActiveApps()
	}
	s.logger.Debug("system sampled",
		zap.Float64("cpu", r.CPUPercent),
		zap.Float64("memory", r.MemoryPercent),
		zap.Float64("idle_seconds", r.IdleSeconds))
	return r, nil
}

// Static returns fixed readings. It is used for simulation runs and tests
// where metrics are injected rather than measured.
type Static struct {
	mu      sync.Mutex
	reading Reading
	err     error
}

var _ Reader = (*Static)(nil)

// NewStatic returns a reader that always yields r.
func NewStatic(r Reading) *Static {
	return &Static{reading: r}
}

// Set replaces the reading and clears any failure.
func (s *Static) Set(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading, s.err = r, nil
}

// Fail makes subsequent reads return err.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) Read(_ context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Reading{}, s.err
	}
	r := s.reading
	r.ActiveApps = append([]string{}, s.reading.ActiveApps...)
	return r, nil
}
