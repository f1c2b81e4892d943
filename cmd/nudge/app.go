package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nidhogg/nudge-coach/internal/agents"
	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/bus"
	"github.com/nidhogg/nudge-coach/internal/calendar"
	"github.com/nidhogg/nudge-coach/internal/clock"
	"github.com/nidhogg/nudge-coach/internal/config"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/nidhogg/nudge-coach/internal/llm"
	"github.com/nidhogg/nudge-coach/internal/notify"
	"github.com/nidhogg/nudge-coach/internal/pipeline"
	"github.com/nidhogg/nudge-coach/internal/sensor"
	"github.com/nidhogg/nudge-coach/internal/store"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// persistence is what the durable stores provide.
type persistence interface {
	breaks.PreferenceStore
	wellness.SampleStore
	Close() error
}

var (
	_ persistence = (*store.Postgres)(nil)
	_ persistence = (*store.SQLite)(nil)
)

// app is the wired system.
type app struct {
	cfg         *config.Config
	clock       clock.Clock
	mock        *clock.Mock
	store       *contextstore.Store
	scheduler   *pipeline.Scheduler
	coach       *breaks.Coach
	tracker     *wellness.Tracker
	activity    *sensor.Tracker
	broadcaster *notify.Broadcaster
	calendar    *calendar.FileSource
	forwarder   *bus.ChangeForwarder
	bus         *bus.MessageBus
	db          persistence
	logger      *zap.Logger
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// openPersistence prefers PostgreSQL when a DSN is configured and falls
// back to the local SQLite file.
func openPersistence(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence, error) {
	if cfg.Database.Postgres.DSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, falling back to SQLite", zap.Error(err))
		} else {
			if err := pg.Migrate(ctx, filepath.Join("migrations", "postgres")); err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			return pg, nil
		}
	}
	if cfg.Database.SQLite.Path == "" {
		return nil, nil
	}
	sq, err := store.NewSQLite(cfg.Database.SQLite.Path, logger)
	if err != nil {
		return nil, err
	}
	return sq, nil
}

// buildApp wires every component from cfg. Optional collaborators that fail
// to start are logged and left out.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	mockAt, err := cfg.Mock()
	if err != nil {
		return nil, err
	}
	switch {
	case mockAt.IsZero():
		a.clock = clock.Real{}
	case cfg.TimeSpeed > 0:
		a.clock = clock.NewSimulated(mockAt, cfg.TimeSpeed)
		logger.Info("using simulated time",
			zap.Time("start", mockAt),
			zap.Float64("speed", cfg.TimeSpeed))
	default:
		a.mock = clock.NewMock(mockAt)
		a.clock = a.mock
		logger.Info("using mock time", zap.Time("start", mockAt))
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a.store = contextstore.NewStore(cfg.SnapshotPath(), cfg.BackupDir(), a.clock, logger)
	if err := a.store.Load(""); err != nil {
		logger.Warn("could not restore context snapshot, starting fresh", zap.Error(err))
	}

	db, err := openPersistence(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.db = db

	var prefStore breaks.PreferenceStore = breaks.NewMemoryStore()
	var samples wellness.SampleStore
	if db != nil {
		prefStore, samples = db, db
	}
	prefs := breaks.NewPreferences(prefStore, logger)
	if err := prefs.Load(ctx, a.clock.Now()); err != nil {
		logger.Warn("could not load break preferences", zap.Error(err))
	}
	a.tracker = wellness.NewTracker(a.clock, logger)
	if samples != nil {
		if err := a.tracker.Load(ctx, samples); err != nil {
			logger.Warn("could not load wellness history", zap.Error(err))
		}
	}

	var advisor *breaks.Advisor
	if cfg.LLM.Endpoint != "" {
		client, err := llm.New(cfg.LLM.Provider, llm.Config{
			Endpoint: cfg.LLM.Endpoint,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			Timeout:  time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		if hc, ok := client.(llm.HealthChecker); ok {
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := hc.HealthCheck(hctx); err != nil {
				logger.Warn("language model unreachable, suggestions stay local until it answers",
					zap.String("endpoint", cfg.LLM.Endpoint), zap.Error(err))
			}
			cancel()
		}
		advisor = breaks.NewAdvisor(client, cfg.LLM.Model, logger)
		logger.Info("language model enabled",
			zap.String("provider", cfg.LLM.Provider),
			zap.String("endpoint", cfg.LLM.Endpoint))
	}
	a.coach = breaks.NewCoach(prefs, breaks.NewSelector(prefs, uint64(a.clock.Now().UnixNano())), advisor, a.clock, logger)

	a.broadcaster = notify.NewBroadcaster(logger)
	a.broadcaster.Register(notify.NewLog(logger))
	if sc := cfg.Notify.Slack; sc.Enabled && sc.BotToken != "" {
		a.broadcaster.Register(notify.NewSlack(sc.BotToken, sc.ChannelID, sc.APIURL, logger))
	}
	if dc := cfg.Notify.Discord; dc.Enabled && dc.BotToken != "" {
		d, err := notify.NewDiscord(dc.BotToken, dc.ChannelID, logger)
		if err != nil {
			logger.Warn("Discord unavailable", zap.Error(err))
		} else {
			a.broadcaster.Register(d)
		}
	}
	if cfg.Database.Redis.URL != "" {
		mb, err := bus.NewMessageBus(ctx, cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(err))
		} else {
			a.bus = mb
			a.broadcaster.Register(notify.NewBus(mb))
			a.forwarder = bus.NewChangeForwarder(mb, 256, logger)
			a.forwarder.Attach(a.store)
		}
	}

	var src calendar.Source
	if cfg.Calendar.File != "" {
		a.calendar = calendar.NewFileSource(cfg.Calendar.File, logger)
		src = a.calendar
	}

	a.activity = sensor.NewTracker(a.clock)

	opts := pipeline.Options{
		Interval:     cfg.Interval(),
		Tick:         cfg.Tick(),
		AgentTimeout: cfg.AgentTimeout(),
		Sequence:     cfg.Scheduler.AgentSequence,
	}
	if a.mock != nil {
		// Simulated days: each cycle moves the frozen clock one interval.
		opts.OnCycle = append(opts.OnCycle, func(pipeline.RunRecord) { a.mock.Advance(cfg.Interval()) })
	}
	a.scheduler = pipeline.NewScheduler(a.store, a.clock, opts, logger)
	a.scheduler.Register(agents.FocusKey, agents.NewFocus(a.store, sensor.NewSystemSampler(a.activity, a.clock, logger), cfg.IdleThreshold(), loc, a.clock, logger))
	a.scheduler.Register(agents.EnvironmentKey, agents.NewEnvironment(a.store, src, loc, a.clock, logger))
	a.scheduler.Register(agents.NudgeKey, agents.NewNudge(a.store, a.coach, a.tracker, samples, agents.NudgeOptions{
		BreakInterval: cfg.BreakInterval(),
		MeetingBuffer: cfg.MeetingBuffer(),
	}, a.clock, logger))
	a.scheduler.Register(agents.DeliveryKey, agents.NewDelivery(a.store, a.broadcaster, a.clock, logger))

	return a, nil
}

// startBackground launches the calendar watcher and the change forwarder.
// They stop with ctx.
func (a *app) startBackground(ctx context.Context) {
	if a.calendar != nil {
		if err := a.calendar.Watch(ctx); err != nil {
			a.logger.Warn("calendar watch disabled", zap.Error(err))
		}
	}
	if a.forwarder != nil {
		go a.forwarder.Run(ctx)
	}
}

// Close releases collaborators and writes a final snapshot.
func (a *app) Close() {
	a.scheduler.Stop()
	if a.calendar != nil {
		a.calendar.Stop()
	}
	if _, err := a.store.Snapshot(""); err != nil {
		a.logger.Warn("final snapshot failed", zap.Error(err))
	}
	if err := a.broadcaster.Close(); err != nil {
		a.logger.Warn("close notifiers", zap.Error(err))
	}
	if a.bus != nil {
		a.store.Unsubscribe(bus.ForwarderID)
		a.bus.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
