package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nudge-coach/internal/api"
	"github.com/nidhogg/nudge-coach/internal/config"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var configPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "nudge",
		Short:         "Wellness break coach",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	root.AddCommand(serveCmd(), runCmd(), scoreCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nudge:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path from the flag, then CONFIG_PATH.
func loadConfig() (*config.Config, *zap.Logger, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("config loaded", zap.String("path", path))
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext()
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			handler := api.NewHandler(a.store, a.scheduler, a.coach, a.tracker, a.activity, a.broadcaster, logger)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			a.startBackground(gctx)
			g.Go(func() error {
				return a.scheduler.Start(gctx)
			})
			g.Go(func() error {
				logger.Info("nudge listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				a.scheduler.Stop()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

func runCmd() *cobra.Command {
	var duration, interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler for a bounded time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if interval > 0 {
				cfg.Scheduler.IntervalSeconds = int(interval.Seconds())
				if cfg.Scheduler.IntervalSeconds < 1 {
					return errors.New("--interval must be at least 1s")
				}
			}

			ctx, stop := signalContext()
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.startBackground(ctx)

			if err := a.scheduler.Start(ctx); err != nil {
				return err
			}
			rec := a.scheduler.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "cycles completed: %d, last success: %t\n", rec.RunsCompleted, rec.Success)
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", time.Minute, "how long to run")
	cmd.Flags().DurationVar(&interval, "interval", 0, "override the scheduler interval")
	return cmd
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Print the wellness breakdown from the latest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st := contextstore.NewStore(cfg.SnapshotPath(), "", nil, logger)
			if err := st.Load(""); err != nil {
				return err
			}
			raw, ok := st.Lookup("nudge.wellness")
			if !ok {
				return fmt.Errorf("no wellness score in %s", cfg.SnapshotPath())
			}
			var b wellness.Breakdown
			if err := contextstore.Decode(raw, &b); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		},
	}
}
