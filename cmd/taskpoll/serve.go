package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/taskpoll"
	"github.com/jpalmerr/taskpoll/config"
	"github.com/jpalmerr/taskpoll/internal/history"
	"github.com/jpalmerr/taskpoll/internal/httpwork"
	"github.com/jpalmerr/taskpoll/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a logger for CLI use. format is "text" (tint, for
// terminals) or "json" (for log aggregation).
func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
}

// serveCmd starts the taskpoll runner.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the poller runner",
	Long: `Start the taskpoll runner.

The runner will:
  - Load configuration from the specified YAML file
  - Poll the configured HTTP target at the configured interval
  - Serve the status API and metrics on the configured port

SIGHUP reloads the config file and applies the new poll interval to the
running poller without restarting it. The runner runs until interrupted
(Ctrl+C) or receives SIGTERM.

Example:
  taskpoll serve -c config.yaml
  taskpoll serve --config /etc/taskpoll/config.yaml --log-format json`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().String("log-format", "text", "log output format: text or json")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	// best effort: a .env file is optional
	_ = godotenv.Load()

	logFormat, _ := cmd.Flags().GetString("log-format")
	if logFormat != "text" && logFormat != "json" {
		return fmt.Errorf("invalid log format %q (expected text or json)", logFormat)
	}
	logger := newLogger(logFormat)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"target", cfg.Target.URL,
		"poll_interval", cfg.PollInterval.Duration().String(),
		"buffer_capacity", cfg.BufferCapacity,
	)

	client := httpwork.NewClient()
	defer client.Close()

	// the capacity oracle: a constant allowance, or the current token
	// count of a rate limiter
	var limiter *rate.Limiter
	capacity := func() int { return cfg.Capacity.Fixed }
	if cfg.Capacity.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Capacity.Rate), cfg.Capacity.Burst)
		capacity = func() int { return int(limiter.Tokens()) }
	}

	target := cfg.Target
	work := func(ctx context.Context, payloads []string) (httpwork.Summary, error) {
		if limiter != nil {
			// consume the token the capacity gate reserved for this cycle
			_ = limiter.Allow()
		}
		return client.Submit(ctx, target.Method, target.URL, target.Headers,
			target.Timeout.Duration(), payloads)
	}

	intervalVar := taskpoll.NewDurationVar(cfg.PollInterval.Duration())
	delayVar := taskpoll.NewDurationVar(cfg.PollIntervalDelay.Duration())

	opts := []taskpoll.Option{
		taskpoll.WithIntervalVar(intervalVar),
		taskpoll.WithIntervalDelayVar(delayVar),
		taskpoll.WithBufferCapacity(cfg.BufferCapacity),
		taskpoll.WithWorkTimeout(cfg.WorkTimeout.Duration()),
		taskpoll.WithCapacityFunc(capacity),
		taskpoll.WithLogger(logger),
	}

	var reg *prometheus.Registry
	if cfg.MetricsEnabled() {
		reg = prometheus.NewRegistry()
		opts = append(opts, taskpoll.WithMetrics(taskpoll.NewMetrics(reg)))
	}

	poller, err := taskpoll.New(work, opts...)
	if err != nil {
		return fmt.Errorf("failed to create poller: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcomes := history.NewLog(cfg.HistoryLimit)

	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	srv := server.NewServer(outcomes, cfg.Port, gatherer, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start status server: %w", err)
	}
	logger.Info("status server listening", "port", cfg.Port)

	poller.Start(ctx)

	go watchReload(ctx, configFile, intervalVar, delayVar, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeResults(poller, outcomes, logger)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	done := make(chan struct{})
	go func() {
		poller.Stop()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out",
			"timeout", shutdownTimeout.String(),
			"action", "forcing exit",
		)
	}
	return nil
}

// watchReload applies the poll interval from the config file on SIGHUP.
func watchReload(ctx context.Context, configFile string, intervalVar, delayVar *taskpoll.DurationVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			cfg, err := config.Load(configFile)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			intervalVar.Set(cfg.PollInterval.Duration())
			delayVar.Set(cfg.PollIntervalDelay.Duration())
			logger.Info("config reloaded",
				"poll_interval", cfg.PollInterval.Duration().String(),
				"poll_interval_delay", cfg.PollIntervalDelay.Duration().String(),
			)

		case <-ctx.Done():
			return
		}
	}
}

// consumeResults drains poller outcomes into the history log and the
// structured log until the results channel closes.
func consumeResults(p *taskpoll.Poller[string, httpwork.Summary], outcomes *history.Log, logger *slog.Logger) {
	for res := range p.Results() {
		entry := history.Entry{
			Cycle:     res.Cycle,
			Outcome:   classify(res),
			Args:      res.Args,
			StartedAt: res.StartedAt,
			ElapsedMs: res.Elapsed.Milliseconds(),
		}
		if res.Err != nil {
			msg := res.Err.Error()
			entry.Error = &msg
		}
		outcomes.Record(entry)

		if res.Err != nil {
			logger.Error("cycle failed",
				"cycle", res.Cycle,
				"outcome", entry.Outcome,
				"args", len(res.Args),
				"error", res.Err,
			)
			continue
		}
		logger.Info("cycle complete",
			"cycle", res.Cycle,
			"status", res.Value.StatusCode,
			"args", len(res.Args),
			"latency", res.Value.Latency.String(),
			"body_size", res.Value.BodySize,
		)
	}
}

// classify maps a poller result to a history outcome value.
func classify(res taskpoll.Result[string, httpwork.Summary]) string {
	switch {
	case res.Err == nil:
		return history.OutcomeSuccess
	case res.Err.Kind == taskpoll.KindCapacity:
		return history.OutcomeRejected
	case res.Err.Timeout():
		return history.OutcomeTimeout
	default:
		return history.OutcomeError
	}
}
