// Command tagwatch validates analytics wiring across a property catalog
// with headless Chrome.
//
// Modes:
//
//	-mode run          one full two-phase sweep (the scheduled entrypoint)
//	-mode retry-queue  long-lived retry-queue processor
//	-mode once         validate a single URL and print the verdict as JSON
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/browser"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/coordinator"
	"github.com/tagwatch/tagwatch/internal/metrics"
	"github.com/tagwatch/tagwatch/internal/objectstore"
	"github.com/tagwatch/tagwatch/internal/pipeline"
	"github.com/tagwatch/tagwatch/internal/progress"
	"github.com/tagwatch/tagwatch/internal/retryqueue"
	"github.com/tagwatch/tagwatch/internal/scheduler"
	"github.com/tagwatch/tagwatch/internal/store"
	"github.com/tagwatch/tagwatch/internal/tempcache"
	"github.com/tagwatch/tagwatch/internal/types"
	"github.com/tagwatch/tagwatch/internal/upload"
)

func main() {
	var (
		mode       = flag.String("mode", "run", "run | retry-queue | once")
		configPath = flag.String("config", "", "config file path (or TAGWATCH_CONFIG)")
		debug      = flag.Bool("debug", false, "verbose development logging")
		onceURL    = flag.String("url", "", "target URL for -mode once")
		onceGA     = flag.String("expect-ga", "", "expected measurement ID for -mode once")
		onceGTM    = flag.String("expect-gtm", "", "expected container ID for -mode once")
	)
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx := context.Background()
	switch *mode {
	case "run":
		err = runSweep(ctx, cfg, logger)
	case "retry-queue":
		err = runRetryQueue(ctx, cfg, logger)
	case "once":
		err = runOnce(ctx, cfg, logger, *onceURL, *onceGA, *onceGTM)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Fatal("exit", zap.String("mode", *mode), zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runSweep executes one full two-phase sweep and exits.
func runSweep(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := store.Open(ctx, cfg.Datastore.DSN, cfg.Datastore.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	pool, err := browser.NewPool(ctx, cfg.Scheduler.WorkerCount, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	var shots objectstore.Uploader
	if cfg.ObjectStore.Bucket != "" {
		client, err := objectstore.New(ctx, cfg.ObjectStore)
		if err != nil {
			return err
		}
		shots = client
	}

	m := metrics.New()
	m.Serve(cfg.MetricsAddr, logger)
	broadcaster := progress.NewBroadcaster()
	logSubscriber(broadcaster, logger)

	runner := pipeline.NewRunner(logger)
	uploader := upload.New(db.Verdicts, shots, logger)
	factory := func(cache *tempcache.Cache) coordinator.Sweeper {
		return scheduler.New(cfg.Scheduler, pool, runner, cache,
			db.Verdicts, db.Properties, db.RetryQueue, broadcaster, logger)
	}

	coord := coordinator.New(cfg, db.Properties, db.Runs, factory, uploader, broadcaster, m, logger)
	return coord.Execute(ctx)
}

// runRetryQueue starts the long-lived retry-queue processor.
func runRetryQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := store.Open(ctx, cfg.Datastore.DSN, cfg.Datastore.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	pool, err := browser.NewPool(ctx, 1, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := metrics.New()
	m.Serve(cfg.MetricsAddr, logger)

	processor := retryqueue.NewProcessor(db.RetryQueue, db.Properties,
		pipeline.NewRunner(logger), pool, retryqueue.Options{
			TagManagerWait:    cfg.Scheduler.TagManagerWait(),
			AnalyticsDeadline: cfg.Scheduler.Phase2Timeout(),
			Budget:            cfg.Scheduler.Phase2Timeout() + cfg.Scheduler.TagManagerWait(),
		}, logger)

	svc, err := retryqueue.NewService(processor,
		time.Duration(cfg.RetryIntervalMs)*time.Millisecond, logger)
	if err != nil {
		return err
	}
	svc.Start()
	defer svc.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
	return nil
}

// runOnce validates one URL and prints the verdict to stdout.
func runOnce(ctx context.Context, cfg config.Config, logger *zap.Logger, target, expectGA, expectGTM string) error {
	if target == "" {
		return fmt.Errorf("-mode once requires -url")
	}

	pool, err := browser.NewPool(ctx, 1, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	h, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer pool.Release(h)

	prop := types.Property{
		ID:                   uuid.NewString(),
		DisplayName:          target,
		TargetURL:            target,
		ExpectedAnalyticsID:  expectGA,
		ExpectedTagManagerID: expectGTM,
	}

	budget := cfg.Scheduler.Phase2Timeout() + cfg.Scheduler.TagManagerWait()
	pctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	res, err := pipeline.NewRunner(logger).Validate(pctx, h, prop, types.Phase2, "once", pipeline.Options{
		TagManagerWait:    cfg.Scheduler.TagManagerWait(),
		AnalyticsDeadline: cfg.Scheduler.Phase2Timeout(),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Verdict)
}

// logSubscriber mirrors progress events into the structured log.
func logSubscriber(b *progress.Broadcaster, logger *zap.Logger) {
	events, _ := b.Subscribe()
	go func() {
		for ev := range events {
			switch ev.Type {
			case progress.EventProgress:
				if ev.Snapshot != nil {
					logger.Debug("progress",
						zap.Int("phase", ev.Snapshot.Phase),
						zap.Float64("percent", ev.Snapshot.Percent),
						zap.Int("processed_phase1", ev.Snapshot.ProcessedInPhase1),
						zap.Int("phase2_completed", ev.Snapshot.Phase2Completed))
				}
			default:
				logger.Info(string(ev.Type), zap.String("run_id", ev.RunID), zap.String("message", ev.Message))
			}
		}
	}()
}
