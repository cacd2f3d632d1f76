// Package coordinator owns the run lifecycle: lockfile, run record, signal
// handling, scheduler then uploader, terminal status, cache cleanup. It is
// the only writer of the runs table.
package coordinator

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/metrics"
	"github.com/tagwatch/tagwatch/internal/progress"
	"github.com/tagwatch/tagwatch/internal/runlock"
	"github.com/tagwatch/tagwatch/internal/scheduler"
	"github.com/tagwatch/tagwatch/internal/tempcache"
	"github.com/tagwatch/tagwatch/internal/types"
)

// PropertyLister reads the validation targets.
type PropertyLister interface {
	Active(ctx context.Context) ([]types.Property, error)
}

// RunRecorder persists the run record.
type RunRecorder interface {
	Create(ctx context.Context, run types.Run) error
	Finish(ctx context.Context, runID string, status types.RunStatus, completed, failed int) error
	RecordUpload(ctx context.Context, runID string, stats types.UploadStats) error
}

// Sweeper is the scheduler surface the coordinator drives.
type Sweeper interface {
	Run(ctx context.Context, runID string, properties []types.Property) (scheduler.Summary, error)
	Stop()
}

// Flusher uploads the cached results.
type Flusher interface {
	Upload(ctx context.Context, runID string, entries []tempcache.Entry) types.UploadStats
}

// SweeperFactory builds a scheduler bound to one run's cache. Factory
// shape because the cache is per-run.
type SweeperFactory func(cache *tempcache.Cache) Sweeper

// Coordinator executes one full validation run.
type Coordinator struct {
	cfg         config.Config
	properties  PropertyLister
	runs        RunRecorder
	newSweeper  SweeperFactory
	uploader    Flusher
	broadcaster *progress.Broadcaster
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New wires a Coordinator.
func New(cfg config.Config, properties PropertyLister, runs RunRecorder, newSweeper SweeperFactory,
	uploader Flusher, broadcaster *progress.Broadcaster, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcaster == nil {
		broadcaster = progress.NewBroadcaster()
	}
	return &Coordinator{
		cfg:         cfg,
		properties:  properties,
		runs:        runs,
		newSweeper:  newSweeper,
		uploader:    uploader,
		broadcaster: broadcaster,
		metrics:     m,
		logger:      logger,
	}
}

// Execute runs one sweep end to end. The temp cache is cleared on every
// exit path, the lock released on orderly shutdown.
func (c *Coordinator) Execute(ctx context.Context) error {
	lock, err := runlock.Acquire(c.cfg.LockfilePath, c.logger)
	if err != nil {
		return err
	}
	defer lock.Release()

	properties, err := c.properties.Active(ctx)
	if err != nil {
		return err
	}
	if len(properties) == 0 {
		c.logger.Info("no active properties, nothing to do")
		return nil
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	run := types.Run{
		ID:              runID,
		StartedAt:       startedAt,
		Status:          types.RunRunning,
		WorkerCount:     c.cfg.Scheduler.WorkerCount,
		TotalProperties: len(properties),
	}
	if err := c.runs.Create(ctx, run); err != nil {
		return err
	}
	logger := c.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Int("properties", len(properties)))

	cache := tempcache.New(runID, c.cfg.MirrorRoot, logger)
	defer cache.Clear()

	sweeper := c.newSweeper(cache)
	stopSignals := watchSignals(logger, sweeper.Stop)
	defer stopSignals()

	sum, runErr := sweeper.Run(ctx, runID, properties)

	// Upload whatever the sweep produced, even after a failure: partial
	// results beat none, and the cache is cleared regardless.
	entries := cache.ExportForUpload()
	if c.metrics != nil {
		for _, e := range entries {
			c.metrics.ObserveVerdict(e.Verdict.Phase, e.Verdict.Status)
		}
	}
	if len(entries) > 0 {
		stats := c.uploader.Upload(ctx, runID, entries)
		if err := c.runs.RecordUpload(ctx, runID, stats); err != nil {
			logger.Error("recording upload stats failed", zap.Error(err))
		}
		if c.metrics != nil && stats.FailedCount > 0 {
			c.metrics.UploadFailures.Add(float64(stats.FailedCount))
		}
	}

	status := terminalStatus(sum, runErr)
	completed := sum.CompletedPhase1 + sum.Phase2Completed
	if err := c.runs.Finish(ctx, runID, status, completed, sum.Failed); err != nil {
		logger.Error("finalizing run record failed", zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.ObserveRun(status, time.Since(startedAt))
	}

	if runErr != nil {
		c.broadcaster.Publish(progress.Event{
			Type:    progress.EventRunFailed,
			RunID:   runID,
			Message: runErr.Error(),
		})
		logger.Error("run failed", zap.Error(runErr))
		return runErr
	}
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("completed", completed),
		zap.Int("failed", sum.Failed))
	return nil
}

func terminalStatus(sum scheduler.Summary, err error) types.RunStatus {
	switch {
	case sum.Cancelled:
		return types.RunCancelled
	case err != nil:
		return types.RunFailed
	default:
		return types.RunCompleted
	}
}

// watchSignals invokes stop on SIGINT/SIGTERM. The returned func detaches
// the handler.
func watchSignals(logger *zap.Logger, stop func()) func() {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("signal received, stopping run", zap.String("signal", sig.String()))
			stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
