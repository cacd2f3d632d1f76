// Package retryqueue re-validates properties whose phase-2 pass failed.
// The processor is stateless: everything it needs lives in the retry_queue
// table, and every status transition is a compare-and-set, so any number
// of processors can run against the same queue.
package retryqueue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/browser"
	"github.com/tagwatch/tagwatch/internal/pipeline"
	"github.com/tagwatch/tagwatch/internal/types"
)

// fetchLimit bounds one processing pass.
const fetchLimit = 50

// QueueStore is the datastore slice holding the queue state machine.
type QueueStore interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]types.RetryQueueEntry, error)
	MarkRetrying(ctx context.Context, id string, at time.Time) (bool, error)
	MarkResolved(ctx context.Context, id string) (bool, error)
	Reschedule(ctx context.Context, id string, attemptCount int, nextRetryAt time.Time) (bool, error)
	MarkPermanentFailure(ctx context.Context, id string, attemptCount int) (bool, error)
}

// PropertySource loads catalog entries for retried properties.
type PropertySource interface {
	ByID(ctx context.Context, id string) (types.Property, error)
}

// Validator runs the validation pipeline. Implemented by *pipeline.Runner.
type Validator interface {
	Validate(ctx context.Context, h *browser.Handle, prop types.Property, phase types.Phase, runID string, opts pipeline.Options) (pipeline.Result, error)
}

// HandlePool hands out browser handles for retry passes.
type HandlePool interface {
	Acquire(ctx context.Context) (*browser.Handle, error)
	Release(h *browser.Handle)
}

// Options carry the phase-2 budgets retried properties run under.
type Options struct {
	TagManagerWait    time.Duration
	AnalyticsDeadline time.Duration
	Budget            time.Duration
}

// PassStats summarizes one processing pass.
type PassStats struct {
	Fetched   int
	Resolved  int
	Requeued  int
	Permanent int
	Skipped   int
}

// Processor drains due retry-queue entries.
type Processor struct {
	queue      QueueStore
	properties PropertySource
	validator  Validator
	pool       HandlePool
	opts       Options
	logger     *zap.Logger
}

// NewProcessor returns a Processor.
func NewProcessor(queue QueueStore, properties PropertySource, validator Validator,
	pool HandlePool, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		queue:      queue,
		properties: properties,
		validator:  validator,
		pool:       pool,
		opts:       opts,
		logger:     logger,
	}
}

// ProcessOnce fetches up to fetchLimit due entries and runs each through
// the pipeline. Entries claimed by another processor are skipped.
func (p *Processor) ProcessOnce(ctx context.Context) (PassStats, error) {
	var stats PassStats

	entries, err := p.queue.FetchDue(ctx, time.Now(), fetchLimit)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		switch p.processEntry(ctx, entry) {
		case outcomeResolved:
			stats.Resolved++
		case outcomeRequeued:
			stats.Requeued++
		case outcomePermanent:
			stats.Permanent++
		case outcomeSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeResolved
	outcomeRequeued
	outcomePermanent
)

func (p *Processor) processEntry(ctx context.Context, entry types.RetryQueueEntry) outcome {
	logger := p.logger.With(
		zap.String("entry_id", entry.ID),
		zap.String("property_id", entry.PropertyID),
		zap.Int("attempt", entry.AttemptCount),
	)

	claimed, err := p.queue.MarkRetrying(ctx, entry.ID, time.Now())
	if err != nil {
		logger.Error("claim failed", zap.Error(err))
		return outcomeSkipped
	}
	if !claimed {
		return outcomeSkipped
	}

	if p.revalidate(ctx, entry, logger) {
		if _, err := p.queue.MarkResolved(ctx, entry.ID); err != nil {
			logger.Error("resolve transition failed", zap.Error(err))
		}
		logger.Info("retry resolved")
		return outcomeResolved
	}

	next := entry.AttemptCount + 1
	if next >= types.MaxRetryAttempts {
		if _, err := p.queue.MarkPermanentFailure(ctx, entry.ID, next); err != nil {
			logger.Error("permanent-failure transition failed", zap.Error(err))
		}
		logger.Warn("retry exhausted, marked permanent")
		return outcomePermanent
	}

	nextRetryAt := time.Now().Add(types.RetryBackoff(next))
	if _, err := p.queue.Reschedule(ctx, entry.ID, next, nextRetryAt); err != nil {
		logger.Error("reschedule transition failed", zap.Error(err))
	}
	logger.Info("retry rescheduled", zap.Time("next_retry_at", nextRetryAt))
	return outcomeRequeued
}

// revalidate runs the full pipeline at phase-2 budgets and reports whether
// the property now validates.
func (p *Processor) revalidate(ctx context.Context, entry types.RetryQueueEntry, logger *zap.Logger) bool {
	prop, err := p.properties.ByID(ctx, entry.PropertyID)
	if err != nil {
		logger.Error("property load failed", zap.Error(err))
		return false
	}

	h, err := p.pool.Acquire(ctx)
	if err != nil {
		logger.Error("browser acquire failed", zap.Error(err))
		return false
	}
	defer p.pool.Release(h)

	pctx, cancel := context.WithTimeout(ctx, p.opts.Budget)
	defer cancel()

	res, err := p.validator.Validate(pctx, h, prop, types.Phase2, entry.RunID, pipeline.Options{
		TagManagerWait:    p.opts.TagManagerWait,
		AnalyticsDeadline: p.opts.AnalyticsDeadline,
	})
	if err != nil {
		logger.Warn("retry pipeline failed", zap.Error(err))
		return false
	}
	return res.Verdict.Status == types.VerdictPassed
}
