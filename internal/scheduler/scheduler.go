// Package scheduler drives the two-phase validation sweep: a fast pass over
// the whole catalog, then a slow second pass over the properties whose
// first pass timed out.
//
// Shared mutable state is limited to the work queue (a closed channel), the
// timed-out set, the phase-2 queue, and the progress snapshot, each behind
// one mutex. Workers never touch the run record; verdicts flow through the
// temp cache to the batch uploader.
package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/browser"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/pipeline"
	"github.com/tagwatch/tagwatch/internal/progress"
	"github.com/tagwatch/tagwatch/internal/tempcache"
	"github.com/tagwatch/tagwatch/internal/types"
)

const (
	// maxInlineAttempts bounds the in-worker retry loop: the first try plus
	// three retries at 1, 2 and 4 seconds.
	maxInlineAttempts = 4

	// phase2TickInterval is the cadence of the time-based phase-2 progress
	// re-estimation.
	phase2TickInterval = 2 * time.Second

	// Progress window split between the phases.
	phase1ProgressShare = 70.0
	phase2ProgressShare = 30.0
)

// inlineBackoffBase is the first inline retry delay. Variable so tests can
// shrink the 1/2/4s ladder.
var inlineBackoffBase = time.Second

// Validator runs one property through the validation pipeline. Implemented
// by *pipeline.Runner; tests script their own.
type Validator interface {
	Validate(ctx context.Context, h *browser.Handle, prop types.Property, phase types.Phase, runID string, opts pipeline.Options) (pipeline.Result, error)
}

// HandlePool is the slice of the browser pool the scheduler uses.
type HandlePool interface {
	Acquire(ctx context.Context) (*browser.Handle, error)
	Release(h *browser.Handle)
	Stop()
}

// VerdictLookup is the datastore slice backing phase-2 reconciliation.
type VerdictLookup interface {
	TimedOutPhase1Properties(ctx context.Context, runID string) ([]string, error)
	Phase2Properties(ctx context.Context, runID string) ([]string, error)
}

// RetryEnqueuer inserts retry-queue entries for failed phase-2 properties.
type RetryEnqueuer interface {
	Enqueue(ctx context.Context, propertyID, runID, reason string, nextRetryAt time.Time) (string, error)
}

// Catalog reloads full property records for queue entries recovered from
// the datastore during reconciliation.
type Catalog interface {
	ByID(ctx context.Context, id string) (types.Property, error)
}

// Summary is the scheduler's account of one sweep.
type Summary struct {
	ProcessedPhase1 int
	CompletedPhase1 int
	Phase2Queued    int
	Phase2Completed int
	Failed          int
	Cancelled       bool
}

// Scheduler owns one sweep over the catalog.
type Scheduler struct {
	cfg         config.SchedulerConfig
	pool        HandlePool
	validator   Validator
	cache       *tempcache.Cache
	verdicts    VerdictLookup
	catalog     Catalog
	retries     RetryEnqueuer
	broadcaster *progress.Broadcaster
	logger      *zap.Logger

	mu          sync.Mutex
	timedOut    map[string]bool
	phase2Queue []types.Property
	snap        progress.Snapshot
	lastPercent float64
	failed      int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a scheduler for one run.
func New(cfg config.SchedulerConfig, pool HandlePool, validator Validator, cache *tempcache.Cache,
	verdicts VerdictLookup, catalog Catalog, retries RetryEnqueuer, broadcaster *progress.Broadcaster, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcaster == nil {
		broadcaster = progress.NewBroadcaster()
	}
	return &Scheduler{
		cfg:         cfg,
		pool:        pool,
		validator:   validator,
		cache:       cache,
		verdicts:    verdicts,
		catalog:     catalog,
		retries:     retries,
		broadcaster: broadcaster,
		logger:      logger,
		timedOut:    make(map[string]bool),
		stopCh:      make(chan struct{}),
	}
}

// Stop cancels the sweep: no new work is dequeued, and every open browser
// context is force-closed so in-flight navigations unblock.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.broadcaster.Publish(progress.Event{
			Type:    progress.EventRunCancelled,
			RunID:   s.cache.RunID(),
			Message: "stop requested",
		})
		s.pool.Stop()
	})
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Run executes both phases. Verdicts land in the temp cache; the caller
// uploads and finalizes the run.
func (s *Scheduler) Run(ctx context.Context, runID string, properties []types.Property) (Summary, error) {
	s.broadcaster.Publish(progress.Event{Type: progress.EventRunStarted, RunID: runID})

	s.mu.Lock()
	s.snap = progress.Snapshot{Phase: 1}
	s.mu.Unlock()

	if err := s.runPhase(ctx, runID, types.Phase1, properties, len(properties)); err != nil {
		return s.summary(), err
	}

	queue, err := s.reconcilePhase2(ctx, runID)
	if err != nil {
		// Reconciliation failure falls back to the in-memory queue: losing
		// the recovery hook is better than losing the whole second pass.
		s.logger.Warn("phase-2 reconciliation failed", zap.Error(err))
		queue = s.phase2Snapshot()
	}

	s.mu.Lock()
	s.snap.Phase = 2
	s.snap.Phase2Queued = len(queue)
	s.mu.Unlock()

	if len(queue) > 0 && !s.stopped() {
		stopTick := s.startPhase2Ticker(runID, len(queue))
		err = s.runPhase(ctx, runID, types.Phase2, queue, len(queue))
		stopTick()
		if err != nil {
			return s.summary(), err
		}
	}

	sum := s.summary()
	if sum.Cancelled {
		s.broadcaster.Publish(progress.Event{Type: progress.EventRunCancelled, RunID: runID})
	} else {
		s.broadcaster.Publish(progress.Event{Type: progress.EventRunCompleted, RunID: runID})
	}
	return sum, nil
}

// runPhase drains one FIFO queue with the worker pool. Each worker holds a
// browser handle for its whole lifetime.
func (s *Scheduler) runPhase(ctx context.Context, runID string, phase types.Phase, props []types.Property, total int) error {
	queue := make(chan types.Property, len(props))
	for _, p := range props {
		queue <- p
	}
	close(queue)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		g.Go(func() error {
			return s.worker(gctx, runID, phase, queue, total)
		})
	}
	return g.Wait()
}

func (s *Scheduler) worker(ctx context.Context, runID string, phase types.Phase, queue <-chan types.Property, total int) error {
	h, err := s.pool.Acquire(ctx)
	if err != nil {
		if s.stopped() {
			return nil
		}
		return err
	}
	defer s.pool.Release(h)

	s.workerActive(+1)
	defer s.workerActive(-1)

	for prop := range queue {
		if s.stopped() || ctx.Err() != nil {
			return nil
		}
		s.setCurrent(prop.ID)
		s.process(ctx, h, runID, phase, prop)
		s.publishProgress(runID, total)
	}
	return nil
}

// process runs one property through the pipeline and classifies the
// outcome. Every phase-1 outcome class and the phase-2 retry-queue path
// live here.
func (s *Scheduler) process(ctx context.Context, h *browser.Handle, runID string, phase types.Phase, prop types.Property) {
	opts, budget := s.phaseOptions(phase)
	startedAt := time.Now()

	res, err := s.runWithInlineRetry(ctx, h, runID, phase, prop, opts, budget)

	// Cancellation drops the property without an outcome: already-classified
	// results are stored, interrupted ones are not.
	if err != nil && (errors.Is(err, context.Canceled) || s.stopped() || ctx.Err() != nil) {
		return
	}

	switch {
	case err == nil && !waitTimedOut(res.Verdict) && !serverErrorVerdict(res.Verdict):
		s.storeResult(phase, res)

	case phase == types.Phase1:
		// Timeout, server-error page, or exhausted transient failure:
		// escalate to phase 2. Config-class failures terminate here.
		if err != nil && !isTimeout(err) && !isRetryable(err) && ctx.Err() == nil {
			s.storeErrorVerdict(phase, prop, startedAt, err)
			return
		}
		v := placeholderVerdict(prop, startedAt, err)
		if err == nil && serverErrorVerdict(res.Verdict) {
			// The early-exit verdict is real evidence; it stands as the
			// phase-1 row instead of a synthesized placeholder.
			v = res.Verdict
			s.cache.AddScreenshot(res.Screenshot)
		}
		s.escalateToPhase2(prop, v)

	default:
		// Phase 2 terminal failure. Retryable classes (timeouts and server
		// errors included) enter the retry queue; the verdict records the
		// failure either way.
		if err != nil {
			s.storeErrorVerdict(phase, prop, startedAt, err)
		} else {
			s.storeResult(phase, res)
		}
		if s.retries != nil && (err == nil || isTimeout(err) || isRetryable(err)) {
			reason := "phase 2 wait deadline exceeded"
			switch {
			case err != nil:
				reason = err.Error()
			case serverErrorVerdict(res.Verdict):
				reason = "server error page"
			}
			if _, qerr := s.retries.Enqueue(ctx, prop.ID, runID, reason, time.Now().Add(types.RetryBaseDelay)); qerr != nil {
				s.logger.Error("retry-queue insert failed",
					zap.String("property_id", prop.ID), zap.Error(qerr))
			}
		}
	}
}

// runWithInlineRetry retries transient transport failures at 1, 2 and 4
// seconds. Timeouts never retry inline.
func (s *Scheduler) runWithInlineRetry(ctx context.Context, h *browser.Handle, runID string, phase types.Phase,
	prop types.Property, opts pipeline.Options, budget time.Duration) (pipeline.Result, error) {

	var res pipeline.Result
	var err error
	for attempt := 1; attempt <= maxInlineAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, budget)
		res, err = s.validator.Validate(pctx, h, prop, phase, runID, opts)
		cancel()

		if err == nil || !isRetryable(err) || s.stopped() || ctx.Err() != nil {
			return res, err
		}
		if attempt == maxInlineAttempts {
			break
		}
		backoff := inlineBackoffBase << (attempt - 1)
		s.logger.Warn("transient failure, retrying inline",
			zap.String("property_id", prop.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-s.stopCh:
			return res, err
		case <-time.After(backoff):
		}
	}
	return res, err
}

// waitTimedOut reports whether the pipeline completed but the event wait
// hit its deadline without a page_view. Phase 1 escalates these; phase 2
// records them and feeds the retry queue.
func waitTimedOut(v types.Verdict) bool {
	return v.PageViewCheck.TimedOut && !v.PageViewCheck.Skipped
}

// storeResult caches a completed verdict unless the late-result guard
// applies: a phase-1 result for a property already moved to phase 2 is
// dropped silently.
func (s *Scheduler) storeResult(phase types.Phase, res pipeline.Result) {
	if phase == types.Phase1 {
		s.mu.Lock()
		dropped := s.timedOut[res.Verdict.PropertyID]
		s.mu.Unlock()
		if dropped {
			return
		}
	}
	if err := s.cache.AddVerdict(res.Verdict); err != nil {
		s.logger.Error("verdict rejected by cache", zap.Error(err))
		return
	}
	s.cache.AddScreenshot(res.Screenshot)
	s.recordOutcome(phase, res.Verdict.Status)
}

func (s *Scheduler) storeErrorVerdict(phase types.Phase, prop types.Property, startedAt time.Time, err error) {
	kind := types.IssueValidationError
	status := types.VerdictError
	msg := "pipeline failed: " + err.Error()
	if isTimeout(err) {
		kind = types.IssueTimeout
		status = types.VerdictTimeout
		msg = "validation deadline exceeded"
	}
	v := types.Verdict{
		PropertyID:  prop.ID,
		Phase:       phase,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
		Status:      status,
		Issues:      []types.Issue{types.CriticalIssue(kind, msg)},
		WallClockMs: time.Since(startedAt).Milliseconds(),
	}
	if cerr := s.cache.AddVerdict(v); cerr != nil {
		s.logger.Error("error verdict rejected by cache", zap.Error(cerr))
		return
	}
	s.recordOutcome(phase, status)
}

// escalateToPhase2 marks the property for the second pass, queues it, and
// caches v as its phase-1 row. v is the placeholder timeout verdict, or the
// real verdict for server-error escalations.
func (s *Scheduler) escalateToPhase2(prop types.Property, v types.Verdict) {
	s.mu.Lock()
	s.timedOut[prop.ID] = true
	s.phase2Queue = append(s.phase2Queue, prop)
	s.snap.ProcessedInPhase1++
	s.snap.Phase2Queued = len(s.phase2Queue)
	s.mu.Unlock()

	s.cache.MarkQueuedForPhase2(prop.ID)
	if err := s.cache.AddVerdict(v); err != nil {
		s.logger.Error("phase-1 verdict rejected by cache", zap.Error(err))
	}
}

// placeholderVerdict is the phase-1 timeout row written when escalation
// happens without a completed pipeline result, so a crash mid-run still
// records the queue.
func placeholderVerdict(prop types.Property, startedAt time.Time, cause error) types.Verdict {
	msg := "phase 1 deadline exceeded; queued for phase 2"
	if cause != nil {
		msg = "phase 1 timed out (" + cause.Error() + "); queued for phase 2"
	}
	return types.Verdict{
		PropertyID:  prop.ID,
		Phase:       types.Phase1,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
		Status:      types.VerdictTimeout,
		Issues:      []types.Issue{types.WarningIssue(types.IssueTimeout, msg)},
		WallClockMs: time.Since(startedAt).Milliseconds(),
	}
}

// reconcilePhase2 merges the in-memory phase-2 queue with the datastore's
// view: every phase-1 timeout verdict for this run without a phase-2
// verdict must be in the queue. Restart-recovery hook.
func (s *Scheduler) reconcilePhase2(ctx context.Context, runID string) ([]types.Property, error) {
	queue := s.phase2Snapshot()
	if s.verdicts == nil {
		return queue, nil
	}

	timedOut, err := s.verdicts.TimedOutPhase1Properties(ctx, runID)
	if err != nil {
		return nil, err
	}
	done, err := s.verdicts.Phase2Properties(ctx, runID)
	if err != nil {
		return nil, err
	}

	queued := make(map[string]bool, len(queue))
	for _, p := range queue {
		queued[p.ID] = true
	}
	doneSet := make(map[string]bool, len(done))
	for _, id := range done {
		doneSet[id] = true
	}
	for _, id := range timedOut {
		if queued[id] || doneSet[id] {
			continue
		}
		prop := types.Property{ID: id}
		if s.catalog != nil {
			if full, cerr := s.catalog.ByID(ctx, id); cerr == nil {
				prop = full
			} else {
				s.logger.Warn("recovered queue entry has no catalog row",
					zap.String("property_id", id), zap.Error(cerr))
			}
		}
		queue = append(queue, prop)
		s.mu.Lock()
		s.timedOut[id] = true
		s.mu.Unlock()
		s.cache.MarkQueuedForPhase2(id)
	}
	return queue, nil
}

func (s *Scheduler) phase2Snapshot() []types.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Property, len(s.phase2Queue))
	copy(out, s.phase2Queue)
	return out
}

// phaseOptions returns the pipeline wait budgets and the per-property hard
// deadline for a phase.
func (s *Scheduler) phaseOptions(phase types.Phase) (pipeline.Options, time.Duration) {
	if phase == types.Phase1 {
		t := s.cfg.Phase1Timeout()
		return pipeline.Options{TagManagerWait: t, AnalyticsDeadline: t}, t
	}
	t := s.cfg.Phase2Timeout()
	w := s.cfg.TagManagerWait()
	return pipeline.Options{TagManagerWait: w, AnalyticsDeadline: t}, t + w
}

// recordOutcome updates the per-phase counters.
func (s *Scheduler) recordOutcome(phase types.Phase, status types.VerdictStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phase == types.Phase1 {
		s.snap.ProcessedInPhase1++
		if status == types.VerdictPassed {
			s.snap.CompletedInPhase1++
		}
	} else {
		s.snap.Phase2Completed++
	}
	if status == types.VerdictFailed || status == types.VerdictError {
		s.failed++
	}
}

func (s *Scheduler) workerActive(delta int) {
	s.mu.Lock()
	s.snap.ActiveWorkers += delta
	s.mu.Unlock()
}

func (s *Scheduler) setCurrent(propertyID string) {
	s.mu.Lock()
	s.snap.CurrentProperty = propertyID
	s.mu.Unlock()
}

// publishProgress emits a completion-based progress event. Completion
// updates trump the phase-2 time-based estimate, so the published percent
// never regresses.
func (s *Scheduler) publishProgress(runID string, total int) {
	s.mu.Lock()
	snap := s.snap
	var pct float64
	if snap.Phase == 1 {
		if total > 0 {
			pct = float64(snap.ProcessedInPhase1) / float64(total) * phase1ProgressShare
		}
	} else {
		pct = phase1ProgressShare
		if total > 0 {
			pct += float64(snap.Phase2Completed) / float64(total) * phase2ProgressShare
		}
	}
	if pct < s.lastPercent {
		pct = s.lastPercent
	}
	s.lastPercent = pct
	snap.Percent = pct
	s.mu.Unlock()

	s.broadcaster.Publish(progress.Event{
		Type:     progress.EventProgress,
		RunID:    runID,
		Snapshot: &snap,
	})
}

// startPhase2Ticker publishes a time-based phase-2 estimate every tick,
// re-deriving the expected duration from how much work is left. The
// returned func stops the ticker.
func (s *Scheduler) startPhase2Ticker(runID string, queued int) func() {
	start := time.Now()
	done := make(chan struct{})
	perBatch := s.cfg.Phase2Timeout() + s.cfg.TagManagerWait()

	go func() {
		ticker := time.NewTicker(phase2TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
			}

			s.mu.Lock()
			remaining := queued - s.snap.Phase2Completed
			if remaining < 0 {
				remaining = 0
			}
			batches := math.Ceil(float64(remaining) / float64(s.cfg.WorkerCount))
			elapsed := time.Since(start)

			pct := s.lastPercent
			if batches > 0 {
				maxDur := time.Duration(batches) * perBatch
				frac := math.Min(elapsed.Seconds()/maxDur.Seconds(), 1)
				est := phase1ProgressShare + frac*phase2ProgressShare
				if est > pct {
					pct = est
				}
			}
			s.lastPercent = pct
			snap := s.snap
			snap.Percent = pct
			snap.Phase2ElapsedMs = elapsed.Milliseconds()
			s.snap.Phase2ElapsedMs = snap.Phase2ElapsedMs
			s.mu.Unlock()

			s.broadcaster.Publish(progress.Event{
				Type:     progress.EventProgress,
				RunID:    runID,
				Snapshot: &snap,
			})
		}
	}()
	return func() { close(done) }
}

func (s *Scheduler) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ProcessedPhase1: s.snap.ProcessedInPhase1,
		CompletedPhase1: s.snap.CompletedInPhase1,
		Phase2Queued:    s.snap.Phase2Queued,
		Phase2Completed: s.snap.Phase2Completed,
		Failed:          s.failed,
		Cancelled:       s.stopped(),
	}
}
