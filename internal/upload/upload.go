// Package upload flushes the temp cache to the datastore and the object
// store after the sweep: verdict rows in chunks, screenshots in parallel,
// then the run's upload statistics. Failures are recorded per chunk and
// never block the caller's cache cleanup.
package upload

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tagwatch/tagwatch/internal/objectstore"
	"github.com/tagwatch/tagwatch/internal/tempcache"
	"github.com/tagwatch/tagwatch/internal/types"
)

const (
	// chunkSize is the verdict insert batch size.
	chunkSize = 50
	// maxChunkAttempts bounds per-chunk retries: 1s, 2s, 4s.
	maxChunkAttempts = 3
	// screenshotConcurrency bounds parallel object-store uploads.
	screenshotConcurrency = 5
)

// chunkBackoffBase is the first chunk retry delay. Variable for tests.
var chunkBackoffBase = time.Second

// VerdictSink is the datastore slice the uploader writes to.
type VerdictSink interface {
	InsertBatch(ctx context.Context, runID string, verdicts []types.Verdict) error
	SetScreenshotURL(ctx context.Context, runID, propertyID string, phase types.Phase, url string) error
}

// Uploader flushes one run's cached results.
type Uploader struct {
	verdicts    VerdictSink
	screenshots objectstore.Uploader
	logger      *zap.Logger
}

// New returns an Uploader. screenshots may be nil when no object store is
// configured; screenshot entries are then skipped with a warning.
func New(verdicts VerdictSink, screenshots objectstore.Uploader, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{verdicts: verdicts, screenshots: screenshots, logger: logger}
}

// Upload writes every cached entry. The returned stats count verdicts;
// screenshot failures are logged but only surface through the verdict row
// missing its URL.
func (u *Uploader) Upload(ctx context.Context, runID string, entries []tempcache.Entry) types.UploadStats {
	start := time.Now()

	verdicts, shots := u.prefilter(entries)
	success, failed := u.uploadVerdicts(ctx, runID, verdicts)
	u.uploadScreenshots(ctx, runID, shots)

	stats := types.UploadStats{
		CompletedAt:  time.Now(),
		DurationMs:   time.Since(start).Milliseconds(),
		SuccessCount: success,
		FailedCount:  failed,
	}
	u.logger.Info("upload finished",
		zap.String("run_id", runID),
		zap.Int("success", success),
		zap.Int("failed", failed),
		zap.Int64("duration_ms", stats.DurationMs))
	return stats
}

// prefilter drops verdicts whose property ID is not a well-formed external
// identifier. Catalog rows created from slugs before their backfill carry
// the slug as ID; those rows must never reach the verdicts table.
func (u *Uploader) prefilter(entries []tempcache.Entry) ([]types.Verdict, []*types.Screenshot) {
	verdicts := make([]types.Verdict, 0, len(entries))
	shots := make([]*types.Screenshot, 0, len(entries))
	for _, e := range entries {
		if _, err := uuid.Parse(e.Verdict.PropertyID); err != nil {
			u.logger.Warn("dropping verdict with malformed property id",
				zap.String("property_id", e.Verdict.PropertyID))
			continue
		}
		verdicts = append(verdicts, e.Verdict)
		if e.Screenshot != nil {
			shot := *e.Screenshot
			shot.Phase = e.Verdict.Phase
			shots = append(shots, &shot)
		}
	}
	return verdicts, shots
}

// uploadVerdicts inserts in chunks of chunkSize, retrying each chunk
// independently. A chunk that exhausts its retries is recorded as failed
// and the remaining chunks still run.
func (u *Uploader) uploadVerdicts(ctx context.Context, runID string, verdicts []types.Verdict) (success, failed int) {
	for offset := 0; offset < len(verdicts); offset += chunkSize {
		end := offset + chunkSize
		if end > len(verdicts) {
			end = len(verdicts)
		}
		chunk := verdicts[offset:end]

		if err := u.withRetry(ctx, func() error {
			return u.verdicts.InsertBatch(ctx, runID, chunk)
		}); err != nil {
			u.logger.Error("verdict chunk failed after retries",
				zap.Int("offset", offset), zap.Int("size", len(chunk)), zap.Error(err))
			failed += len(chunk)
			continue
		}
		success += len(chunk)
	}
	return success, failed
}

// uploadScreenshots pushes images with bounded concurrency and links each
// uploaded URL back to its verdict row.
func (u *Uploader) uploadScreenshots(ctx context.Context, runID string, shots []*types.Screenshot) {
	if len(shots) == 0 {
		return
	}
	if u.screenshots == nil {
		u.logger.Warn("no object store configured, skipping screenshots",
			zap.Int("count", len(shots)))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(screenshotConcurrency)
	for _, shot := range shots {
		g.Go(func() error {
			var url string
			err := u.withRetry(gctx, func() error {
				var perr error
				url, perr = u.screenshots.PutScreenshot(gctx, *shot)
				return perr
			})
			if err != nil {
				u.logger.Error("screenshot upload failed",
					zap.String("property_id", shot.PropertyID), zap.Error(err))
				return nil
			}
			if err := u.verdicts.SetScreenshotURL(gctx, runID, shot.PropertyID, shot.Phase, url); err != nil {
				u.logger.Error("screenshot url update failed",
					zap.String("property_id", shot.PropertyID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// withRetry runs fn up to maxChunkAttempts times with 1/2/4s backoff.
func (u *Uploader) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxChunkAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxChunkAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(chunkBackoffBase << (attempt - 1)):
		}
	}
	return err
}
