// run_store.go — Run lifecycle rows. Mutated only by the run coordinator.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tagwatch/tagwatch/internal/types"
)

// RunStore persists run records.
type RunStore struct {
	conn *sqlx.DB
}

// Create inserts a new run in status running.
func (s *RunStore) Create(ctx context.Context, run types.Run) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, worker_count, total_properties)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.StartedAt, run.Status, run.WorkerCount, run.TotalProperties)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Finish sets the terminal status and counters.
func (s *RunStore) Finish(ctx context.Context, runID string, status types.RunStatus, completed, failed int) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE runs
		SET status = $2, finished_at = $3, completed_count = $4, failed_count = $5
		WHERE id = $1`,
		runID, status, time.Now(), completed, failed)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// RecordUpload stores the batch-upload statistics.
func (s *RunStore) RecordUpload(ctx context.Context, runID string, stats types.UploadStats) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE runs
		SET upload_completed_at = $2, upload_duration_ms = $3,
		    upload_success_count = $4, upload_failed_count = $5
		WHERE id = $1`,
		runID, stats.CompletedAt, stats.DurationMs, stats.SuccessCount, stats.FailedCount)
	if err != nil {
		return fmt.Errorf("record upload stats for run %s: %w", runID, err)
	}
	return nil
}
