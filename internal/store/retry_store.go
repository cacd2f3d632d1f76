// retry_store.go — Retry-queue persistence. Every transition is a single-
// row update gated on the prior status, so concurrent processors can never
// double-run one entry: the loser's UPDATE matches zero rows.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tagwatch/tagwatch/internal/types"
)

// RetryQueueStore persists retry-queue entries.
type RetryQueueStore struct {
	conn *sqlx.DB
}

// Enqueue inserts a new pending entry with attempt count 1.
func (s *RetryQueueStore) Enqueue(ctx context.Context, propertyID, runID, reason string, nextRetryAt time.Time) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO retry_queue (
			id, property_id, run_id, reason, attempt_count,
			next_retry_at, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $7)`,
		id, propertyID, runID, reason, nextRetryAt, types.RetryPending, now)
	if err != nil {
		return "", fmt.Errorf("enqueue retry for property %s: %w", propertyID, err)
	}
	return id, nil
}

// FetchDue returns up to limit pending entries whose next_retry_at has
// passed, oldest first.
func (s *RetryQueueStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]types.RetryQueueEntry, error) {
	var entries []types.RetryQueueEntry
	err := s.conn.SelectContext(ctx, &entries, `
		SELECT id, property_id, run_id, reason, attempt_count,
		       last_attempt_at, next_retry_at, status, created_at, updated_at
		FROM retry_queue
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3`,
		types.RetryPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due retry entries: %w", err)
	}
	return entries, nil
}

// MarkRetrying transitions pending → retrying. Returns false when another
// processor already claimed the entry.
func (s *RetryQueueStore) MarkRetrying(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.transition(ctx, `
		UPDATE retry_queue
		SET status = $2, last_attempt_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, types.RetryRetrying, at, types.RetryPending)
}

// MarkResolved transitions retrying → resolved.
func (s *RetryQueueStore) MarkResolved(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, `
		UPDATE retry_queue
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, types.RetryResolved, time.Now(), types.RetryRetrying)
}

// Reschedule transitions retrying → pending with the next attempt count
// and backoff deadline.
func (s *RetryQueueStore) Reschedule(ctx context.Context, id string, attemptCount int, nextRetryAt time.Time) (bool, error) {
	return s.transition(ctx, `
		UPDATE retry_queue
		SET status = $2, attempt_count = $3, next_retry_at = $4, updated_at = $5
		WHERE id = $1 AND status = $6`,
		id, types.RetryPending, attemptCount, nextRetryAt, time.Now(), types.RetryRetrying)
}

// MarkPermanentFailure freezes the entry after the final attempt.
func (s *RetryQueueStore) MarkPermanentFailure(ctx context.Context, id string, attemptCount int) (bool, error) {
	return s.transition(ctx, `
		UPDATE retry_queue
		SET status = $2, attempt_count = $3, updated_at = $4
		WHERE id = $1 AND status = $5`,
		id, types.RetryPermanentFailure, attemptCount, time.Now(), types.RetryRetrying)
}

func (s *RetryQueueStore) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("retry-queue transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retry-queue transition rows: %w", err)
	}
	return n == 1, nil
}
