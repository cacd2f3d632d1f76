// run.go — Run records and retry-queue entries. Runs are mutated only by
// the run coordinator; retry-queue entries move through a fixed state
// machine gated by compare-and-set updates.
package types

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// UploadStats summarizes the batch upload that closed out a run.
type UploadStats struct {
	CompletedAt  time.Time `json:"completed_at" db:"upload_completed_at"`
	DurationMs   int64     `json:"duration_ms" db:"upload_duration_ms"`
	SuccessCount int       `json:"success_count" db:"upload_success_count"`
	FailedCount  int       `json:"failed_count" db:"upload_failed_count"`
}

// Run is one scheduled validation sweep over the property catalog.
type Run struct {
	ID              string       `json:"id" db:"id"`
	StartedAt       time.Time    `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	Status          RunStatus    `json:"status" db:"status"`
	WorkerCount     int          `json:"worker_count" db:"worker_count"`
	TotalProperties int          `json:"total_properties" db:"total_properties"`
	CompletedCount  int          `json:"completed_count" db:"completed_count"`
	FailedCount     int          `json:"failed_count" db:"failed_count"`
	Upload          *UploadStats `json:"upload,omitempty"`
}

// RetryStatus is the lifecycle state of a retry-queue entry.
type RetryStatus string

const (
	RetryPending          RetryStatus = "pending"
	RetryRetrying         RetryStatus = "retrying"
	RetryResolved         RetryStatus = "resolved"
	RetryPermanentFailure RetryStatus = "permanent_failure"
)

// MaxRetryAttempts caps retry-queue attempts. An entry at the cap is frozen
// as permanent_failure and never re-queued.
const MaxRetryAttempts = 3

// RetryBaseDelay is the first retry-queue backoff step.
const RetryBaseDelay = 30 * time.Minute

// RetryBackoff returns the delay before the next queue attempt after
// attemptCount failed ones: 30, 60, 120 minutes.
func RetryBackoff(attemptCount int) time.Duration {
	d := RetryBaseDelay
	for i := 1; i < attemptCount; i++ {
		d *= 2
	}
	return d
}

// RetryQueueEntry is one persisted phase-2 failure awaiting out-of-band
// re-validation.
type RetryQueueEntry struct {
	ID            string      `json:"id" db:"id"`
	PropertyID    string      `json:"property_id" db:"property_id"`
	RunID         string      `json:"run_id" db:"run_id"`
	Reason        string      `json:"reason" db:"reason"`
	AttemptCount  int         `json:"attempt_count" db:"attempt_count"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	NextRetryAt   time.Time   `json:"next_retry_at" db:"next_retry_at"`
	Status        RetryStatus `json:"status" db:"status"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}
