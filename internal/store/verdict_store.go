// verdict_store.go — Verdict rows, unique on (run_id, property_id, phase).
// Rows are written only by the batch uploader and only once; the full
// verdict travels in the details JSON blob while the indexed columns carry
// what the dashboard filters on.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tagwatch/tagwatch/internal/types"
)

// VerdictStore persists verdict rows.
type VerdictStore struct {
	conn *sqlx.DB
}

// InsertBatch writes one chunk of verdicts inside a transaction. The whole
// chunk succeeds or fails together so the uploader's retry can safely
// re-run it (ON CONFLICT keeps the first write).
func (s *VerdictStore) InsertBatch(ctx context.Context, runID string, verdicts []types.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin verdict batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, v := range verdicts {
		if err := insertVerdict(ctx, tx, runID, v); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit verdict batch: %w", err)
	}
	return nil
}

func insertVerdict(ctx context.Context, tx *sqlx.Tx, runID string, v types.Verdict) error {
	details, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict details for %s: %w", v.PropertyID, err)
	}
	summary := issueSummary(v)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verdicts (
			id, run_id, property_id, phase, status,
			analytics_id_actual, tag_manager_ids, page_view_detected,
			has_issues, issue_kinds, issue_summary, duration_ms, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id, property_id, phase) DO NOTHING`,
		uuid.NewString(), runID, v.PropertyID, v.Phase, v.Status,
		nullable(v.AnalyticsIDCheck.ChosenActual),
		textArray(v.TagManagerIDCheck.AllFound),
		v.PageViewCheck.Count > 0,
		len(v.Issues) > 0,
		textArray(v.IssueKinds()),
		nullable(summary),
		v.WallClockMs,
		details)
	if err != nil {
		return fmt.Errorf("insert verdict %s/%s phase %d: %w", runID, v.PropertyID, v.Phase, err)
	}
	return nil
}

// SetScreenshotURL stores the uploaded object URL on the verdict row.
func (s *VerdictStore) SetScreenshotURL(ctx context.Context, runID, propertyID string, phase types.Phase, url string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE verdicts SET screenshot_url = $4
		WHERE run_id = $1 AND property_id = $2 AND phase = $3`,
		runID, propertyID, phase, url)
	if err != nil {
		return fmt.Errorf("set screenshot url %s/%s: %w", runID, propertyID, err)
	}
	return nil
}

// TimedOutPhase1Properties returns property IDs whose phase-1 verdict in
// this run recorded a timeout. The phase-2 reconciliation hook reads this
// to recover queue entries lost to a crash.
func (s *VerdictStore) TimedOutPhase1Properties(ctx context.Context, runID string) ([]string, error) {
	var ids []string
	err := s.conn.SelectContext(ctx, &ids, `
		SELECT property_id FROM verdicts
		WHERE run_id = $1 AND phase = 1 AND status = $2
		ORDER BY property_id`,
		runID, types.VerdictTimeout)
	if err != nil {
		return nil, fmt.Errorf("select timed-out phase-1 properties: %w", err)
	}
	return ids, nil
}

// Phase2Properties returns property IDs that already have a phase-2
// verdict in this run.
func (s *VerdictStore) Phase2Properties(ctx context.Context, runID string) ([]string, error) {
	var ids []string
	err := s.conn.SelectContext(ctx, &ids, `
		SELECT property_id FROM verdicts
		WHERE run_id = $1 AND phase = 2
		ORDER BY property_id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("select phase-2 properties: %w", err)
	}
	return ids, nil
}

// issueSummary flattens issue messages for the indexed summary column.
func issueSummary(v types.Verdict) string {
	if len(v.Issues) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v.Issues))
	for _, is := range v.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", is.Kind, is.Message))
	}
	return strings.Join(parts, "; ")
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// textArray renders a Postgres text[] literal.
func textArray(items []string) string {
	if len(items) == 0 {
		return "{}"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = `"` + strings.ReplaceAll(item, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
