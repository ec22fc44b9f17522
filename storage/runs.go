package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"licitascan/models"
)

// =============================================================================
// Runs
// =============================================================================

const runColumns = `
	id, source, started_at, ended_at, status,
	items_found, items_saved, items_updated, duplicates_skipped,
	error_message, errors, warnings, per_record_errors`

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	perRecord, err := json.Marshal(run.PerRecordErrors)
	if err != nil {
		return fmt.Errorf("encode per_record_errors: %w", err)
	}

	query := `
		INSERT INTO runs (source, started_at, status, items_found, items_saved,
			items_updated, duplicates_skipped, error_message, errors, warnings, per_record_errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.Source, run.StartedAt, run.Status, run.ItemsFound, run.ItemsSaved,
		run.ItemsUpdated, run.DuplicatesSkipped, run.ErrorMessage, run.Errors,
		run.Warnings, perRecord,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.Run) error {
	perRecord, err := json.Marshal(run.PerRecordErrors)
	if err != nil {
		return fmt.Errorf("encode per_record_errors: %w", err)
	}

	query := `
		UPDATE runs SET
			ended_at = $2, status = $3, items_found = $4, items_saved = $5,
			items_updated = $6, duplicates_skipped = $7, error_message = $8,
			errors = $9, warnings = $10, per_record_errors = $11
		WHERE id = $1`

	_, err = s.pool.Exec(ctx, query,
		run.ID, run.EndedAt, run.Status, run.ItemsFound, run.ItemsSaved,
		run.ItemsUpdated, run.DuplicatesSkipped, run.ErrorMessage, run.Errors,
		run.Warnings, perRecord,
	)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, source string, limit int) ([]models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if source != "" {
		query += ` WHERE source = $1`
		args = append(args, source)
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]models.Run, error) {
	var runs []models.Run
	for rows.Next() {
		var run models.Run
		var perRecord []byte
		if err := rows.Scan(
			&run.ID, &run.Source, &run.StartedAt, &run.EndedAt, &run.Status,
			&run.ItemsFound, &run.ItemsSaved, &run.ItemsUpdated, &run.DuplicatesSkipped,
			&run.ErrorMessage, &run.Errors, &run.Warnings, &perRecord,
		); err != nil {
			return nil, err
		}
		if len(perRecord) > 0 {
			if err := json.Unmarshal(perRecord, &run.PerRecordErrors); err != nil {
				return nil, fmt.Errorf("decode per_record_errors: %w", err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FailOrphanRuns force-fails runs still pending/running whose start is
// older than the given age. Returns how many were swept.
func (s *PostgresStore) FailOrphanRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET
			status = 'failed',
			ended_at = NOW(),
			error_message = 'orphaned - process restarted while run was active'
		WHERE status IN ('pending', 'running') AND started_at < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// HasActiveRun reports whether a pending or running run exists for the source.
func (s *PostgresStore) HasActiveRun(ctx context.Context, source string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM runs WHERE source = $1 AND status IN ('pending', 'running'))`,
		source).Scan(&exists)
	return exists, err
}

// =============================================================================
// Run logs
// =============================================================================

func (s *PostgresStore) AppendRunLog(ctx context.Context, entry *models.RunLog) error {
	query := `
		INSERT INTO run_logs (run_id, timestamp, level, message, source)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		entry.RunID, entry.Timestamp, entry.Level, entry.Message, entry.Source,
	).Scan(&entry.ID)
}

func (s *PostgresStore) GetRunLogs(ctx context.Context, runID int64) ([]models.RunLog, error) {
	query := `
		SELECT id, run_id, timestamp, level, message, source
		FROM run_logs WHERE run_id = $1 ORDER BY timestamp`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var entry models.RunLog
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Timestamp, &entry.Level, &entry.Message, &entry.Source); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// =============================================================================
// Source stats
// =============================================================================

// BumpSourceStats records the outcome of a finished run for the source.
func (s *PostgresStore) BumpSourceStats(ctx context.Context, source string, status models.RunStatus) error {
	failureDelta := 0
	if status == models.RunStatusFailed {
		failureDelta = 1
	}

	query := `
		INSERT INTO source_stats (source, last_run_at, last_run_status, runs_count, failure_streak)
		VALUES ($1, NOW(), $2, 1, $3)
		ON CONFLICT (source) DO UPDATE SET
			last_run_at = NOW(),
			last_run_status = EXCLUDED.last_run_status,
			runs_count = source_stats.runs_count + 1,
			failure_streak = CASE WHEN $3 = 0 THEN 0 ELSE source_stats.failure_streak + 1 END`

	_, err := s.pool.Exec(ctx, query, source, status, failureDelta)
	return err
}

func (s *PostgresStore) ListSourceStats(ctx context.Context) ([]models.SourceStats, error) {
	query := `
		SELECT source, last_run_at, last_run_status, runs_count, failure_streak
		FROM source_stats ORDER BY source`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.SourceStats
	for rows.Next() {
		var st models.SourceStats
		if err := rows.Scan(&st.Source, &st.LastRunAt, &st.LastRunStatus, &st.RunsCount, &st.FailureStreak); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// =============================================================================
// Alert groups
// =============================================================================

func (s *PostgresStore) ListActiveAlertGroups(ctx context.Context) ([]models.AlertGroup, error) {
	query := `
		SELECT id, name, keywords, active, digest_frequency, last_digest_at, matched_count, created_at, updated_at
		FROM alert_groups WHERE active ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.AlertGroup
	for rows.Next() {
		var g models.AlertGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Keywords, &g.Active, &g.DigestFrequency,
			&g.LastDigestAt, &g.MatchedCount, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// IncrementMatchedCount is best-effort bookkeeping; a lost increment is
// acceptable.
func (s *PostgresStore) IncrementMatchedCount(ctx context.Context, groupID string, n int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alert_groups SET matched_count = matched_count + $2, updated_at = NOW() WHERE id = $1`,
		groupID, n)
	return err
}

func (s *PostgresStore) SetAlertGroupDigestTime(ctx context.Context, groupID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alert_groups SET last_digest_at = $2, updated_at = NOW() WHERE id = $1`,
		groupID, at)
	return err
}
