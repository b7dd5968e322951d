package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `project_id, feature, status, progress, message, run_id, parameters_json,
    error_message, started_at, updated_at, last_heartbeat`

func scanJobState(row scanner) (JobState, error) {
	var (
		state        JobState
		message      sql.NullString
		runID        sql.NullString
		params       sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullString
		updatedAt    string
		heartbeat    sql.NullString
	)
	if err := row.Scan(
		&state.ProjectID,
		&state.Feature,
		&state.Status,
		&state.Progress,
		&message,
		&runID,
		&params,
		&errorMessage,
		&startedAt,
		&updatedAt,
		&heartbeat,
	); err != nil {
		return JobState{}, err
	}
	state.Message = message.String
	state.RunID = runID.String
	state.Parameters = params.String
	state.ErrorMessage = errorMessage.String
	state.StartedAt = parseNullTime(startedAt)
	state.LastHeartbeat = parseNullTime(heartbeat)
	if ts, err := parseTimeString(updatedAt); err == nil {
		state.UpdatedAt = ts
	}
	return state, nil
}

// GetJobState returns the job slot for key. A slot that was never started
// reads as StatusNone.
func (s *Store) GetJobState(ctx context.Context, key JobKey) (JobState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM job_states WHERE project_id = ? AND feature = ?`,
		key.ProjectID, key.Feature,
	)
	state, err := scanJobState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobState{JobKey: key, Status: StatusNone}, nil
	}
	if err != nil {
		return JobState{}, fmt.Errorf("get job state %s: %w", key, err)
	}
	return state, nil
}

// ListJobStates returns one state per feature, in Features order.
func (s *Store) ListJobStates(ctx context.Context, projectID int64) ([]JobState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_states WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list job states: %w", err)
	}
	defer rows.Close()

	found := make(map[Feature]JobState, len(allFeatures))
	for rows.Next() {
		state, err := scanJobState(rows)
		if err != nil {
			return nil, err
		}
		found[state.Feature] = state
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	states := make([]JobState, 0, len(allFeatures))
	for _, feature := range allFeatures {
		if state, ok := found[feature]; ok {
			states = append(states, state)
			continue
		}
		states = append(states, JobState{
			JobKey: JobKey{ProjectID: projectID, Feature: feature},
			Status: StatusNone,
		})
	}
	return states, nil
}

// ListActiveJobs returns every pending or processing slot.
func (s *Store) ListActiveJobs(ctx context.Context) ([]JobState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_states WHERE status IN (?, ?) ORDER BY updated_at`,
		StatusPending, StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var states []JobState
	for rows.Next() {
		state, err := scanJobState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ResetJob claims the slot for a new run: status pending, progress 0.
// It fails with ErrJobActive when the slot is already pending or processing,
// leaving the active job untouched.
func (s *Store) ResetJob(ctx context.Context, key JobKey, runID, message, params string) (JobState, error) {
	var state JobState
	err := retryOnBusy(ctx, func() error {
		return s.WithTx(ctx, func(tx *Tx) error {
			now := s.timestamp()
			if _, err := tx.tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO job_states (project_id, feature, status, progress, updated_at)
                 VALUES (?, ?, ?, 0, ?)`,
				key.ProjectID, key.Feature, StatusNone, now,
			); err != nil {
				return fmt.Errorf("insert job slot: %w", err)
			}
			res, err := tx.tx.ExecContext(ctx,
				`UPDATE job_states
                 SET status = ?, progress = 0, message = ?, run_id = ?, parameters_json = ?,
                     error_message = NULL, started_at = NULL, last_heartbeat = ?, updated_at = ?
                 WHERE project_id = ? AND feature = ? AND status NOT IN (?, ?)`,
				StatusPending, nullableString(message), runID, nullableString(params), now, now,
				key.ProjectID, key.Feature, StatusPending, StatusProcessing,
			)
			if err != nil {
				return fmt.Errorf("reset job: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return ErrJobActive
			}
			row := tx.tx.QueryRowContext(ctx,
				`SELECT `+jobColumns+` FROM job_states WHERE project_id = ? AND feature = ?`,
				key.ProjectID, key.Feature,
			)
			state, err = scanJobState(row)
			return err
		})
	})
	if err != nil {
		return JobState{}, err
	}
	return state, nil
}

// MarkProcessing moves the run from pending to processing. It returns false
// when the slot no longer belongs to runID or was cancelled before pickup.
func (s *Store) MarkProcessing(ctx context.Context, key JobKey, runID, message string) (bool, error) {
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE job_states
         SET status = ?, message = ?, started_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE project_id = ? AND feature = ? AND run_id = ? AND status = ?`,
		StatusProcessing, nullableString(message), now, now, now,
		key.ProjectID, key.Feature, runID, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return applied(res)
}

// UpdateJobProgress records progress for a processing run. Progress never
// decreases; updates from a run that no longer owns the slot are ignored.
func (s *Store) UpdateJobProgress(ctx context.Context, key JobKey, runID string, progress int, message string) (bool, error) {
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE job_states
         SET progress = MAX(progress, ?), message = ?, last_heartbeat = ?, updated_at = ?
         WHERE project_id = ? AND feature = ? AND run_id = ? AND status = ?`,
		progress, nullableString(message), now, now,
		key.ProjectID, key.Feature, runID, StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("update job progress: %w", err)
	}
	return applied(res)
}

// TouchHeartbeat refreshes the lease of a processing run.
func (s *Store) TouchHeartbeat(ctx context.Context, key JobKey, runID string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE job_states SET last_heartbeat = ?
         WHERE project_id = ? AND feature = ? AND run_id = ? AND status = ?`,
		s.timestamp(), key.ProjectID, key.Feature, runID, StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("update heartbeat: %w", err)
	}
	return applied(res)
}

// FinishJob writes a terminal status. Only pending or processing slots are
// changed, so repeated calls are no-ops. An empty runID matches any run.
// Completed jobs end at progress 100; failed and cancelled keep their last
// progress.
func (s *Store) FinishJob(ctx context.Context, key JobKey, runID string, status Status, message, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("finish job: %q is not a terminal status", status)
	}
	query := `UPDATE job_states
         SET status = ?, message = ?, error_message = ?, updated_at = ?,
             progress = CASE WHEN ? = 'completed' THEN 100 ELSE progress END
         WHERE project_id = ? AND feature = ? AND status IN (?, ?)`
	args := []any{
		status, nullableString(message), nullableString(errMsg), s.timestamp(),
		status,
		key.ProjectID, key.Feature, StatusPending, StatusProcessing,
	}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return applied(res)
}

// CancelJob marks an active slot cancelled. It returns false when nothing was
// active.
func (s *Store) CancelJob(ctx context.Context, key JobKey, message string) (bool, error) {
	return s.FinishJob(ctx, key, "", StatusCancelled, message, "")
}

// ReclaimStaleJobs fails processing runs whose heartbeat is older than cutoff
// and pending runs that were never picked up before cutoff.
func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]JobKey, error) {
	var keys []JobKey
	err := retryOnBusy(ctx, func() error {
		keys = keys[:0]
		return s.WithTx(ctx, func(tx *Tx) error {
			limit := formatTime(cutoff)
			rows, err := tx.tx.QueryContext(ctx,
				`SELECT project_id, feature FROM job_states
                 WHERE (status = ? AND COALESCE(last_heartbeat, updated_at) < ?)
                    OR (status = ? AND updated_at < ?)`,
				StatusProcessing, limit, StatusPending, limit,
			)
			if err != nil {
				return fmt.Errorf("select stale jobs: %w", err)
			}
			for rows.Next() {
				var key JobKey
				if err := rows.Scan(&key.ProjectID, &key.Feature); err != nil {
					rows.Close()
					return err
				}
				keys = append(keys, key)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			now := s.timestamp()
			for _, key := range keys {
				if _, err := tx.tx.ExecContext(ctx,
					`UPDATE job_states SET status = ?, message = ?, error_message = ?, updated_at = ?
                     WHERE project_id = ? AND feature = ? AND status IN (?, ?)`,
					StatusFailed, message, message, now,
					key.ProjectID, key.Feature, StatusPending, StatusProcessing,
				); err != nil {
					return fmt.Errorf("fail stale job %s: %w", key, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return keys, nil
}

// FailActiveJobs fails every pending or processing slot. Used at daemon boot,
// when no run from a previous process can still be alive.
func (s *Store) FailActiveJobs(ctx context.Context, message string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE job_states SET status = ?, message = ?, error_message = ?, updated_at = ?
         WHERE status IN (?, ?)`,
		StatusFailed, message, message, s.timestamp(), StatusPending, StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("fail active jobs: %w", err)
	}
	return res.RowsAffected()
}

func applied(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
