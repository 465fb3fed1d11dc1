package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ubyagro/biogrow/internal/model"
)

// InitRuns inserts a pending run row for every agent in one transaction.
// Called at dispatch time; a re-analysis replaces the previous rows.
func (db *DB) InitRuns(ctx context.Context, projectID uuid.UUID, agents []model.AgentID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin init runs: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM agent_runs WHERE project_id = $1`, projectID,
	); err != nil {
		return fmt.Errorf("storage: clear previous runs: %w", err)
	}

	now := time.Now().UTC()
	for _, agentID := range agents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_runs (project_id, agent_id, status, started_at)
			 VALUES ($1, $2, 'pending', $3)`,
			projectID, string(agentID), now,
		); err != nil {
			return fmt.Errorf("storage: init run %s: %w", agentID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit init runs: %w", err)
	}
	return nil
}

// MarkRunProcessing transitions a pending run to processing.
func (db *DB) MarkRunProcessing(ctx context.Context, projectID uuid.UUID, agentID model.AgentID, etaSeconds int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs
		 SET status = 'processing', eta_seconds = $3, started_at = now()
		 WHERE project_id = $1 AND agent_id = $2 AND status = 'pending'`,
		projectID, string(agentID), etaSeconds,
	)
	if err != nil {
		return fmt.Errorf("storage: mark run processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// UpdateRunProgress records a progress heartbeat for a processing run.
// Heartbeats against a terminal run are dropped silently; the terminal
// state wins.
func (db *DB) UpdateRunProgress(ctx context.Context, projectID uuid.UUID, agentID model.AgentID, percent, etaSeconds int) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE agent_runs SET progress_percent = $3, eta_seconds = $4
		 WHERE project_id = $1 AND agent_id = $2 AND status = 'processing'`,
		projectID, string(agentID), percent, etaSeconds,
	)
	if err != nil {
		return fmt.Errorf("storage: update run progress: %w", err)
	}
	return nil
}

// CompleteRun marks a processing run completed and stores its result.
// The status guard makes terminal states immutable.
func (db *DB) CompleteRun(ctx context.Context, projectID uuid.UUID, agentID model.AgentID, result json.RawMessage) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs
		 SET status = 'completed', progress_percent = 100, eta_seconds = 0,
		     result = $3, completed_at = now()
		 WHERE project_id = $1 AND agent_id = $2 AND status = 'processing'`,
		projectID, string(agentID), result,
	)
	if err != nil {
		return fmt.Errorf("storage: complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// FailRun marks a non-terminal run failed with a human-readable reason.
func (db *DB) FailRun(ctx context.Context, projectID uuid.UUID, agentID model.AgentID, reason string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs
		 SET status = 'failed', eta_seconds = 0, failure_reason = $3, completed_at = now()
		 WHERE project_id = $1 AND agent_id = $2 AND status IN ('pending', 'processing')`,
		projectID, string(agentID), reason,
	)
	if err != nil {
		return fmt.Errorf("storage: fail run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// GetRuns returns all agent runs for a project keyed by agent ID.
func (db *DB) GetRuns(ctx context.Context, projectID uuid.UUID) (map[model.AgentID]model.AgentRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT project_id, agent_id, status, progress_percent, eta_seconds,
		        result, failure_reason, started_at, completed_at
		 FROM agent_runs WHERE project_id = $1`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get runs: %w", err)
	}
	defer rows.Close()

	out := make(map[model.AgentID]model.AgentRun)
	for rows.Next() {
		var r model.AgentRun
		if err := rows.Scan(&r.ProjectID, &r.AgentID, &r.Status, &r.ProgressPercent,
			&r.ETASeconds, &r.Result, &r.FailureReason, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		out[r.AgentID] = r
	}
	return out, rows.Err()
}

// GetRun returns a single agent run.
func (db *DB) GetRun(ctx context.Context, projectID uuid.UUID, agentID model.AgentID) (model.AgentRun, error) {
	var r model.AgentRun
	err := db.pool.QueryRow(ctx,
		`SELECT project_id, agent_id, status, progress_percent, eta_seconds,
		        result, failure_reason, started_at, completed_at
		 FROM agent_runs WHERE project_id = $1 AND agent_id = $2`,
		projectID, string(agentID),
	).Scan(&r.ProjectID, &r.AgentID, &r.Status, &r.ProgressPercent,
		&r.ETASeconds, &r.Result, &r.FailureReason, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentRun{}, ErrNotFound
		}
		return model.AgentRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return r, nil
}
