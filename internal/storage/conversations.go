package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ubyagro/biogrow/internal/model"
)

// AppendTurn appends one conversation turn at the next sequence number
// for its (project, agent) key and returns the stored turn. A
// transaction-scoped advisory lock on the key serializes concurrent
// appends so sequence numbers stay gap-free; appends to different keys
// do not contend.
func (db *DB) AppendTurn(ctx context.Context, projectID uuid.UUID, agentID model.AgentID, role model.TurnRole, text string, payload json.RawMessage) (model.ConversationTurn, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.ConversationTurn{}, fmt.Errorf("storage: begin append turn: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
		projectID.String(), string(agentID),
	); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("storage: lock conversation: %w", err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_no), -1) + 1
		 FROM conversation_turns
		 WHERE project_id = $1 AND agent_id = $2`,
		projectID, string(agentID),
	).Scan(&next); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("storage: next sequence: %w", err)
	}

	turn := model.ConversationTurn{
		ProjectID:  projectID,
		AgentID:    agentID,
		SequenceNo: next,
		Role:       role,
		Text:       text,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_turns (project_id, agent_id, sequence_no, role, text, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.ProjectID, string(turn.AgentID), turn.SequenceNo, string(turn.Role),
		turn.Text, turn.Payload, turn.CreatedAt,
	); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("storage: insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("storage: commit append turn: %w", err)
	}
	return turn, nil
}

// ListTurns returns all turns for a (project, agent) key in sequence order.
func (db *DB) ListTurns(ctx context.Context, projectID uuid.UUID, agentID model.AgentID) ([]model.ConversationTurn, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT project_id, agent_id, sequence_no, role, text, payload, created_at
		 FROM conversation_turns
		 WHERE project_id = $1 AND agent_id = $2
		 ORDER BY sequence_no`,
		projectID, string(agentID),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list turns: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		if err := rows.Scan(&t.ProjectID, &t.AgentID, &t.SequenceNo, &t.Role,
			&t.Text, &t.Payload, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTurns returns the number of turns stored for a (project, agent) key.
func (db *DB) CountTurns(ctx context.Context, projectID uuid.UUID, agentID model.AgentID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_turns WHERE project_id = $1 AND agent_id = $2`,
		projectID, string(agentID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count turns: %w", err)
	}
	return n, nil
}
