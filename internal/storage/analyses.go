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

// InsertAnalysis appends a new analysis version for a project and returns
// it. Existing versions are never overwritten; the version number is
// assigned inside the insert to stay race-free under concurrent
// re-analyses.
func (db *DB) InsertAnalysis(ctx context.Context, a model.Analysis) (model.Analysis, error) {
	a.ID = uuid.New()
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = time.Now().UTC()
	}
	if a.Alerts == nil {
		a.Alerts = []string{}
	}
	if a.ActionItems == nil {
		a.ActionItems = []string{}
	}

	agents, err := json.Marshal(a.Agents)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("storage: marshal analysis agents: %w", err)
	}
	alerts, err := json.Marshal(a.Alerts)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("storage: marshal analysis alerts: %w", err)
	}
	items, err := json.Marshal(a.ActionItems)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("storage: marshal action items: %w", err)
	}
	var projection []byte
	if a.FinancialProjection != nil {
		projection, err = json.Marshal(a.FinancialProjection)
		if err != nil {
			return model.Analysis{}, fmt.Errorf("storage: marshal financial projection: %w", err)
		}
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO analyses (id, project_id, version, overall_score, recommendation,
		                       recommendation_text, agents, alerts, action_items,
		                       financial_projection, analyzed_at)
		 VALUES ($1, $2,
		         (SELECT COALESCE(MAX(version), 0) + 1 FROM analyses WHERE project_id = $2),
		         $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING version`,
		a.ID, a.ProjectID, a.OverallScore, string(a.Recommendation),
		a.RecommendationText, agents, alerts, items, projection, a.AnalyzedAt,
	).Scan(&a.Version)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("storage: insert analysis: %w", err)
	}
	return a, nil
}

// GetLatestAnalysis returns the highest-version analysis for a project.
func (db *DB) GetLatestAnalysis(ctx context.Context, projectID uuid.UUID) (model.Analysis, error) {
	var (
		a          model.Analysis
		agents     []byte
		alerts     []byte
		items      []byte
		projection []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, project_id, version, overall_score, recommendation,
		        recommendation_text, agents, alerts, action_items,
		        financial_projection, analyzed_at
		 FROM analyses WHERE project_id = $1
		 ORDER BY version DESC LIMIT 1`, projectID,
	).Scan(&a.ID, &a.ProjectID, &a.Version, &a.OverallScore, &a.Recommendation,
		&a.RecommendationText, &agents, &alerts, &items, &projection, &a.AnalyzedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Analysis{}, ErrNotFound
		}
		return model.Analysis{}, fmt.Errorf("storage: get latest analysis: %w", err)
	}

	if err := json.Unmarshal(agents, &a.Agents); err != nil {
		return model.Analysis{}, fmt.Errorf("storage: unmarshal analysis agents: %w", err)
	}
	if err := json.Unmarshal(alerts, &a.Alerts); err != nil {
		return model.Analysis{}, fmt.Errorf("storage: unmarshal analysis alerts: %w", err)
	}
	if err := json.Unmarshal(items, &a.ActionItems); err != nil {
		return model.Analysis{}, fmt.Errorf("storage: unmarshal action items: %w", err)
	}
	if len(projection) > 0 {
		if err := json.Unmarshal(projection, &a.FinancialProjection); err != nil {
			return model.Analysis{}, fmt.Errorf("storage: unmarshal financial projection: %w", err)
		}
	}
	return a, nil
}
