package model

import (
	"time"

	"github.com/google/uuid"
)

// Recommendation is the tri-state viability verdict for a project.
type Recommendation string

const (
	RecViavel           Recommendation = "VIAVEL"
	RecViavelComAjustes Recommendation = "VIAVEL_COM_AJUSTES"
	RecNaoViavel        Recommendation = "NAO_VIAVEL"
)

// AgentOutcome is the per-agent slice of a persisted analysis.
type AgentOutcome struct {
	AgentID   AgentID        `json:"agent_id"`
	AgentName string         `json:"agent_name"`
	AgentRole string         `json:"agent_role"`
	Status    TrafficLight   `json:"status,omitempty"`
	Score     int            `json:"score"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	Failed    bool           `json:"failed,omitempty"`
}

// Analysis is the aggregated outcome of all specialist runs for one
// project. Append-only: a re-analysis writes a new version, never
// overwrites an old one.
type Analysis struct {
	ID                  uuid.UUID                `json:"id"`
	ProjectID           uuid.UUID                `json:"project_id"`
	Version             int                      `json:"version"`
	OverallScore        int                      `json:"overall_score"`
	Recommendation      Recommendation           `json:"recommendation"`
	RecommendationText  string                   `json:"recommendation_text"`
	Agents              map[AgentID]AgentOutcome `json:"agents"`
	Alerts              []string                 `json:"alerts"`
	ActionItems         []string                 `json:"action_items"`
	FinancialProjection map[string]any           `json:"financial_projection,omitempty"`
	AnalyzedAt          time.Time                `json:"analyzed_at"`
}
