package biogrow

import (
	"time"

	"github.com/google/uuid"
)

// AgentInfo describes one of the four specialist agents.
type AgentInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// CreateProjectRequest holds the fields for submitting a new project.
// Dossier is the raw content of the uploaded dossier file.
type CreateProjectRequest struct {
	Name        string
	Category    string
	TargetCrop  string
	Description string
	DossierName string
	Dossier     []byte
}

// Project is the server's acknowledgement of a submitted project.
type Project struct {
	ProjectID  uuid.UUID `json:"project_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	TargetCrop string    `json:"target_crop"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  uuid.UUID `json:"created_by"`
}

// ProjectSummary is one row of the project list.
type ProjectSummary struct {
	ProjectID    uuid.UUID  `json:"project_id"`
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	TargetCrop   string     `json:"target_crop"`
	Status       string     `json:"status"`
	OverallScore *int       `json:"overall_score,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	AnalyzedAt   *time.Time `json:"analyzed_at,omitempty"`
}

// AgentProgress is one agent's slice of a status snapshot.
type AgentProgress struct {
	Status          string  `json:"status"`
	ProgressPercent int     `json:"progress_percent"`
	ETASeconds      int     `json:"estimated_time_remaining_seconds"`
	FailureReason   *string `json:"failure_reason,omitempty"`
}

// Status is a per-agent progress snapshot of a running or finished analysis.
type Status struct {
	ProjectID       uuid.UUID                `json:"project_id"`
	Status          string                   `json:"status"`
	Progress        map[string]AgentProgress `json:"progress"`
	OverallProgress int                      `json:"overall_progress_percent"`
}

// AgentOutcome is one agent's contribution to an analysis.
type AgentOutcome struct {
	AgentID   string         `json:"agent_id"`
	AgentName string         `json:"agent_name"`
	AgentRole string         `json:"agent_role"`
	Status    string         `json:"status,omitempty"`
	Score     int            `json:"score"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	Failed    bool           `json:"failed,omitempty"`
}

// Analysis is the aggregated viability verdict for a project.
type Analysis struct {
	ID                  uuid.UUID               `json:"id"`
	ProjectID           uuid.UUID               `json:"project_id"`
	Version             int                     `json:"version"`
	OverallScore        int                     `json:"overall_score"`
	Recommendation      string                  `json:"recommendation"`
	RecommendationText  string                  `json:"recommendation_text"`
	Agents              map[string]AgentOutcome `json:"agents"`
	Alerts              []string                `json:"alerts"`
	ActionItems         []string                `json:"action_items"`
	FinancialProjection map[string]any          `json:"financial_projection,omitempty"`
	AnalyzedAt          time.Time               `json:"analyzed_at"`
}

// ChatMessage is a specialist's reply to a chat message.
type ChatMessage struct {
	ProjectID  uuid.UUID `json:"project_id"`
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name"`
	SequenceNo int       `json:"sequence_no"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConversationTurn is one entry of a per-agent chat history.
type ConversationTurn struct {
	ProjectID  uuid.UUID `json:"project_id"`
	AgentID    string    `json:"agent_id"`
	SequenceNo int       `json:"sequence_no"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Document is a knowledge-base entry.
type Document struct {
	ID            uuid.UUID `json:"doc_id"`
	Title         string    `json:"title"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	RelatedAgents []string  `json:"related_agents"`
	Tags          []string  `json:"tags"`
	Rating        float64   `json:"rating"`
	RatingCount   int       `json:"rating_count"`
	Views         int       `json:"views"`
	SourceURL     *string   `json:"source_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HealthResponse is the server's health report.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}

// ListOptions are pagination options for list endpoints.
type ListOptions struct {
	Limit  int
	Offset int
}
