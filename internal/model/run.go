package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one specialist run against one
// project. Transitions are pending → processing → {completed | failed};
// terminal states are never re-entered.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether s is a terminal run state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// TrafficLight is the qualitative verdict a specialist attaches to its
// assessment.
type TrafficLight string

const (
	LightVerde    TrafficLight = "verde"
	LightAmarelo  TrafficLight = "amarelo"
	LightVermelho TrafficLight = "vermelho"
)

// ValidateTrafficLight checks a verdict value.
func ValidateTrafficLight(l TrafficLight) error {
	switch l {
	case LightVerde, LightAmarelo, LightVermelho:
		return nil
	}
	return fmt.Errorf("unknown status %q", l)
}

// AgentRun is the execution record of one specialist against one project.
// Keyed by (project_id, agent_id); mutated only by the owning agent task.
type AgentRun struct {
	ProjectID       uuid.UUID       `json:"project_id"`
	AgentID         AgentID         `json:"agent_id"`
	Status          RunStatus       `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	ETASeconds      int             `json:"estimated_time_remaining_seconds"`
	Result          json.RawMessage `json:"result,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Assessment is the schema-validated core every specialist must produce.
// Specialist-specific findings ride in Detalhes; the aggregation engine
// reads only Status and Score.
type Assessment struct {
	Status   TrafficLight   `json:"status"`
	Score    int            `json:"score"`
	Resumo   string         `json:"resumo"`
	Alertas  []string       `json:"alertas"`
	Detalhes map[string]any `json:"detalhes"`
}

// Validate checks the fields aggregation and the API depend on.
func (a Assessment) Validate() error {
	if err := ValidateTrafficLight(a.Status); err != nil {
		return err
	}
	if a.Score < 0 || a.Score > 100 {
		return fmt.Errorf("score %d outside [0,100]", a.Score)
	}
	if a.Resumo == "" {
		return fmt.Errorf("resumo is required")
	}
	return nil
}
