package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType labels a progress notification fanned out over pg_notify and
// the SSE broker.
type EventType string

const (
	EventRunProgress   EventType = "run_progress"
	EventRunTerminal   EventType = "run_terminal"
	EventAnalysisReady EventType = "analysis_ready"
)

// ValidateEventType checks an event type value.
func ValidateEventType(t EventType) error {
	switch t {
	case EventRunProgress, EventRunTerminal, EventAnalysisReady:
		return nil
	}
	return fmt.Errorf("unknown event type %q", t)
}

// Event is the payload published on the analysis notification channel.
// AgentID is empty for project-level events such as analysis_ready.
type Event struct {
	Type            EventType `json:"type"`
	ProjectID       uuid.UUID `json:"project_id"`
	AgentID         AgentID   `json:"agent_id,omitempty"`
	Status          string    `json:"status,omitempty"`
	ProgressPercent int       `json:"progress_percent,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
