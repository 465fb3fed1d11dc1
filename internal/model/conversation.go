package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TurnRole identifies who produced a conversation turn. The context role
// is reserved for the synthesized project summary injected once per
// (project, agent) session, always at sequence 0.
type TurnRole string

const (
	TurnContext TurnRole = "context"
	TurnUser    TurnRole = "user"
	TurnAgent   TurnRole = "agent"
)

// ValidateTurnRole checks a conversation role value.
func ValidateTurnRole(r TurnRole) error {
	switch r {
	case TurnContext, TurnUser, TurnAgent:
		return nil
	}
	return fmt.Errorf("unknown turn role %q", r)
}

// ConversationTurn is one message in a per-(project, agent) chat log.
// Append-only; sequence numbers are strictly increasing and gap-free
// within a key.
type ConversationTurn struct {
	ProjectID  uuid.UUID       `json:"project_id"`
	AgentID    AgentID         `json:"agent_id"`
	SequenceNo int             `json:"sequence_no"`
	Role       TurnRole        `json:"role"`
	Text       string          `json:"text"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MaxChatMessageLen caps a single user chat message.
const MaxChatMessageLen = 8 * 1024

// ValidateChatMessage checks presence and length of a user chat message.
func ValidateChatMessage(msg string) error {
	if msg == "" {
		return fmt.Errorf("message is required")
	}
	if len(msg) > MaxChatMessageLen {
		return fmt.Errorf("message must be at most %d bytes", MaxChatMessageLen)
	}
	return nil
}
