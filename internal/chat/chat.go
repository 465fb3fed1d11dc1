// Package chat runs the per-agent follow-up conversations. Every
// project/agent pair holds one persisted conversation; the first
// message injects the project context as turn zero so the specialist
// answers grounded in the analyzed project.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/storage"
)

// Chatter answers one conversation message. *agent.Specialist
// implements it.
type Chatter interface {
	Chat(ctx context.Context, history []model.ConversationTurn, message string) (string, error)
}

// Service persists conversations and relays messages to specialists.
type Service struct {
	db          *storage.DB
	specialists map[model.AgentID]Chatter
	timeout     time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a chat Service. timeout bounds one specialist reply.
func New(db *storage.DB, specialists map[model.AgentID]Chatter, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Service{
		db:          db,
		specialists: specialists,
		timeout:     timeout,
		logger:      logger,
		locks:       map[string]*sync.Mutex{},
	}
}

// conversationLock returns the mutex serializing one (project, agent)
// conversation. A whole Send turn runs under it, so the count-zero check
// and the context injection cannot interleave across callers.
func (s *Service) conversationLock(projectID uuid.UUID, agentID model.AgentID) *sync.Mutex {
	key := projectID.String() + ":" + string(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Send relays a user message to the agent's conversation and returns the
// persisted reply turn. The project context is injected exactly once, as
// the first turn of the conversation.
func (s *Service) Send(ctx context.Context, project model.Project, agentID model.AgentID, message string) (model.ConversationTurn, error) {
	if err := model.ValidateAgentID(agentID); err != nil {
		return model.ConversationTurn{}, err
	}
	if err := model.ValidateChatMessage(message); err != nil {
		return model.ConversationTurn{}, err
	}
	specialist, ok := s.specialists[agentID]
	if !ok {
		return model.ConversationTurn{}, fmt.Errorf("chat: agent %s not configured", agentID)
	}

	lock := s.conversationLock(project.ID, agentID)
	lock.Lock()
	defer lock.Unlock()

	count, err := s.db.CountTurns(ctx, project.ID, agentID)
	if err != nil {
		return model.ConversationTurn{}, err
	}
	if count == 0 {
		if _, err := s.db.AppendTurn(ctx, project.ID, agentID, model.TurnContext, contextText(project), nil); err != nil {
			return model.ConversationTurn{}, err
		}
	}

	history, err := s.db.ListTurns(ctx, project.ID, agentID)
	if err != nil {
		return model.ConversationTurn{}, err
	}
	if _, err := s.db.AppendTurn(ctx, project.ID, agentID, model.TurnUser, message, nil); err != nil {
		return model.ConversationTurn{}, err
	}

	replyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := specialist.Chat(replyCtx, history, message)
	if err != nil {
		return model.ConversationTurn{}, fmt.Errorf("chat: agent %s: %w", agentID, err)
	}

	turn, err := s.db.AppendTurn(ctx, project.ID, agentID, model.TurnAgent, reply, nil)
	if err != nil {
		return model.ConversationTurn{}, err
	}
	s.logger.Debug("chat turn completed",
		"project_id", project.ID, "agent", agentID, "sequence_no", turn.SequenceNo)
	return turn, nil
}

// History returns the full conversation for one project/agent pair,
// context turn included, in sequence order.
func (s *Service) History(ctx context.Context, projectID uuid.UUID, agentID model.AgentID) ([]model.ConversationTurn, error) {
	if err := model.ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	return s.db.ListTurns(ctx, projectID, agentID)
}

// contextText renders the one-time project context turn.
func contextText(p model.Project) string {
	var b strings.Builder
	b.WriteString("[CONTEXTO DO PROJETO]\n")
	fmt.Fprintf(&b, "Nome: %s\n", p.Name)
	fmt.Fprintf(&b, "Categoria: %s\n", p.Category)
	fmt.Fprintf(&b, "Cultura-alvo: %s\n", p.TargetCrop)
	fmt.Fprintf(&b, "Status: %s\n", p.Status)
	if p.Description != nil && *p.Description != "" {
		fmt.Fprintf(&b, "Descrição: %s\n", *p.Description)
	}
	return b.String()
}
