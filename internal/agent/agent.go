// Package agent implements the analysis specialists. Each specialist
// wraps the same run loop around a distinct persona: instructions, a
// tool subset, and the shared assessment output contract.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ubyagro/biogrow/internal/generation"
	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/tool"
)

// chatFallback is returned when the model produces an empty answer.
const chatFallback = "Desculpe, não consegui gerar resposta."

// SchemaValidationError reports output that failed the assessment
// contract twice, after one corrective retry.
type SchemaValidationError struct {
	Agent model.AgentID
	Err   error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("agent %s: output failed validation: %v", e.Agent, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// ProgressFunc receives coarse completion percentages during a run.
// Implementations must be fast; they are called on the run goroutine.
type ProgressFunc func(percent int)

// Config fixes a specialist's persona.
type Config struct {
	ID           model.AgentID
	Name         string
	Role         string
	Instructions string
	ToolNames    []string
}

// Specialist analyzes project dossiers and answers follow-up chat for
// one domain.
type Specialist struct {
	cfg      Config
	provider generation.Provider
	tools    *tool.Registry
	logger   *slog.Logger
}

// New creates a Specialist from its persona config.
func New(cfg Config, provider generation.Provider, tools *tool.Registry, logger *slog.Logger) *Specialist {
	return &Specialist{
		cfg:      cfg,
		provider: provider,
		tools:    tools,
		logger:   logger.With("agent", cfg.ID),
	}
}

// ID returns the specialist's agent identifier.
func (s *Specialist) ID() model.AgentID { return s.cfg.ID }

// Run analyzes the dossier and returns the structured assessment.
// Invalid model output gets one corrective retry; a second invalid
// answer surfaces as *SchemaValidationError.
func (s *Specialist) Run(ctx context.Context, project model.Project, dossier string, progress ProgressFunc) (model.Assessment, error) {
	if progress == nil {
		progress = func(int) {}
	}
	progress(5)

	req := generation.Request{
		Messages: []generation.Message{
			{Role: generation.RoleSystem, Text: s.cfg.Instructions},
			{Role: generation.RoleUser, Text: dossierPrompt(project, dossier)},
		},
		Tools:  s.tools.Defs(s.cfg.ToolNames...),
		Invoke: s.progressInvoker(progress),
		Schema: assessmentSchema(),
	}
	progress(15)

	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("agent %s: %w", s.cfg.ID, err)
	}
	progress(80)

	assessment, vErr := parseAssessment(resp.Text)
	if vErr != nil {
		s.logger.Warn("assessment failed validation, retrying", "error", vErr)
		req.Messages = append(req.Messages,
			generation.Message{Role: generation.RoleAssistant, Text: resp.Text},
			generation.Message{Role: generation.RoleUser, Text: correctivePrompt(vErr)},
		)
		resp, err = s.provider.Complete(ctx, req)
		if err != nil {
			return model.Assessment{}, fmt.Errorf("agent %s: retry: %w", s.cfg.ID, err)
		}
		assessment, vErr = parseAssessment(resp.Text)
		if vErr != nil {
			return model.Assessment{}, &SchemaValidationError{Agent: s.cfg.ID, Err: vErr}
		}
	}
	progress(95)

	s.logger.Info("assessment complete",
		"status", assessment.Status, "score", assessment.Score, "model", resp.Model)
	return assessment, nil
}

// Chat answers one follow-up message given the stored conversation
// history. The reply is free text; an empty answer falls back to a
// fixed apology so the turn is never blank.
func (s *Specialist) Chat(ctx context.Context, history []model.ConversationTurn, message string) (string, error) {
	messages := make([]generation.Message, 0, len(history)+2)
	messages = append(messages, generation.Message{Role: generation.RoleSystem, Text: s.chatInstructions()})
	for _, turn := range history {
		messages = append(messages, generation.Message{Role: turnRole(turn.Role), Text: turn.Text})
	}
	messages = append(messages, generation.Message{Role: generation.RoleUser, Text: message})

	resp, err := s.provider.Complete(ctx, generation.Request{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("agent %s: chat: %w", s.cfg.ID, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return chatFallback, nil
	}
	return text, nil
}

func (s *Specialist) chatInstructions() string {
	return fmt.Sprintf(
		"Você é %s, especialista em %s da plataforma BioGrow da UbyAgro. "+
			"Responda perguntas sobre o projeto analisado dentro do seu domínio, em português, "+
			"de forma direta e fundamentada. Se a pergunta fugir do seu domínio, indique qual "+
			"especialista pode ajudar.", s.cfg.Name, s.cfg.Role)
}

// progressInvoker nudges the progress estimate forward on each tool
// call, capped below the post-completion milestones.
func (s *Specialist) progressInvoker(progress ProgressFunc) generation.ToolInvoker {
	base := s.tools.Invoker(s.cfg.ToolNames...)
	pct := 20
	return func(ctx context.Context, name, args string) (string, error) {
		if pct < 70 {
			pct += 15
		}
		progress(pct)
		return base(ctx, name, args)
	}
}

func dossierPrompt(project model.Project, dossier string) string {
	var b strings.Builder
	b.WriteString("Analise o dossiê do projeto a seguir e produza sua avaliação estruturada.\n\n")
	fmt.Fprintf(&b, "Projeto: %s\nCategoria: %s\nCultura-alvo: %s\n", project.Name, project.Category, project.TargetCrop)
	if project.Description != nil && *project.Description != "" {
		fmt.Fprintf(&b, "Descrição: %s\n", *project.Description)
	}
	b.WriteString("\n=== DOSSIÊ ===\n")
	b.WriteString(dossier)
	return b.String()
}

func correctivePrompt(vErr error) string {
	return fmt.Sprintf(
		"Sua resposta anterior não segue o formato exigido: %v. "+
			"Responda novamente apenas com o objeto JSON da avaliação, sem texto adicional.", vErr)
}

func parseAssessment(text string) (model.Assessment, error) {
	var a model.Assessment
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return model.Assessment{}, fmt.Errorf("not a JSON object: %w", err)
	}
	if err := a.Validate(); err != nil {
		return model.Assessment{}, err
	}
	return a, nil
}

func turnRole(role model.TurnRole) generation.Role {
	if role == model.TurnAgent {
		return generation.RoleAssistant
	}
	// Context turns read as user-provided background.
	return generation.RoleUser
}

func assessmentSchema() *generation.Schema {
	return &generation.Schema{
		Name: "avaliacao_agente",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type": "string",
					"enum": []string{"verde", "amarelo", "vermelho"},
				},
				"score": map[string]any{
					"type":    "integer",
					"minimum": 0,
					"maximum": 100,
				},
				"resumo":  map[string]any{"type": "string"},
				"alertas": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"detalhes": map[string]any{
					"type": "object",
				},
			},
			"required": []string{"status", "score", "resumo", "alertas", "detalhes"},
		},
	}
}
