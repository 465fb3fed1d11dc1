package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	// perCallTimeout bounds a single chat completion round trip.
	perCallTimeout = 60 * time.Second

	// maxToolRounds caps the tool-call loop so a confused model cannot
	// spin forever.
	maxToolRounds = 4
)

// OpenRouter is a Provider backed by OpenRouter's OpenAI-compatible API.
// The primary model is tried first; fallback models are tried in order
// when a completion fails outright.
type OpenRouter struct {
	client openai.Client
	models []string // primary followed by fallbacks
	logger *slog.Logger
}

// NewOpenRouter creates an OpenRouter provider.
func NewOpenRouter(apiKey, baseURL, primaryModel string, fallbackModels []string, logger *slog.Logger) *OpenRouter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("X-Title", "BioGrow"),
		// The fallback model list is the retry policy; per-request SDK
		// retries would only delay the switch to the next model.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	models := append([]string{primaryModel}, fallbackModels...)
	return &OpenRouter{
		client: openai.NewClient(opts...),
		models: models,
		logger: logger,
	}
}

// Complete runs the request against the primary model, falling back to
// the configured alternates when a model errors.
func (p *OpenRouter) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for _, m := range p.models {
		resp, err := p.completeWithModel(ctx, m, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		p.logger.Warn("generation: model failed, trying fallback", "model", m, "error", err)
	}
	return Response{}, fmt.Errorf("generation: all models failed: %w", lastErr)
}

func (p *OpenRouter) completeWithModel(ctx context.Context, model string, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toParams(req.Messages),
	}

	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}

	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Definition,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	for round := 0; ; round++ {
		completion, err := p.call(ctx, params)
		if err != nil {
			return Response{}, err
		}
		if len(completion.Choices) == 0 {
			return Response{}, fmt.Errorf("generation: empty choices from %s", model)
		}

		msg := completion.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return Response{Text: msg.Content, Model: completion.Model}, nil
		}
		if req.Invoke == nil {
			return Response{}, fmt.Errorf("generation: model requested tools but no invoker configured")
		}
		if round >= maxToolRounds {
			return Response{}, fmt.Errorf("generation: tool loop exceeded %d rounds", maxToolRounds)
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			out, err := req.Invoke(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				// Fold the failure back so the model can proceed with a
				// caveat instead of aborting the whole run.
				out = fmt.Sprintf("ferramenta %s falhou: %v", tc.Function.Name, err)
			}
			params.Messages = append(params.Messages, openai.ToolMessage(out, tc.ID))
		}
	}
}

func (p *OpenRouter) call(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()
	return p.client.Chat.Completions.New(callCtx, params)
}

func toParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}
