// Package generation abstracts the language-model invocation behind a
// provider interface. The production implementation talks to OpenRouter
// through the OpenAI-compatible chat completions API; tests substitute
// fakes.
package generation

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of model input.
type Message struct {
	Role Role
	Text string
}

// ToolDef describes a callable tool exposed to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema for the arguments object.
}

// ToolInvoker executes a tool call requested by the model and returns the
// textual result folded back into the conversation. Errors are reported
// to the model as failed tool output, not raised to the caller.
type ToolInvoker func(ctx context.Context, name, arguments string) (string, error)

// Schema constrains the model to a named JSON schema output.
type Schema struct {
	Name       string
	Definition map[string]any
}

// Request is one generation request. When Schema is nil the model
// produces free text. Tools may be empty; when present, Invoke must be
// set and the provider drives the tool-call loop until the model
// produces a final answer.
type Request struct {
	Messages []Message
	Tools    []ToolDef
	Invoke   ToolInvoker
	Schema   *Schema
}

// Response is the model's final output for a request.
type Response struct {
	Text  string // Raw text, or the JSON document when a schema was requested.
	Model string // The model that produced the answer (fallbacks may differ from primary).
}

// Provider produces model completions. Implementations must be safe for
// concurrent use; the orchestrator shares one provider across all agents.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
