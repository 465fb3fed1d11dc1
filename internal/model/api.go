package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeNotReady      = "NOT_READY"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the response for POST /auth/login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// CreateProjectResponse is the response for POST /v1/projects. The
// analysis runs in the background; the caller polls the status endpoint.
type CreateProjectResponse struct {
	ProjectID  uuid.UUID       `json:"project_id"`
	Name       string          `json:"name"`
	Category   ProjectCategory `json:"category"`
	TargetCrop CropType        `json:"target_crop"`
	Status     ProjectStatus   `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	CreatedBy  uuid.UUID       `json:"created_by"`
}

// AgentProgress is one agent's slice of a status snapshot.
type AgentProgress struct {
	Status          RunStatus `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	ETASeconds      int       `json:"estimated_time_remaining_seconds"`
	FailureReason   *string   `json:"failure_reason,omitempty"`
}

// StatusResponse is the response for GET /v1/projects/{project_id}/status.
type StatusResponse struct {
	ProjectID       uuid.UUID                 `json:"project_id"`
	Status          ProjectStatus             `json:"status"`
	Progress        map[AgentID]AgentProgress `json:"progress"`
	OverallProgress int                       `json:"overall_progress_percent"`
}

// ChatRequest is the request body for POST .../chat/{agent_id}.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the response for POST .../chat/{agent_id}.
type ChatResponse struct {
	ProjectID  uuid.UUID `json:"project_id"`
	AgentID    AgentID   `json:"agent_id"`
	AgentName  string    `json:"agent_name"`
	SequenceNo int       `json:"sequence_no"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProjectSummary is one row of the project list endpoint.
type ProjectSummary struct {
	ProjectID    uuid.UUID       `json:"project_id"`
	Name         string          `json:"name"`
	Category     ProjectCategory `json:"category"`
	TargetCrop   CropType        `json:"target_crop"`
	Status       ProjectStatus   `json:"status"`
	OverallScore *int            `json:"overall_score,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	AnalyzedAt   *time.Time      `json:"analyzed_at,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}
