package biogrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the BioGrow server (e.g. "http://localhost:8080").
	BaseURL string

	// Email and Password are the credentials used to obtain a JWT token.
	Email    string
	Password string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the BioGrow project analysis API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, Email, or Password is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("biogrow: BaseURL is required")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("biogrow: Email is required")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("biogrow: Password is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.Email, cfg.Password, httpClient),
	}, nil
}

// ListAgents returns the specialist agent directory.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var resp []AgentInfo
	if err := c.get(ctx, "/v1/agents", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateProject submits a project dossier and starts the analysis.
// The analysis runs in the background; poll Status or fetch Analysis once
// the project status reaches "completed".
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"name":        req.Name,
		"category":    req.Category,
		"target_crop": req.TargetCrop,
		"description": req.Description,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("biogrow: write form field %s: %w", name, err)
		}
	}

	filename := req.DossierName
	if filename == "" {
		filename = "dossier.txt"
	}
	part, err := w.CreateFormFile("dossier", filename)
	if err != nil {
		return nil, fmt.Errorf("biogrow: create dossier part: %w", err)
	}
	if _, err := part.Write(req.Dossier); err != nil {
		return nil, fmt.Errorf("biogrow: write dossier: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("biogrow: finish multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/projects", &buf)
	if err != nil {
		return nil, fmt.Errorf("biogrow: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var resp Project
	if err := c.doRequest(ctx, httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProjects returns project summaries visible to the caller, newest first.
func (c *Client) ListProjects(ctx context.Context, opts *ListOptions) ([]ProjectSummary, error) {
	var resp []ProjectSummary
	if err := c.get(ctx, "/v1/projects"+listQuery(opts), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Status returns the per-agent progress snapshot for a project.
func (c *Client) Status(ctx context.Context, projectID uuid.UUID) (*Status, error) {
	var resp Status
	if err := c.get(ctx, "/v1/projects/"+projectID.String()+"/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Analysis returns the latest aggregated analysis for a project.
// While the analysis is still running the server responds 409 with code
// NOT_READY; use IsNotReady to detect that case.
func (c *Client) Analysis(ctx context.Context, projectID uuid.UUID) (*Analysis, error) {
	var resp Analysis
	if err := c.get(ctx, "/v1/projects/"+projectID.String()+"/analysis", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForAnalysis polls the status endpoint until the analysis finishes,
// then returns it. Poll interval defaults to two seconds when zero.
func (c *Client) WaitForAnalysis(ctx context.Context, projectID uuid.UUID, interval time.Duration) (*Analysis, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx, projectID)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case "completed":
			return c.Analysis(ctx, projectID)
		case "failed":
			return nil, fmt.Errorf("biogrow: analysis of project %s failed", projectID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reanalyze re-runs the full analysis for a project, producing a new
// analysis version. Fails with 409 while an analysis is in flight.
func (c *Client) Reanalyze(ctx context.Context, projectID uuid.UUID) (*Project, error) {
	var resp Project
	if err := c.post(ctx, "/v1/projects/"+projectID.String()+"/reanalyze", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat sends a message to one specialist in the context of a project and
// returns the specialist's reply.
func (c *Client) Chat(ctx context.Context, projectID uuid.UUID, agentID, message string) (*ChatMessage, error) {
	body := map[string]string{"message": message}
	var resp ChatMessage
	if err := c.post(ctx, "/v1/projects/"+projectID.String()+"/chat/"+url.PathEscape(agentID), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChatHistory returns the conversation with one specialist in sequence order.
func (c *Client) ChatHistory(ctx context.Context, projectID uuid.UUID, agentID string) ([]ConversationTurn, error) {
	var resp []ConversationTurn
	if err := c.get(ctx, "/v1/projects/"+projectID.String()+"/chat/"+url.PathEscape(agentID), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// KnowledgeBase returns knowledge-base documents.
func (c *Client) KnowledgeBase(ctx context.Context, opts *ListOptions) ([]Document, error) {
	var resp []Document
	if err := c.get(ctx, "/v1/knowledge-base"+listQuery(opts), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func listQuery(opts *ListOptions) string {
	if opts == nil {
		return ""
	}
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("biogrow: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("biogrow: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("biogrow: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("biogrow: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("biogrow: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("biogrow: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("biogrow: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("biogrow: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
