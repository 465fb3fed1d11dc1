// Package mcp implements the Model Context Protocol server for BioGrow.
//
// The MCP server exposes the analysis pipeline's read side through MCP
// resources and tools, so MCP-compatible assistants can inspect projects,
// analyses and the knowledge base without going through the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/storage"
)

// Server wraps the MCP server over BioGrow's storage layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, logger *slog.Logger) *Server {
	s := &Server{
		db:     db,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"biogrow",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"biogrow://agents",
			"Specialist Agents",
			mcplib.WithResourceDescription("The four specialist agents and their analysis domains"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"biogrow://projects/{project_id}/analysis",
			"Project Analysis",
			mcplib.WithTemplateDescription("Latest viability analysis for a project"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAnalysisResource,
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("biogrow_get_analysis",
			mcplib.WithDescription(`Fetch the latest viability analysis of a product project.

WHAT YOU GET BACK:
- overall_score and recommendation (VIAVEL / VIAVEL_COM_AJUSTES / NAO_VIAVEL)
- the four per-agent assessments (regulatory, market, patent, data science)
- alerts and action items aggregated across agents`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project_id",
				mcplib.Description("UUID of the project"),
				mcplib.Required(),
			),
		),
		s.handleGetAnalysis,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("biogrow_project_status",
			mcplib.WithDescription(`Check the live progress of a project's analysis.

Returns the overall project status plus each agent's run state,
progress percentage and estimated remaining time.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project_id",
				mcplib.Description("UUID of the project"),
				mcplib.Required(),
			),
		),
		s.handleProjectStatus,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("biogrow_search_knowledge",
			mcplib.WithDescription(`Search the internal knowledge base of norms, market studies and patent references.

Filter by category (regulatorio, mercado, patentes, dados) or free text over titles and tags.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("category",
				mcplib.Description("Optional document category filter"),
			),
			mcplib.WithString("search",
				mcplib.Description("Optional free-text search over titles and tags"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of documents to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleSearchKnowledge,
	)
}

func (s *Server) handleAgentsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	agents := make([]model.AgentInfo, 0, len(model.AllAgents))
	for _, id := range model.AllAgents {
		agents = append(agents, model.AgentDirectory[id])
	}
	data, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal agents: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "biogrow://agents",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAnalysisResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	var raw string
	if _, err := fmt.Sscanf(uri, "biogrow://projects/%s", &raw); err != nil {
		return nil, fmt.Errorf("mcp: invalid analysis URI: %s", uri)
	}
	raw = strings.TrimSuffix(raw, "/analysis")
	projectID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid project_id in URI: %s", uri)
	}

	analysis, err := s.db.GetLatestAnalysis(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("mcp: load analysis: %w", err)
	}
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal analysis: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetAnalysis(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID, err := uuid.Parse(request.GetString("project_id", ""))
	if err != nil {
		return errorResult("project_id must be a UUID"), nil
	}
	analysis, err := s.db.GetLatestAnalysis(ctx, projectID)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot load analysis: %v", err)), nil
	}
	return textResult(analysis)
}

func (s *Server) handleProjectStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projectID, err := uuid.Parse(request.GetString("project_id", ""))
	if err != nil {
		return errorResult("project_id must be a UUID"), nil
	}
	project, err := s.db.GetProject(ctx, projectID)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot load project: %v", err)), nil
	}
	runs, err := s.db.GetRuns(ctx, projectID)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot load runs: %v", err)), nil
	}
	return textResult(map[string]any{
		"project_id": projectID,
		"name":       project.Name,
		"status":     project.Status,
		"runs":       runs,
	})
}

func (s *Server) handleSearchKnowledge(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	category := request.GetString("category", "")
	search := request.GetString("search", "")
	limit := request.GetInt("limit", 10)

	docs, total, err := s.db.ListDocuments(ctx, category, search, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return textResult(map[string]any{
		"documents": docs,
		"total":     total,
	})
}

func textResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("cannot encode result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
