package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/training"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Graph    *graph.Manager
	Training *training.Manager
}

// NewMCPServer creates an MCP server exposing the knowledge graph to
// MCP-capable assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"selfgraph",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("selfgraph — personal knowledge graph of facts, preferences, and training answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_knowledge_graph",
			mcp.WithDescription("Search the knowledge graph for nodes whose question or answer matches a query."),
			mcp.WithString("query", mcp.Description("Substring to search for"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Optional category filter (e.g. Knowledge, Preferences)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpQueryGraph(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge_entry",
			mcp.WithDescription("Add a question/answer fact to the knowledge graph under one of the fixed categories."),
			mcp.WithString("category", mcp.Description("One of the fixed categories (e.g. Knowledge, Morals)"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question this fact answers"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The answer"), mcp.Required()),
		),
		mcpAddEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("training_stats",
			mcp.WithDescription("Summarize stored training answers: totals per category and answer type."),
		),
		mcpTrainingStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"graph://export",
			"Knowledge Graph",
			mcp.WithResourceDescription("Full knowledge graph as {nodes, links} JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceGraph(deps),
	)

	return s
}

func mcpQueryGraph(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		category := req.GetString("category", "")

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		matches := searchGraph(deps.Graph.Export(), query, category, limit)
		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(matches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// searchGraph does a case-insensitive substring match over node ids and
// string attributes, optionally restricted to nodes whose id carries the
// given category prefix.
func searchGraph(view graph.View, query, category string, limit int) []map[string]any {
	query = strings.ToLower(query)
	var matches []map[string]any

	for _, node := range view.Nodes {
		id, _ := node["id"].(string)
		if category != "" && !strings.HasPrefix(id, category+":") && id != category {
			continue
		}

		hit := strings.Contains(strings.ToLower(id), query)
		if !hit {
			for _, v := range node {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), query) {
					hit = true
					break
				}
			}
		}
		if !hit {
			continue
		}

		matches = append(matches, node)
		if len(matches) >= limit {
			break
		}
	}
	return matches
}

func mcpAddEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}

		id, err := deps.Graph.AddManualEntry(category, question, answer, nil)
		if errors.Is(err, graph.ErrInvalidCategory) {
			return mcpError(fmt.Sprintf("invalid category %q; valid categories: %s",
				category, strings.Join(graph.Categories, ", "))), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add entry: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Added knowledge entry %s", id)), nil
	}
}

func mcpTrainingStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Training.Stats()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceGraph(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Graph.Export())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal graph: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
