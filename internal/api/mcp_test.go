package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/storage"
	"github.com/kalambet/selfgraph/internal/training"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gm := graph.Open(t.TempDir(), false)
	return MCPDeps{
		Graph:    gm,
		Training: training.NewManager(store, gm),
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_AddKnowledgeEntry(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAddEntry(deps)

	req := makeCallToolRequest("add_knowledge_entry", map[string]interface{}{
		"category": "Preferences",
		"question": "What editor do you use?",
		"answer":   "Anything with a good Go plugin",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, "Preferences:") {
		t.Fatalf("expected node id in response, got: %s", text)
	}

	view := deps.Graph.Export()
	found := false
	for _, n := range view.Nodes {
		if id, _ := n["id"].(string); strings.HasPrefix(id, "Preferences:What editor") {
			found = true
		}
	}
	if !found {
		t.Error("entry not present in graph export")
	}
}

func TestMCPTool_AddKnowledgeEntry_InvalidCategory(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAddEntry(deps)

	req := makeCallToolRequest("add_knowledge_entry", map[string]interface{}{
		"category": "Gossip",
		"question": "q",
		"answer":   "a",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid category")
	}
	if !strings.Contains(toolText(t, result), "Knowledge") {
		t.Errorf("error should list valid categories: %s", toolText(t, result))
	}
}

func TestMCPTool_QueryKnowledgeGraph(t *testing.T) {
	deps := newTestMCPDeps(t)
	if _, err := deps.Graph.AddManualEntry("Knowledge", "Where did you grow up?", "Kyiv", nil); err != nil {
		t.Fatalf("seeding graph: %v", err)
	}

	handler := mcpQueryGraph(deps)
	req := makeCallToolRequest("query_knowledge_graph", map[string]interface{}{
		"query": "kyiv",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var matches []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &matches); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0]["answer"] != "Kyiv" {
		t.Errorf("match = %+v", matches[0])
	}
}

func TestMCPTool_QueryKnowledgeGraph_CategoryFilter(t *testing.T) {
	deps := newTestMCPDeps(t)
	if _, err := deps.Graph.AddManualEntry("Knowledge", "Favorite city?", "Lviv", nil); err != nil {
		t.Fatalf("seeding graph: %v", err)
	}
	if _, err := deps.Graph.AddManualEntry("Preferences", "Favorite city to visit?", "Lviv", nil); err != nil {
		t.Fatalf("seeding graph: %v", err)
	}

	handler := mcpQueryGraph(deps)
	req := makeCallToolRequest("query_knowledge_graph", map[string]interface{}{
		"query":    "lviv",
		"category": "Preferences",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var matches []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &matches); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if len(matches) != 1 || !strings.HasPrefix(matches[0]["id"].(string), "Preferences:") {
		t.Errorf("matches = %+v", matches)
	}
}

func TestMCPTool_QueryKnowledgeGraph_NoMatches(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpQueryGraph(deps)

	req := makeCallToolRequest("query_knowledge_graph", map[string]interface{}{
		"query": "definitely-not-present",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toolText(t, result) != "[]" {
		t.Errorf("expected empty array, got %s", toolText(t, result))
	}
}

func TestMCPTool_TrainingStats(t *testing.T) {
	deps := newTestMCPDeps(t)
	if _, err := deps.Training.SaveAnswer(training.Answer{
		QuestionID: "moral_1", Question: "q", Answer: "a",
		AnswerType: "text", Category: "Moral questions",
	}); err != nil {
		t.Fatalf("seeding answer: %v", err)
	}

	handler := mcpTrainingStats(deps)
	result, err := handler(context.Background(), makeCallToolRequest("training_stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stats training.Stats
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if stats.TotalAnswers != 1 || stats.Categories["Moral questions"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMCPResource_GraphExport(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpResourceGraph(deps)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "graph://export"

	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var view struct {
		Nodes []map[string]any `json:"nodes"`
		Links []map[string]any `json:"links"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &view); err != nil {
		t.Fatalf("resource not JSON: %v", err)
	}
	if len(view.Nodes) == 0 {
		t.Error("exported graph has no nodes")
	}
}
