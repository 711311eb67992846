// Package api exposes the HTTP and MCP surfaces of the knowledge base:
// document upload and analysis, training questionnaires, and the knowledge
// graph itself.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/storage"
	"github.com/kalambet/selfgraph/internal/training"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadSize = 25 << 20     // 25MB

type AppDeps struct {
	Store    *storage.Store
	Graph    *graph.Manager
	Training *training.Manager
	Token    string
}

// NewAppHandler builds the full HTTP router. Everything except /health
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents/upload", handleUploadDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Post("/analysis/analyze", handleAnalyzeDocument(deps))
		r.Get("/analysis/results", handleListAnalysisResults(deps))
		r.Get("/analysis/results/{documentID}", handleGetAnalysisResult(deps))
		r.Delete("/analysis/results/{documentID}", handleDeleteAnalysisResult(deps))
		r.Get("/analysis/status", handleAnalysisStatus(deps))
		r.Get("/analysis/supported-types", handleSupportedTypes(deps))

		r.Get("/training/categories", handleTrainingCategories(deps))
		r.Get("/training/questions/{category}", handleTrainingQuestions(deps))
		r.Post("/training/answer", handleTrainingAnswer(deps))
		r.Post("/training/session", handleTrainingSession(deps))
		r.Get("/training/data", handleTrainingData(deps))
		r.Get("/training/stats", handleTrainingStats(deps))

		r.Get("/knowledge-graph", handleExportGraph(deps))
		r.Post("/knowledge-graph/entries", handleAddGraphEntry(deps))
		r.Post("/knowledge-graph/relationships", handleAddGraphRelationship(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, edges := deps.Graph.Counts()
		writeJSON(w, map[string]any{
			"status": "ok",
			"graph": map[string]int{
				"nodes": nodes,
				"edges": edges,
			},
		})
	}
}
