package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kalambet/selfgraph/internal/graph"
)

func handleExportGraph(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Graph.Export())
	}
}

type addEntryRequest struct {
	Category string `json:"category"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func handleAddGraphEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req addEntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		id, err := deps.Graph.AddManualEntry(req.Category, req.Question, req.Answer, nil)
		if errors.Is(err, graph.ErrInvalidCategory) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add entry: %v", err)
			return
		}

		writeJSON(w, map[string]string{
			"node_id":  id,
			"category": req.Category,
			"status":   "added",
		})
	}
}

type addRelationshipRequest struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

func handleAddGraphRelationship(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req addRelationshipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Source == "" || req.Target == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source and target are required")
			return
		}

		if err := deps.Graph.AddRelationship(req.Source, req.Target, req.Relation); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add relationship: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "added"})
	}
}
