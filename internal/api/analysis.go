package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/selfgraph/internal/analysis"
	"github.com/kalambet/selfgraph/internal/content"
	"github.com/kalambet/selfgraph/internal/storage"
)

type analyzeRequest struct {
	DocumentID    string   `json:"document_id"`
	AnalysisTypes []string `json:"analysis_types"`
}

func handleAnalyzeDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.DocumentID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id is required")
			return
		}

		if _, err := deps.Store.GetDocument(req.DocumentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "document not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load document: %v", err)
			return
		}

		job, err := analysis.NewJob(req.DocumentID, req.AnalysisTypes)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue analysis: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"document_id":    req.DocumentID,
			"analysis_types": req.AnalysisTypes,
			"job_id":         job.ID,
			"status":         "queued",
		})
	}
}

type analysisResultView struct {
	DocumentID        string          `json:"document_id"`
	Filename          string          `json:"filename"`
	FileType          string          `json:"file_type"`
	FileSize          int64           `json:"file_size"`
	AnalysisType      string          `json:"analysis_type"`
	Status            string          `json:"status"`
	Results           json.RawMessage `json:"results,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	StartedAt         string          `json:"started_at"`
	CompletedAt       string          `json:"completed_at,omitempty"`
	ProcessingSeconds float64         `json:"processing_time_seconds,omitempty"`
}

func resultView(r storage.AnalysisResult) analysisResultView {
	v := analysisResultView{
		DocumentID:        r.DocumentID,
		Filename:          r.Filename,
		FileType:          r.FileType,
		FileSize:          r.FileSize,
		AnalysisType:      r.AnalysisType,
		Status:            r.Status,
		ErrorMessage:      r.ErrorMessage,
		StartedAt:         r.StartedAt.UTC().Format(time.RFC3339),
		ProcessingSeconds: r.ProcessingSeconds,
	}
	if r.ResultsJSON != "" {
		v.Results = json.RawMessage(r.ResultsJSON)
	}
	if !r.CompletedAt.IsZero() {
		v.CompletedAt = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func handleGetAnalysisResult(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentID")

		result, err := deps.Store.GetAnalysisResult(documentID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no analysis found for this document")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get analysis: %v", err)
			return
		}

		writeJSON(w, resultView(result))
	}
}

func handleListAnalysisResults(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		results, err := deps.Store.ListAnalysisResults(status, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list analyses: %v", err)
			return
		}

		views := make([]analysisResultView, len(results))
		for i, res := range results {
			views[i] = resultView(res)
		}
		writeJSON(w, views)
	}
}

func handleDeleteAnalysisResult(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentID")

		err := deps.Store.DeleteAnalysisResult(documentID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no analysis found for this document")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete analysis: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleAnalysisStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, avgSeconds, err := deps.Store.AnalysisStatusCounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute status: %v", err)
			return
		}

		total := 0
		for _, n := range counts {
			total += n
		}
		writeJSON(w, map[string]any{
			"total_analyses":                  total,
			"status_counts":                   counts,
			"queue_length":                    counts["pending"] + counts["processing"],
			"average_processing_time_seconds": avgSeconds,
		})
	}
}

func handleSupportedTypes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"analysis_types": analysis.SupportedAnalysisTypes(),
			"file_types":     content.SupportedTypes(),
		})
	}
}
