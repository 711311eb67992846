package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/selfgraph/internal/training"
)

func handleTrainingCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"categories": training.Categories()})
	}
}

func handleTrainingQuestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := chi.URLParam(r, "category")

		questions, ok := training.Questions(category)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "category %q not found", category)
			return
		}

		writeJSON(w, map[string]any{
			"category":        category,
			"questions":       questions,
			"total_questions": len(questions),
		})
	}
}

func handleTrainingAnswer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var answer training.Answer
		if err := json.NewDecoder(r.Body).Decode(&answer); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if answer.QuestionID == "" || answer.Category == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question_id and category are required")
			return
		}

		ts, err := deps.Training.SaveAnswer(answer)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save answer: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"message":     "Answer saved successfully",
			"question_id": answer.QuestionID,
			"category":    answer.Category,
			"timestamp":   ts,
		})
	}
}

type trainingSessionRequest struct {
	Category string            `json:"category"`
	Answers  []training.Answer `json:"answers"`
}

func handleTrainingSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var session trainingSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(session.Answers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "answers must not be empty")
			return
		}

		ts, err := deps.Training.SaveSession(session.Answers)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save session: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"message":       "Training session saved successfully",
			"category":      session.Category,
			"answers_saved": len(session.Answers),
			"timestamp":     ts,
		})
	}
}

func handleTrainingData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")

		data, err := deps.Training.Data(category)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load training data: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"training_data":   data,
			"total_records":   len(data),
			"category_filter": category,
		})
	}
}

func handleTrainingStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Training.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}
