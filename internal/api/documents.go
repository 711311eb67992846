package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/selfgraph/internal/storage"
)

type documentSummary struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	FileType    string `json:"file_type"`
	FileSize    int64  `json:"file_size"`
	UploadDate  string `json:"upload_date"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

func summarize(d storage.Document) documentSummary {
	return documentSummary{
		ID:          d.ID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		FileType:    d.FileType,
		FileSize:    d.FileSize,
		UploadDate:  d.UploadDate.UTC().Format(time.RFC3339),
		Description: d.Description,
		Category:    d.Category,
	}
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read file: %v", err)
			return
		}

		doc := storage.Document{
			ID:          uuid.New().String(),
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			FileType:    fileType(header.Filename),
			FileSize:    int64(len(data)),
			UploadDate:  time.Now().UTC(),
			Description: r.FormValue("description"),
			Category:    r.FormValue("category"),
			Content:     data,
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		writeJSON(w, summarize(doc))
	}
}

func fileType(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		summaries := make([]documentSummary, len(docs))
		for i, d := range docs {
			summaries[i] = summarize(d)
		}
		writeJSON(w, summaries)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		writeJSON(w, summarize(doc))
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		// The analysis record, if any, goes with the document.
		if err := deps.Store.DeleteAnalysisResult(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete analysis record: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
