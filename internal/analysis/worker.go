// Package analysis runs queued document analyses: text extraction, content
// metadata, and LLM knowledge extraction feeding the knowledge graph.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/selfgraph/internal/content"
	"github.com/kalambet/selfgraph/internal/extract"
	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/storage"
)

const (
	JobType = "document_analysis"

	TypeKnowledgeExtraction = "knowledge_extraction"
	TypeTextExtraction      = "text_extraction"
	TypeMetadata            = "metadata"

	maxStoredTextLength = 100000
)

// SupportedAnalysisTypes lists what the worker knows how to run.
func SupportedAnalysisTypes() []string {
	return []string{TypeKnowledgeExtraction, TypeTextExtraction, TypeMetadata}
}

// Payload is the job body for a document_analysis job.
type Payload struct {
	DocumentID    string   `json:"document_id"`
	AnalysisTypes []string `json:"analysis_types"`
}

// NewJob builds a queued analysis job for the given document.
func NewJob(documentID string, analysisTypes []string) (storage.Job, error) {
	if len(analysisTypes) == 0 {
		analysisTypes = SupportedAnalysisTypes()
	}
	for _, at := range analysisTypes {
		if !supported(at) {
			return storage.Job{}, fmt.Errorf("unsupported analysis type %q", at)
		}
	}
	body, err := json.Marshal(Payload{DocumentID: documentID, AnalysisTypes: analysisTypes})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(body),
	}, nil
}

func supported(analysisType string) bool {
	for _, at := range SupportedAnalysisTypes() {
		if at == analysisType {
			return true
		}
	}
	return false
}

// JobStore abstracts the queue and persistence operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	UpsertAnalysisResult(r storage.AnalysisResult) error
}

// EntryExtractor produces knowledge graph entries from document text.
type EntryExtractor interface {
	Extract(ctx context.Context, text string) (extract.Result, error)
}

// GraphIngester folds extracted entries into the knowledge graph.
type GraphIngester interface {
	IngestDocument(info graph.DocumentInfo, entries []graph.Entry) (int, error)
}

// Worker processes document_analysis jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	extractor EntryExtractor
	ingester  GraphIngester
	poll      time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, extractor EntryExtractor, ingester GraphIngester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		ingester:  ingester,
		poll:      pollInterval,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single document_analysis job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("analysis job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if len(payload.AnalysisTypes) == 0 {
		payload.AnalysisTypes = SupportedAnalysisTypes()
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	started := w.now()
	record := storage.AnalysisResult{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		FileType:     doc.FileType,
		FileSize:     doc.FileSize,
		AnalysisType: strings.Join(payload.AnalysisTypes, ", "),
		Status:       "processing",
		StartedAt:    started,
	}
	if err := w.store.UpsertAnalysisResult(record); err != nil {
		return fmt.Errorf("recording analysis start: %w", err)
	}

	results, err := w.analyze(ctx, doc, payload.AnalysisTypes)
	completed := w.now()
	record.CompletedAt = completed
	record.ProcessingSeconds = completed.Sub(started).Seconds()

	if err != nil {
		record.Status = "failed"
		record.ErrorMessage = err.Error()
		if uerr := w.store.UpsertAnalysisResult(record); uerr != nil {
			w.logger.Error("failed to record analysis failure", "document_id", doc.ID, "error", uerr)
		}
		return err
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	record.Status = "completed"
	record.ResultsJSON = string(resultsJSON)
	if err := w.store.UpsertAnalysisResult(record); err != nil {
		return fmt.Errorf("recording analysis result: %w", err)
	}

	w.logger.Info("analysis completed",
		"document_id", doc.ID, "filename", doc.Filename,
		"types", record.AnalysisType, "seconds", record.ProcessingSeconds)
	return nil
}

// analyze runs each requested analysis type over the document text. A failed
// knowledge extraction is recorded inside the results rather than failing the
// whole run, matching how results are surfaced per type.
func (w *Worker) analyze(ctx context.Context, doc storage.Document, analysisTypes []string) (map[string]any, error) {
	text, err := content.Text(doc.FileType, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", doc.Filename, err)
	}

	results := make(map[string]any, len(analysisTypes))
	for _, at := range analysisTypes {
		switch at {
		case TypeKnowledgeExtraction:
			res, err := w.extractor.Extract(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("knowledge extraction: %w", err)
			}
			if res.Err == "" && len(res.Entries) > 0 {
				added, err := w.ingester.IngestDocument(documentInfo(doc), res.Entries)
				if err != nil {
					w.logger.Error("extracted entries not fully persisted",
						"document_id", doc.ID, "added", added, "error", err)
				}
			}
			results[TypeKnowledgeExtraction] = res
		case TypeTextExtraction:
			results[TypeTextExtraction] = textExtraction(text)
		case TypeMetadata:
			results[TypeMetadata] = metadata(doc, text)
		default:
			return nil, fmt.Errorf("unsupported analysis type %q", at)
		}
	}
	return results, nil
}

func documentInfo(doc storage.Document) graph.DocumentInfo {
	return graph.DocumentInfo{
		ID:         doc.ID,
		Filename:   doc.Filename,
		FileType:   doc.FileType,
		FileSize:   doc.FileSize,
		UploadDate: doc.UploadDate.UTC().Format(time.RFC3339),
	}
}
