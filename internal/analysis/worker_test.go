package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/selfgraph/internal/extract"
	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/storage"
)

// fakeStore is an in-memory JobStore tracking queue transitions and the
// recorded analysis results.
type fakeStore struct {
	job       *storage.Job
	docs      map[string]storage.Document
	results   []storage.AnalysisResult
	completed []string
	failed    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[string]storage.Document),
		failed: make(map[string]string),
	}
}

func (s *fakeStore) ClaimNextJob(types []string) (*storage.Job, error) {
	j := s.job
	s.job = nil
	return j, nil
}

func (s *fakeStore) CompleteJob(id string) error {
	s.completed = append(s.completed, id)
	return nil
}

func (s *fakeStore) FailJob(id string, errMsg string) error {
	s.failed[id] = errMsg
	return nil
}

func (s *fakeStore) GetDocument(id string) (storage.Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return d, nil
}

func (s *fakeStore) UpsertAnalysisResult(r storage.AnalysisResult) error {
	s.results = append(s.results, r)
	return nil
}

func (s *fakeStore) lastResult(t *testing.T) storage.AnalysisResult {
	t.Helper()
	if len(s.results) == 0 {
		t.Fatal("no analysis result recorded")
	}
	return s.results[len(s.results)-1]
}

type fakeExtractor struct {
	result extract.Result
	err    error
	called bool
}

func (f *fakeExtractor) Extract(_ context.Context, text string) (extract.Result, error) {
	f.called = true
	return f.result, f.err
}

type fakeIngester struct {
	info    graph.DocumentInfo
	entries []graph.Entry
	called  bool
}

func (f *fakeIngester) IngestDocument(info graph.DocumentInfo, entries []graph.Entry) (int, error) {
	f.called = true
	f.info = info
	f.entries = entries
	return len(entries), nil
}

func queueJob(t *testing.T, s *fakeStore, documentID string, types []string) {
	t.Helper()
	job, err := NewJob(documentID, types)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	s.job = &job
}

func testDocument() storage.Document {
	return storage.Document{
		ID:         "doc-1",
		Filename:   "bio.md",
		FileType:   "md",
		FileSize:   64,
		UploadDate: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Category:   "personal",
		Content:    []byte("# About\nI grew up in Kyiv and prefer quiet mornings.\n"),
	}
}

func TestRunOnceNoJobs(t *testing.T) {
	w := NewWorker(newFakeStore(), &fakeExtractor{}, &fakeIngester{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce() = true with empty queue")
	}
}

func TestRunOnceCompletesFullAnalysis(t *testing.T) {
	store := newFakeStore()
	store.docs["doc-1"] = testDocument()
	queueJob(t, store, "doc-1", nil)

	extractor := &fakeExtractor{result: extract.Result{
		Entries: []graph.Entry{
			{Category: "Knowledge", Question: "Where did you grow up?", Answer: "Kyiv"},
		},
		EntryCount: 1,
		Model:      "phi3.5",
	}}
	ingester := &fakeIngester{}
	w := NewWorker(store, extractor, ingester, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce() = false, want true")
	}

	if len(store.completed) != 1 {
		t.Errorf("completed jobs = %v, want one", store.completed)
	}
	if !ingester.called {
		t.Error("extracted entries were not folded into the graph")
	}
	if ingester.info.ID != "doc-1" || ingester.info.Filename != "bio.md" {
		t.Errorf("ingested document info = %+v", ingester.info)
	}

	rec := store.lastResult(t)
	if rec.Status != "completed" {
		t.Fatalf("status = %q, want completed", rec.Status)
	}
	if rec.AnalysisType != strings.Join(SupportedAnalysisTypes(), ", ") {
		t.Errorf("analysis_type = %q", rec.AnalysisType)
	}

	var results map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rec.ResultsJSON), &results); err != nil {
		t.Fatalf("results_json invalid: %v", err)
	}
	for _, key := range []string{TypeKnowledgeExtraction, TypeTextExtraction, TypeMetadata} {
		if _, ok := results[key]; !ok {
			t.Errorf("results_json missing %q", key)
		}
	}
}

func TestRunOnceExtractionErrorRecordedNotFatal(t *testing.T) {
	store := newFakeStore()
	store.docs["doc-1"] = testDocument()
	queueJob(t, store, "doc-1", []string{TypeKnowledgeExtraction})

	extractor := &fakeExtractor{result: extract.Result{Err: "no valid entries extracted"}}
	ingester := &fakeIngester{}
	w := NewWorker(store, extractor, ingester, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if ingester.called {
		t.Error("ingester called despite extraction error")
	}
	rec := store.lastResult(t)
	if rec.Status != "completed" {
		t.Errorf("status = %q, want completed (error lives inside results)", rec.Status)
	}
	if !strings.Contains(rec.ResultsJSON, "no valid entries extracted") {
		t.Errorf("results_json missing extraction error: %s", rec.ResultsJSON)
	}
}

func TestRunOnceChatFailureFailsJob(t *testing.T) {
	store := newFakeStore()
	store.docs["doc-1"] = testDocument()
	queueJob(t, store, "doc-1", []string{TypeKnowledgeExtraction})

	extractor := &fakeExtractor{err: errors.New("connection refused")}
	w := NewWorker(store, extractor, &fakeIngester{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(store.completed) != 0 {
		t.Error("job completed despite chat failure")
	}
	if len(store.failed) != 1 {
		t.Fatalf("failed jobs = %v, want one", store.failed)
	}
	rec := store.lastResult(t)
	if rec.Status != "failed" || !strings.Contains(rec.ErrorMessage, "connection refused") {
		t.Errorf("record = %+v", rec)
	}
}

func TestRunOnceMissingDocumentFailsJob(t *testing.T) {
	store := newFakeStore()
	queueJob(t, store, "ghost", nil)

	w := NewWorker(store, &fakeExtractor{}, &fakeIngester{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(store.failed) != 1 {
		t.Errorf("failed jobs = %v, want one", store.failed)
	}
}

func TestNewJobRejectsUnknownType(t *testing.T) {
	if _, err := NewJob("doc-1", []string{"sentiment"}); err == nil {
		t.Fatal("expected error for unsupported analysis type")
	}
}

func TestNewJobDefaultsToAllTypes(t *testing.T) {
	job, err := NewJob("doc-1", nil)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	var p Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		t.Fatalf("payload invalid: %v", err)
	}
	if len(p.AnalysisTypes) != len(SupportedAnalysisTypes()) {
		t.Errorf("analysis types = %v", p.AnalysisTypes)
	}
	if job.Type != JobType || job.ID == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker(newFakeStore(), &fakeExtractor{}, &fakeIngester{}, time.Millisecond)
	finished := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
