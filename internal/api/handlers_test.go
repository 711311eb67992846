package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/storage"
	"github.com/kalambet/selfgraph/internal/training"
)

const testToken = "test-token"

func newTestDeps(t *testing.T) AppDeps {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gm := graph.Open(t.TempDir(), false)
	return AppDeps{
		Store:    store,
		Graph:    gm,
		Training: training.NewManager(store, gm),
		Token:    testToken,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v\nbody: %s", err, rec.Body.String())
	}
}

func uploadDocument(t *testing.T, h http.Handler, filename, fileBody string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	fmt.Fprint(fw, fileBody)
	mw.WriteField("description", "test document")
	mw.Close()

	rec := doRequest(t, h, http.MethodPost, "/documents/upload", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp documentSummary
	decodeBody(t, rec, &resp)
	if resp.ID == "" {
		t.Fatal("upload returned empty document id")
	}
	return resp.ID
}

func TestHealthIsUnauthenticated(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Graph  struct {
			Nodes int `json:"nodes"`
			Edges int `json:"edges"`
		} `json:"graph"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" || resp.Graph.Nodes == 0 {
		t.Errorf("health = %+v", resp)
	}
}

func TestBearerAuthRejectsBadToken(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	id := uploadDocument(t, h, "bio.md", "# About me\nI like graphs.")

	rec := doRequest(t, h, http.MethodGet, "/documents", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var docs []documentSummary
	decodeBody(t, rec, &docs)
	if len(docs) != 1 || docs[0].FileType != "md" || docs[0].FileSize == 0 {
		t.Errorf("listed docs = %+v", docs)
	}

	rec = doRequest(t, h, http.MethodGet, "/documents/"+id, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/documents/"+id, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/documents/"+id, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestUploadRequiresFile(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("description", "no file here")
	mw.Close()

	rec := doRequest(t, h, http.MethodPost, "/documents/upload", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyzeUnknownDocument(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	body := strings.NewReader(`{"document_id":"ghost"}`)
	rec := doRequest(t, h, http.MethodPost, "/analysis/analyze", body, "application/json")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAnalyzeQueuesJob(t *testing.T) {
	deps := newTestDeps(t)
	h := NewAppHandler(deps)

	id := uploadDocument(t, h, "notes.txt", "I grew up near the sea.")

	body := strings.NewReader(fmt.Sprintf(`{"document_id":%q,"analysis_types":["knowledge_extraction"]}`, id))
	rec := doRequest(t, h, http.MethodPost, "/analysis/analyze", body, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
		JobID  string `json:"job_id"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "queued" || resp.JobID == "" {
		t.Errorf("response = %+v", resp)
	}

	job, err := deps.Store.ClaimNextJob([]string{"document_analysis"})
	if err != nil || job == nil {
		t.Fatalf("expected claimable job, got job=%v err=%v", job, err)
	}
	if !strings.Contains(job.PayloadJSON, id) {
		t.Errorf("payload missing document id: %s", job.PayloadJSON)
	}
}

func TestAnalyzeRejectsUnknownType(t *testing.T) {
	deps := newTestDeps(t)
	h := NewAppHandler(deps)
	id := uploadDocument(t, h, "notes.txt", "text")

	body := strings.NewReader(fmt.Sprintf(`{"document_id":%q,"analysis_types":["sentiment"]}`, id))
	rec := doRequest(t, h, http.MethodPost, "/analysis/analyze", body, "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteAnalysisResult(t *testing.T) {
	deps := newTestDeps(t)
	h := NewAppHandler(deps)

	id := uploadDocument(t, h, "notes.txt", "text")
	err := deps.Store.UpsertAnalysisResult(storage.AnalysisResult{
		DocumentID:   id,
		Filename:     "notes.txt",
		FileType:     "txt",
		AnalysisType: "metadata",
		Status:       "completed",
	})
	if err != nil {
		t.Fatalf("seeding analysis result: %v", err)
	}

	rec := doRequest(t, h, http.MethodDelete, "/analysis/results/"+id, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/analysis/results/"+id, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/analysis/results/"+id, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestTrainingQuestionsAndAnswerFlow(t *testing.T) {
	deps := newTestDeps(t)
	h := NewAppHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/training/questions/Moral%20questions", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("questions status = %d", rec.Code)
	}
	var qresp struct {
		Category       string              `json:"category"`
		Questions      []training.Question `json:"questions"`
		TotalQuestions int                 `json:"total_questions"`
	}
	decodeBody(t, rec, &qresp)
	if qresp.TotalQuestions != 5 {
		t.Errorf("question count = %d, want 5", qresp.TotalQuestions)
	}

	rec = doRequest(t, h, http.MethodGet, "/training/questions/Nonsense", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown category status = %d, want 404", rec.Code)
	}

	answer := `{"question_id":"moral_1","question":"What core values guide your decisions?","answer":"Honesty","answer_type":"text","category":"Moral questions"}`
	rec = doRequest(t, h, http.MethodPost, "/training/answer", strings.NewReader(answer), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d, body: %s", rec.Code, rec.Body.String())
	}

	// The answer lands in the graph's training layer on save.
	view := deps.Graph.Export()
	found := false
	for _, n := range view.Nodes {
		if t, _ := n["type"].(string); t == "training_qa" {
			found = true
		}
	}
	if !found {
		t.Error("training answer did not reach the knowledge graph")
	}

	rec = doRequest(t, h, http.MethodGet, "/training/stats", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats training.Stats
	decodeBody(t, rec, &stats)
	if stats.TotalAnswers != 1 || stats.Categories["Moral questions"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTrainingSession(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	session := `{"category":"Preferences","answers":[
		{"question_id":"pref_1","question":"q","answer":"Reading","answer_type":"text","category":"Preferences"},
		{"question_id":"pref_3","question":"q","answer":["Analytical problems"],"answer_type":"multiple_choice","category":"Preferences"}
	]}`
	rec := doRequest(t, h, http.MethodPost, "/training/session", strings.NewReader(session), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		AnswersSaved int `json:"answers_saved"`
	}
	decodeBody(t, rec, &resp)
	if resp.AnswersSaved != 2 {
		t.Errorf("answers_saved = %d, want 2", resp.AnswersSaved)
	}
}

func TestKnowledgeGraphExportAndEntries(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	entry := `{"category":"Knowledge","question":"Where did you grow up?","answer":"Kyiv"}`
	rec := doRequest(t, h, http.MethodPost, "/knowledge-graph/entries", strings.NewReader(entry), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("add entry status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var added struct {
		NodeID string `json:"node_id"`
	}
	decodeBody(t, rec, &added)
	if !strings.HasPrefix(added.NodeID, "Knowledge:") {
		t.Errorf("node_id = %q", added.NodeID)
	}

	rec = doRequest(t, h, http.MethodGet, "/knowledge-graph", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	var view struct {
		Nodes []map[string]any `json:"nodes"`
		Links []map[string]any `json:"links"`
	}
	decodeBody(t, rec, &view)
	found := false
	for _, n := range view.Nodes {
		if n["id"] == added.NodeID {
			found = true
		}
	}
	if !found {
		t.Errorf("exported graph missing node %s", added.NodeID)
	}
}

func TestAddGraphEntryInvalidCategory(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	entry := `{"category":"Gossip","question":"q","answer":"a"}`
	rec := doRequest(t, h, http.MethodPost, "/knowledge-graph/entries", strings.NewReader(entry), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSupportedTypes(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	rec := doRequest(t, h, http.MethodGet, "/analysis/supported-types", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		AnalysisTypes []string `json:"analysis_types"`
		FileTypes     []string `json:"file_types"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.AnalysisTypes) != 3 || len(resp.FileTypes) == 0 {
		t.Errorf("response = %+v", resp)
	}
}
