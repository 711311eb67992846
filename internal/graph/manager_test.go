package graph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type fakeTrainingSource struct {
	records []TrainingRecord
	err     error
}

func (s *fakeTrainingSource) TrainingRecords() ([]TrainingRecord, error) {
	return s.records, s.err
}

func TestOpenFallsBackToInitializedGraph(t *testing.T) {
	m := Open(t.TempDir(), false)
	view := m.Export()
	if len(view.Nodes) == 0 {
		t.Fatal("expected initialized graph, got empty export")
	}

	found := false
	for _, n := range view.Nodes {
		if n["id"] == "Knowledge" && n["type"] == "category" {
			found = true
		}
	}
	if !found {
		t.Error("initialized graph missing Knowledge category node")
	}
}

func TestOpenFallsBackOnCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SnapshotFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing corrupt snapshot: %v", err)
	}

	m := Open(dir, false)
	if nodes, _ := m.Counts(); nodes == 0 {
		t.Fatal("expected initialized graph after corrupt snapshot")
	}
}

func TestManagerPersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	m := Open(dir, false)
	if _, err := m.AddManualEntry("Feelings", "How do you feel today?", "Curious", nil); err != nil {
		t.Fatalf("AddManualEntry: %v", err)
	}

	reopened := Open(dir, false)
	view := reopened.Export()
	found := false
	for _, n := range view.Nodes {
		if n["id"] == "Feelings:How do you feel today?" {
			found = true
			if n["answer"] != "Curious" {
				t.Errorf("answer = %v, want Curious", n["answer"])
			}
		}
	}
	if !found {
		t.Error("entry not found after reopen")
	}
}

func TestAddManualEntryInvalidCategoryPropagates(t *testing.T) {
	m := Open(t.TempDir(), false)
	if _, err := m.AddManualEntry("Vibes", "q", "a", nil); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("error = %v, want ErrInvalidCategory", err)
	}
}

func TestIngestDocumentProvenance(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)}
	m := NewManagerWithClock(New(), filepath.Join(t.TempDir(), SnapshotFile), clock)

	info := DocumentInfo{ID: "d42", Filename: "bio.md", FileType: "md", FileSize: 512, UploadDate: "2024-03-01"}
	entries := []Entry{
		{Category: "Preferences", Question: "Favorite hobby?", Answer: "Reading"},
		{Category: "Morals", Question: "Core value?", Answer: "Honesty"},
		{Category: "Nonsense", Question: "Where did you grow up?", Answer: "By the sea"},
	}

	added, err := m.IngestDocument(info, entries)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if added != 3 {
		t.Fatalf("added = %d, want 3 (invalid category falls back, not dropped)", added)
	}

	m.mu.Lock()
	g := m.g
	docID := DocumentNodeID("d42")

	contains := 0
	for _, e := range g.EdgesFrom(docID) {
		if e.Relation == "contains" {
			contains++
		}
	}
	if contains != 3 {
		t.Errorf("contains edges = %d, want 3", contains)
	}

	// The invalid-category entry landed under Knowledge.
	fallbackID := "Knowledge:Where did you grow up?"
	if _, ok := g.Node(fallbackID); !ok {
		t.Errorf("fallback entry %q missing", fallbackID)
	}

	in := g.EdgesInto(docID)
	if len(in) != 1 || in[0].Source != DocumentHubID {
		t.Errorf("edges into %q = %v, want one from %q", docID, in, DocumentHubID)
	}
	m.mu.Unlock()
}

func TestReanalysisPreservesDocumentIdentity(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)}
	m := NewManagerWithClock(New(), "", clock)

	info := DocumentInfo{ID: "d7", Filename: "cv.pdf", FileType: "pdf", FileSize: 2048, UploadDate: "2024-03-01"}
	if _, err := m.IngestDocument(info, []Entry{{Category: "Knowledge", Question: "Degree?", Answer: "CS"}}); err != nil {
		t.Fatalf("first IngestDocument: %v", err)
	}

	clock.t = clock.t.Add(48 * time.Hour)
	// Re-analysis arrives with drifted metadata; everything but the
	// analysis timestamp stays frozen at first-creation values.
	info2 := info
	info2.Filename = "cv-renamed.pdf"
	info2.FileSize = 9999
	if _, err := m.IngestDocument(info2, nil); err != nil {
		t.Fatalf("second IngestDocument: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	instances := m.g.NodeIDsOfType(TypeDocumentInstance)
	if len(instances) != 1 {
		t.Fatalf("document instance nodes = %d, want 1", len(instances))
	}
	n, _ := m.g.Node(instances[0])
	if n.Attrs["filename"] != "cv.pdf" {
		t.Errorf("filename = %v, want frozen cv.pdf", n.Attrs["filename"])
	}
	if n.Attrs["file_size"] != float64(2048) {
		t.Errorf("file_size = %v, want frozen 2048", n.Attrs["file_size"])
	}
	if ts := n.Attrs["analysis_timestamp"]; !strings.HasPrefix(ts.(string), "2024-03-04") {
		t.Errorf("analysis_timestamp = %v, want refreshed", ts)
	}
}

func TestSyncTrainingStoreErrorDoesNotMutate(t *testing.T) {
	m := NewManagerWithClock(New(), "", &fakeClock{t: time.Now()})
	if err := m.SyncTraining(&fakeTrainingSource{records: syncRecords("moral_1")}); err != nil {
		t.Fatalf("SyncTraining: %v", err)
	}
	nodesBefore, edgesBefore := m.Counts()

	if err := m.SyncTraining(&fakeTrainingSource{err: errors.New("disk on fire")}); err != nil {
		t.Fatalf("SyncTraining with failing source: %v", err)
	}
	nodes, edges := m.Counts()
	if nodes != nodesBefore || edges != edgesBefore {
		t.Errorf("graph mutated on source error: nodes %d→%d, edges %d→%d",
			nodesBefore, nodes, edgesBefore, edges)
	}
}
