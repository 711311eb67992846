package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SnapshotFile is the graph snapshot filename inside the data directory.
const SnapshotFile = "knowledge_graph.json"

// TrainingSource yields the full training-answer snapshot.
// Implemented by storage.Store.
type TrainingSource interface {
	TrainingRecords() ([]TrainingRecord, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager owns the in-memory graph for the process lifetime and serializes
// every mutation through one critical section, flushing a snapshot to disk
// after each mutation batch. This removes the load→mutate→save lost-update
// race without changing external behavior.
type Manager struct {
	path  string
	clock Clock

	mu sync.Mutex
	g  *Graph
}

// Open loads the graph snapshot from dataDir, falling back to a freshly
// initialized graph when the snapshot is missing or unreadable.
func Open(dataDir string, hashedIDs bool) *Manager {
	path := filepath.Join(dataDir, SnapshotFile)
	g, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("no graph snapshot found, initializing new graph", "path", path)
		} else {
			slog.Warn("could not load graph snapshot, initializing new graph",
				"path", path, "error", err)
		}
		g = New()
	}
	g.HashedIDs = hashedIDs
	return &Manager{path: path, clock: realClock{}, g: g}
}

// NewManagerWithClock creates a Manager over an existing graph with a custom
// clock (for testing). path may be empty to skip persistence.
func NewManagerWithClock(g *Graph, path string, clock Clock) *Manager {
	return &Manager{path: path, clock: clock, g: g}
}

// save flushes the current graph. Must be called with mu held.
func (m *Manager) save() error {
	if m.path == "" {
		return nil
	}
	if err := m.g.Save(m.path); err != nil {
		return fmt.Errorf("persisting graph: %w", err)
	}
	return nil
}

// AddManualEntry adds a Q&A entry directly. An invalid category propagates
// to the caller; nothing is persisted in that case.
func (m *Manager) AddManualEntry(category, question, answer string, extra Attrs) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.g.AddEntry(category, question, answer, extra)
	if err != nil {
		return "", err
	}
	if err := m.save(); err != nil {
		return id, err
	}
	return id, nil
}

// AddRelationship adds a labeled edge between two node ids.
func (m *Manager) AddRelationship(from, to, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.g.AddRelationship(from, to, relation)
	return m.save()
}

// IngestDocument folds LLM-extracted facts for one analyzed document into
// the graph under its provenance node and persists the result. The returned
// count reflects entries actually added; a persistence failure is reported
// alongside it so callers can surface "extracted but not persisted".
func (m *Manager) IngestDocument(info DocumentInfo, entries []Entry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := m.g.IngestDocumentEntries(info, entries, m.clock.Now())
	if err := m.save(); err != nil {
		return added, err
	}
	slog.Info("document entries folded into knowledge graph",
		"document_id", info.ID, "added", added,
		"nodes", m.g.NodeCount(), "edges", m.g.EdgeCount())
	return added, nil
}

// SyncTraining replaces the graph's training-answer nodes with the training
// store's full snapshot. A store read failure logs and returns without
// mutating the graph.
func (m *Manager) SyncTraining(src TrainingSource) error {
	records, err := src.TrainingRecords()
	if err != nil {
		slog.Warn("could not load training data, skipping graph sync", "error", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.g.SyncTrainingData(records)
	if err := m.save(); err != nil {
		return err
	}
	slog.Info("training answers synced into knowledge graph", "answers", len(records))
	return nil
}

// Export flattens the graph for visualization. The read path never surfaces
// a missing-graph error: Open already fell back to an initialized graph.
func (m *Manager) Export() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.g.Export()
}

// Counts returns the current node and edge counts.
func (m *Manager) Counts() (nodes, edges int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.g.NodeCount(), m.g.EdgeCount()
}
