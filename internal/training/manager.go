// Package training serves the predefined questionnaires and keeps submitted
// answers flowing into both the answer store and the knowledge graph.
package training

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/storage"
)

// The original frontend submitted timestamps from Python's
// datetime.isoformat(), so answer timestamps keep that shape.
const timestampLayout = "2006-01-02T15:04:05.000000"

// AnswerStore persists training answers and doubles as the snapshot source
// for graph resync. *storage.Store satisfies it.
type AnswerStore interface {
	SaveTrainingAnswer(a storage.TrainingAnswer) error
	ListTrainingAnswers(category string) ([]storage.TrainingAnswer, error)
	TrainingRecords() ([]graph.TrainingRecord, error)
}

// GraphSyncer rebuilds the graph's training layer from an answer snapshot.
type GraphSyncer interface {
	SyncTraining(src graph.TrainingSource) error
}

// Answer is one submitted questionnaire answer.
type Answer struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Answer     any    `json:"answer"`
	AnswerType string `json:"answer_type"`
	Category   string `json:"category"`
}

// Manager coordinates answer persistence with graph synchronization.
type Manager struct {
	store AnswerStore
	graph GraphSyncer
	now   func() time.Time
}

func NewManager(store AnswerStore, graph GraphSyncer) *Manager {
	return &Manager{store: store, graph: graph, now: time.Now}
}

// SaveAnswer stores a single answer and resyncs the graph's training layer.
// The returned timestamp is the one recorded with the answer.
func (m *Manager) SaveAnswer(a Answer) (string, error) {
	ts := m.now().Format(timestampLayout)
	if err := m.store.SaveTrainingAnswer(storage.TrainingAnswer{
		QuestionID: a.QuestionID,
		Question:   a.Question,
		Answer:     a.Answer,
		AnswerType: a.AnswerType,
		Category:   a.Category,
		Timestamp:  ts,
	}); err != nil {
		return "", fmt.Errorf("saving answer %s: %w", a.QuestionID, err)
	}

	if err := m.graph.SyncTraining(m.store); err != nil {
		return ts, fmt.Errorf("syncing graph after answer %s: %w", a.QuestionID, err)
	}
	slog.Info("training answer saved", "question_id", a.QuestionID, "category", a.Category)
	return ts, nil
}

// SaveSession stores a batch of answers from one questionnaire sitting and
// resyncs the graph once at the end.
func (m *Manager) SaveSession(answers []Answer) (string, error) {
	ts := m.now().Format(timestampLayout)
	for _, a := range answers {
		if err := m.store.SaveTrainingAnswer(storage.TrainingAnswer{
			QuestionID: a.QuestionID,
			Question:   a.Question,
			Answer:     a.Answer,
			AnswerType: a.AnswerType,
			Category:   a.Category,
			Timestamp:  ts,
		}); err != nil {
			return "", fmt.Errorf("saving answer %s: %w", a.QuestionID, err)
		}
	}

	if err := m.graph.SyncTraining(m.store); err != nil {
		return ts, fmt.Errorf("syncing graph after session: %w", err)
	}
	slog.Info("training session saved", "answers", len(answers))
	return ts, nil
}

// Data returns stored answers, optionally filtered by category.
func (m *Manager) Data(category string) ([]storage.TrainingAnswer, error) {
	return m.store.ListTrainingAnswers(category)
}

// Stats summarizes the stored answers.
type Stats struct {
	TotalAnswers        int            `json:"total_answers"`
	Categories          map[string]int `json:"categories"`
	AnswerTypes         map[string]int `json:"answer_types"`
	AvailableCategories []string       `json:"available_categories"`
}

func (m *Manager) Stats() (Stats, error) {
	answers, err := m.store.ListTrainingAnswers("")
	if err != nil {
		return Stats{}, fmt.Errorf("loading answers: %w", err)
	}

	stats := Stats{
		TotalAnswers:        len(answers),
		Categories:          make(map[string]int),
		AnswerTypes:         make(map[string]int),
		AvailableCategories: Categories(),
	}
	for _, a := range answers {
		stats.Categories[a.Category]++
		stats.AnswerTypes[a.AnswerType]++
	}
	return stats, nil
}
