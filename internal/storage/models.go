package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded document plus its metadata. Content is omitted
// from list queries.
type Document struct {
	ID          string
	Filename    string
	ContentType string
	FileType    string
	FileSize    int64
	UploadDate  time.Time
	Description string
	Category    string
	Content     []byte
}

// TrainingAnswer is one submitted questionnaire answer. Answer is a string
// for text answers or a []string for multiple-choice selections; it is
// stored as JSON. Timestamp stays a string because training node identity in
// the graph derives from it verbatim.
type TrainingAnswer struct {
	ID         int64
	QuestionID string
	Question   string
	Answer     any
	AnswerType string // "text" or "multiple_choice"
	Category   string // questionnaire category name
	Timestamp  string
}

// AnalysisResult is the per-document analysis record.
type AnalysisResult struct {
	DocumentID        string
	Filename          string
	FileType          string
	FileSize          int64
	AnalysisType      string // comma-joined requested types
	Status            string // "processing", "completed", "failed"
	ResultsJSON       string
	ErrorMessage      string
	StartedAt         time.Time
	CompletedAt       time.Time // zero until finished
	ProcessingSeconds float64
}

// Job is a queued background task.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
