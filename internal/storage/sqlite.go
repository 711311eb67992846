package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/selfgraph/internal/graph"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for documents, training
// answers, analysis results, and the background job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "selfgraph.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Documents ---

func (s *Store) SaveDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, filename, content_type, file_type, file_size, upload_date, description, category, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Filename, d.ContentType, d.FileType, d.FileSize,
		d.UploadDate.UTC().Format(time.RFC3339), d.Description, d.Category, d.Content,
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var uploadDate string
	err := s.db.QueryRow(`
		SELECT id, filename, content_type, file_type, file_size, upload_date, description, category, content
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Filename, &d.ContentType, &d.FileType, &d.FileSize, &uploadDate, &d.Description, &d.Category, &d.Content)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, uploadDate)
	if err != nil {
		return Document{}, fmt.Errorf("parsing upload_date: %w", err)
	}
	d.UploadDate = t
	return d, nil
}

// ListDocuments returns document metadata without content, newest first.
func (s *Store) ListDocuments(limit, offset int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, content_type, file_type, file_size, upload_date, description, category
		FROM documents ORDER BY upload_date DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var uploadDate string
		if err := rows.Scan(&d.ID, &d.Filename, &d.ContentType, &d.FileType, &d.FileSize, &uploadDate, &d.Description, &d.Category); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, uploadDate)
		if err != nil {
			return nil, fmt.Errorf("parsing upload_date: %w", err)
		}
		d.UploadDate = t
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Training answers ---

func (s *Store) SaveTrainingAnswer(a TrainingAnswer) error {
	answerJSON, err := json.Marshal(a.Answer)
	if err != nil {
		return fmt.Errorf("encoding answer: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO training_answers (question_id, question, answer_json, answer_type, category, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.QuestionID, a.Question, string(answerJSON), a.AnswerType, a.Category, a.Timestamp,
	)
	return err
}

// ListTrainingAnswers returns answers in submission order, optionally
// filtered by questionnaire category.
func (s *Store) ListTrainingAnswers(category string) ([]TrainingAnswer, error) {
	query := `SELECT id, question_id, question, answer_json, answer_type, category, timestamp
		FROM training_answers`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TrainingAnswer
	for rows.Next() {
		var a TrainingAnswer
		var answerJSON string
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Question, &answerJSON, &a.AnswerType, &a.Category, &a.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(answerJSON), &a.Answer); err != nil {
			return nil, fmt.Errorf("decoding answer for %s: %w", a.QuestionID, err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// TrainingRecords yields the full answer snapshot for graph resync.
// Implements graph.TrainingSource.
func (s *Store) TrainingRecords() ([]graph.TrainingRecord, error) {
	answers, err := s.ListTrainingAnswers("")
	if err != nil {
		return nil, err
	}
	records := make([]graph.TrainingRecord, len(answers))
	for i, a := range answers {
		records[i] = graph.TrainingRecord{
			QuestionID: a.QuestionID,
			Question:   a.Question,
			Answer:     a.Answer,
			AnswerType: a.AnswerType,
			Category:   a.Category,
			Timestamp:  a.Timestamp,
		}
	}
	return records, nil
}

// --- Analysis results ---

// UpsertAnalysisResult creates or replaces the analysis record for a document.
func (s *Store) UpsertAnalysisResult(r AnalysisResult) error {
	completedAt := ""
	if !r.CompletedAt.IsZero() {
		completedAt = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO analysis_results (document_id, filename, file_type, file_size, analysis_type, status, results_json, error_message, started_at, completed_at, processing_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			analysis_type = excluded.analysis_type,
			status = excluded.status,
			results_json = excluded.results_json,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			processing_seconds = excluded.processing_seconds`,
		r.DocumentID, r.Filename, r.FileType, r.FileSize, r.AnalysisType, r.Status,
		r.ResultsJSON, r.ErrorMessage, r.StartedAt.UTC().Format(time.RFC3339),
		completedAt, r.ProcessingSeconds,
	)
	return err
}

func scanAnalysisResult(scan func(dest ...any) error) (AnalysisResult, error) {
	var r AnalysisResult
	var startedAt, completedAt string
	if err := scan(&r.DocumentID, &r.Filename, &r.FileType, &r.FileSize, &r.AnalysisType,
		&r.Status, &r.ResultsJSON, &r.ErrorMessage, &startedAt, &completedAt, &r.ProcessingSeconds); err != nil {
		return AnalysisResult{}, err
	}
	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("parsing started_at: %w", err)
	}
	r.StartedAt = t
	if completedAt != "" {
		t, err := time.Parse(time.RFC3339, completedAt)
		if err != nil {
			return AnalysisResult{}, fmt.Errorf("parsing completed_at: %w", err)
		}
		r.CompletedAt = t
	}
	return r, nil
}

const analysisColumns = `document_id, filename, file_type, file_size, analysis_type, status, results_json, error_message, started_at, completed_at, processing_seconds`

func (s *Store) GetAnalysisResult(documentID string) (AnalysisResult, error) {
	row := s.db.QueryRow(`SELECT `+analysisColumns+` FROM analysis_results WHERE document_id = ?`, documentID)
	r, err := scanAnalysisResult(row.Scan)
	if err == sql.ErrNoRows {
		return AnalysisResult{}, ErrNotFound
	}
	return r, err
}

// ListAnalysisResults returns analysis records newest-completion-first,
// optionally filtered by status.
func (s *Store) ListAnalysisResults(status string, limit, offset int) ([]AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_results`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY CASE WHEN completed_at = '' THEN started_at ELSE completed_at END DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AnalysisResult
	for rows.Next() {
		r, err := scanAnalysisResult(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) DeleteAnalysisResult(documentID string) error {
	res, err := s.db.Exec(`DELETE FROM analysis_results WHERE document_id = ?`, documentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AnalysisStatusCounts returns result counts per status and the average
// processing time of completed analyses.
func (s *Store) AnalysisStatusCounts() (map[string]int, float64, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM analysis_results GROUP BY status`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, 0, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(processing_seconds) FROM analysis_results WHERE status = 'completed'`).Scan(&avg); err != nil {
		return nil, 0, err
	}
	return counts, avg.Float64, nil
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
