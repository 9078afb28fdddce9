package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uteach-dev/uteach/internal/model"

	_ "modernc.org/sqlite"
)

// Field names the per-session values the store persists. The set is fixed:
// a reader asking for anything else gets the degrade-to-absent behavior.
const (
	FieldQuestions = "questions"
	FieldSelected  = "selected_question"
	FieldDraft     = "answer"
	FieldPersona   = "persona"
)

// Store is durable key-value persistence for session state, namespaced by
// user id and session id. It holds no business logic: values are opaque
// JSON blobs and corrupted values degrade to absent rather than erroring.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_state (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, session_id, field)
	);

	CREATE TABLE IF NOT EXISTS session_index (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		material_id TEXT NOT NULL DEFAULT '',
		material_title TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT '',
		questions TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS client_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts one field for a session. Writes are visible to an immediate
// subsequent Load on the same store.
func (s *Store) Save(userID, sessionID, field, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_state (user_id, session_id, field, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, session_id, field) DO UPDATE SET value = ?, updated_at = ?`,
		userID, sessionID, field, value, time.Now(), value, time.Now(),
	)
	return err
}

// Load returns the stored value for a field, or "" when absent.
func (s *Store) Load(userID, sessionID, field string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM session_state WHERE user_id = ? AND session_id = ? AND field = ?`,
		userID, sessionID, field,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Clear removes every field and the index entry for one session, in one
// transaction so the index never references missing blobs.
func (s *Store) Clear(userID, sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_state WHERE user_id = ? AND session_id = ?`, userID, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM session_index WHERE user_id = ? AND session_id = ?`, userID, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearAll removes everything in a user's namespace: the session index and
// all session blobs together, so a partial failure cannot leave index
// entries pointing at missing state or vice versa.
func (s *Store) ClearAll(userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_state WHERE user_id = ?`, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM session_index WHERE user_id = ?`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveQuestions persists a session's ordered question sequence.
func (s *Store) SaveQuestions(userID, sessionID string, questions []model.Question) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	return s.Save(userID, sessionID, FieldQuestions, string(data))
}

// Questions returns the persisted question sequence in generation order.
// A missing or corrupted value yields nil, never an error: the store is a
// cache, the backend-held session remains authoritative.
func (s *Store) Questions(userID, sessionID string) ([]model.Question, error) {
	raw, err := s.Load(userID, sessionID, FieldQuestions)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var questions []model.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		slog.Warn("discarding corrupted questions blob", "session_id", sessionID, "error", err)
		return nil, nil
	}
	return questions, nil
}

// SaveSelected persists the selected question id.
func (s *Store) SaveSelected(userID, sessionID, questionID string) error {
	return s.Save(userID, sessionID, FieldSelected, questionID)
}

// Selected returns the persisted selected question id, or "".
func (s *Store) Selected(userID, sessionID string) (string, error) {
	return s.Load(userID, sessionID, FieldSelected)
}

// SaveDraft persists the in-progress answer text.
func (s *Store) SaveDraft(userID, sessionID, text string) error {
	return s.Save(userID, sessionID, FieldDraft, text)
}

// Draft returns the persisted answer text, or "".
func (s *Store) Draft(userID, sessionID string) (string, error) {
	return s.Load(userID, sessionID, FieldDraft)
}

// SavePersona persists the session persona.
func (s *Store) SavePersona(userID, sessionID string, p model.Persona) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode persona: %w", err)
	}
	return s.Save(userID, sessionID, FieldPersona, string(data))
}

// Persona returns the persisted persona. Missing or corrupted values
// degrade to the zero Persona.
func (s *Store) Persona(userID, sessionID string) (model.Persona, error) {
	raw, err := s.Load(userID, sessionID, FieldPersona)
	if err != nil || raw == "" {
		return model.Persona{}, err
	}
	var p model.Persona
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("discarding corrupted persona blob", "session_id", sessionID, "error", err)
		return model.Persona{}, nil
	}
	return p, nil
}

// PutSummary upserts a session's entry in the user's history index.
func (s *Store) PutSummary(userID string, sum model.SessionSummary) error {
	questions, err := json.Marshal(sum.Questions)
	if err != nil {
		return fmt.Errorf("encode summary questions: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO session_index (user_id, session_id, material_id, material_title, level, questions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, session_id) DO UPDATE SET
			material_id = ?, material_title = ?, level = ?, questions = ?`,
		userID, sum.SessionID, sum.MaterialID, sum.MaterialTitle, string(sum.Level), string(questions), time.Now(),
		sum.MaterialID, sum.MaterialTitle, string(sum.Level), string(questions),
	)
	return err
}

// Summaries returns the user's locally cached session index, newest first.
// Entries whose question blob fails to decode are returned with no
// questions rather than dropped.
func (s *Store) Summaries(userID string) ([]model.SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT session_id, material_id, material_title, level, questions
		 FROM session_index WHERE user_id = ? ORDER BY created_at DESC, session_id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []model.SessionSummary
	for rows.Next() {
		var sum model.SessionSummary
		var level, questions string
		if err := rows.Scan(&sum.SessionID, &sum.MaterialID, &sum.MaterialTitle, &level, &questions); err != nil {
			return nil, err
		}
		sum.Level = model.Level(level)
		if err := json.Unmarshal([]byte(questions), &sum.Questions); err != nil {
			slog.Warn("discarding corrupted index questions", "session_id", sum.SessionID, "error", err)
			sum.Questions = nil
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
