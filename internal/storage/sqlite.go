package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore хранит сеансы в SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore открывает базу и создает схему
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			role TEXT,
			feedback_status TEXT,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			session_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			question_id TEXT NOT NULL,
			question_type TEXT NOT NULL,
			question TEXT,
			answer TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			has_video INTEGER NOT NULL DEFAULT 0,
			final INTEGER NOT NULL DEFAULT 0,
			submitted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, position),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Save заменяет запись сеанса целиком
func (s *SQLiteStore) Save(ctx context.Context, rec *SessionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var completed any
	if !rec.CompletedAt.IsZero() {
		completed = rec.CompletedAt
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions (id, role, feedback_status, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			feedback_status = excluded.feedback_status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		rec.SessionID, rec.Role, rec.FeedbackStatus, rec.StartedAt, completed, time.Now())
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE session_id = ?`, rec.SessionID); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	for i, a := range rec.Answers {
		_, err := tx.ExecContext(ctx, `INSERT INTO answers
			(session_id, position, question_id, question_type, question, answer, attempts, has_video, final, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, i, a.QuestionID, a.QuestionType, a.Question, a.Answer, a.Attempts, a.HasVideo, a.Final, a.SubmittedAt)
		if err != nil {
			return fmt.Errorf("save answer %s: %w", a.QuestionID, err)
		}
	}
	return tx.Commit()
}

// Load возвращает запись сеанса вместе с ответами
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	rec := &SessionRecord{SessionID: sessionID}
	var (
		role, status sql.NullString
		completed    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT role, feedback_status, started_at, completed_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&role, &status, &rec.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	rec.Role = role.String
	rec.FeedbackStatus = status.String
	if completed.Valid {
		rec.CompletedAt = completed.Time
	}

	rows, err := s.db.QueryContext(ctx, `SELECT question_id, question_type, question, answer, attempts, has_video, final, submitted_at
		FROM answers WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	rec.Answers = []AnswerRecord{}
	for rows.Next() {
		var (
			a        AnswerRecord
			question sql.NullString
			answer   sql.NullString
		)
		if err := rows.Scan(&a.QuestionID, &a.QuestionType, &question, &answer, &a.Attempts, &a.HasVideo, &a.Final, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.Question = question.String
		a.Answer = answer.String
		rec.Answers = append(rec.Answers, a)
	}
	return rec, rows.Err()
}

// List возвращает идентификаторы сеансов, новые первыми
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
