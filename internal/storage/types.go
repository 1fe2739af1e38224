package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound - запись сеанса отсутствует
var ErrNotFound = errors.New("session record not found")

// SessionRecord - архив завершенного интервью
type SessionRecord struct {
	SessionID      string         `json:"session_id"`
	Role           string         `json:"role,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at,omitempty"`
	FeedbackStatus string         `json:"feedback_status,omitempty"`
	Answers        []AnswerRecord `json:"answers"`
}

// AnswerRecord - один отправленный ответ
type AnswerRecord struct {
	QuestionID   string    `json:"question_id"`
	QuestionType string    `json:"question_type"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	Attempts     int       `json:"attempts,omitempty"`
	HasVideo     bool      `json:"has_video,omitempty"`
	Final        bool      `json:"final,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Store - архив сеансов
type Store interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Load(ctx context.Context, sessionID string) (*SessionRecord, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}
