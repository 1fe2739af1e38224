package interview

import (
	"fmt"
	"time"
)

// MaxAttempts - максимальное число попыток записи на один вопрос
const MaxAttempts = 3

// QuestionType определяет способ ответа на вопрос
type QuestionType string

const (
	TypeStandard     QuestionType = "standard"
	TypeCoding       QuestionType = "coding"
	TypeSystemDesign QuestionType = "system-design"
	TypeSpeech       QuestionType = "speech"
)

// Difficulty представляет сложность вопроса
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question представляет вопрос интервью. После получения не изменяется.
type Question struct {
	ID         string       `json:"id"`
	Text       string       `json:"text"`
	Type       QuestionType `json:"type"`
	Skills     []string     `json:"skills,omitempty"`
	Difficulty Difficulty   `json:"difficulty"`
}

// Captured сообщает, отвечают ли на вопрос записью (видео + расшифровка)
func (q Question) Captured() bool {
	switch q.Type {
	case TypeCoding, TypeSystemDesign:
		return false
	default:
		return true
	}
}

func (q Question) String() string {
	return fmt.Sprintf("%s [%s/%s]", q.ID, q.Type, q.Difficulty)
}

// Phase представляет фазу сессии
type Phase string

const (
	PhasePreInterview     Phase = "pre-interview"
	PhaseAnswering        Phase = "answering"
	PhaseSubmitting       Phase = "submitting"
	PhaseAwaitingFeedback Phase = "awaiting-feedback"
	PhaseComplete         Phase = "complete"
)

// Session хранит прогресс интервью. Принадлежит только контроллеру сессии.
type Session struct {
	ID            string `json:"session_id"`
	QuestionIndex int    `json:"question_index"`
	MaxQuestions  int    `json:"max_questions,omitempty"`
	Phase         Phase  `json:"phase"`
}

// UpdateMax применяет пришедшее с бэкенда число вопросов, не откатывая уже показанный прогресс
func (s *Session) UpdateMax(n int) {
	if n <= 0 {
		return
	}
	if n < s.QuestionIndex {
		n = s.QuestionIndex
	}
	s.MaxQuestions = n
}

// IsFinal сообщает, является ли текущий вопрос последним
func (s Session) IsFinal() bool {
	return s.MaxQuestions > 0 && s.QuestionIndex >= s.MaxQuestions
}

// Video - записанный фрагмент видео
type Video struct {
	Data     []byte
	MimeType string
}

// Empty сообщает, что в фрагменте нет данных
func (v *Video) Empty() bool {
	return v == nil || len(v.Data) == 0
}

// RecordingAttempt представляет одну попытку записи ответа
type RecordingAttempt struct {
	ID         string
	Number     int
	Transcript string
	Video      *Video
	StartedAt  time.Time
	StoppedAt  time.Time
}

// FeedbackStatus - статус асинхронной генерации отчета
type FeedbackStatus string

const (
	FeedbackNotRequested FeedbackStatus = "not_requested"
	FeedbackPending      FeedbackStatus = "pending"
	FeedbackCompleted    FeedbackStatus = "completed"
	FeedbackFailed       FeedbackStatus = "failed"
)

// FeedbackJob отслеживает задачу генерации отчета на бэкенде
type FeedbackJob struct {
	Status FeedbackStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// Terminal сообщает, достигнуто ли конечное состояние
func (j FeedbackJob) Terminal() bool {
	return j.Status == FeedbackCompleted || j.Status == FeedbackFailed
}

// Rating - оценка сессии пользователем
type Rating struct {
	Value    int    `json:"rating"`
	Comments string `json:"comments,omitempty"`
}

// Validate проверяет диапазон оценки
func (r Rating) Validate() error {
	if r.Value < 1 || r.Value > 5 {
		return &ValidationError{Reason: fmt.Sprintf("rating must be between 1 and 5, got %d", r.Value)}
	}
	return nil
}
