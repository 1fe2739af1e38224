package session

import (
	"time"

	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/recording"
)

// EventKind - вид уведомления для интерфейса
type EventKind string

const (
	EventQuestion   EventKind = "question"
	EventPhase      EventKind = "phase"
	EventTick       EventKind = "tick"
	EventFace       EventKind = "face"
	EventTranscript EventKind = "transcript"
	EventRecording  EventKind = "recording"
	EventExpired    EventKind = "expired"
	EventFeedback   EventKind = "feedback"
	EventError      EventKind = "error"
)

// Event - уведомление контроллера. Заполнены только поля, относящиеся к Kind.
type Event struct {
	Kind         EventKind
	Session      interview.Session
	Question     *interview.Question
	Remaining    time.Duration
	FacePresent  bool
	Transcript   string
	Recording    recording.State
	Attempt      *interview.RecordingAttempt
	AttemptsLeft int
	Feedback     *interview.FeedbackJob
	Err          error
}

// Notifier получает события. Вызывается из разных горутин и не должен
// синхронно вызывать методы контроллера.
type Notifier func(Event)

// Snapshot - согласованная копия состояния для отображения.
// Expired означает, что время на вопрос без записи вышло и ответ принимается без проверки содержания.
type Snapshot struct {
	Session       interview.Session
	Question      interview.Question
	Recording     recording.State
	AttemptsLeft  int
	Remaining     time.Duration
	Expired       bool
	Saved         *interview.RecordingAttempt
	FacePresent   bool
	Feedback      interview.FeedbackJob
	CanRegenerate bool
	CanViewReport bool
}
