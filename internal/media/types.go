package media

import (
	"context"

	"interview-orchestrator/internal/interview"
)

// Device открывает поток камеры и микрофона.
// Отказ в доступе возвращается как interview.ErrPermissionDenied, отсутствие API - как interview.ErrUnsupported.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream - захваченный медиапоток
type Stream interface {
	// StartClip начинает новый фрагмент записи
	StartClip() error
	// StopClip завершает фрагмент; nil, если ничего не записано
	StopClip() (*interview.Video, error)
	// Live возвращает false, если дорожка завершена или отключена извне
	Live() bool
	Close() error
}

// FaceDetector проверяет наличие лица в текущем кадре потока
type FaceDetector interface {
	FacePresent(ctx context.Context, s Stream) (bool, error)
}

// State - состояние адаптера
type State string

const (
	StateIdle      State = "idle"
	StateReady     State = "ready"
	StateRecording State = "recording"
	StateError     State = "error"
)
