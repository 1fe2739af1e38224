package interview

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки, которые возвращают реализации возможностей хоста (камера, распознавание речи)
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnsupported      = errors.New("not supported by host")
)

// Ошибки переходов состояний
var (
	ErrNotReady          = errors.New("media stream is not acquired")
	ErrAttemptsExhausted = errors.New("no recording attempts left")
	ErrNoFace            = errors.New("face not detected")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrWrongPhase        = errors.New("operation not allowed in current phase")
	ErrValidation        = errors.New("answer validation failed")
)

// PermissionError - доступ к камере или микрофону запрещен или отозван
type PermissionError struct {
	Device  string
	Revoked bool
	Err     error
}

func (e *PermissionError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("%s access was revoked", e.Device)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s access denied: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("%s access denied", e.Device)
}

func (e *PermissionError) Unwrap() error {
	if e.Err == nil {
		return ErrPermissionDenied
	}
	return e.Err
}

// UnsupportedError - хост не поддерживает нужный API
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported", e.Feature)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// TranscriptionError - сбой распознавания речи
type TranscriptionError struct {
	Err        error
	Permission bool
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ValidationError описывает, почему ответ не может быть отправлен
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SubmissionError - сбой отправки ответа
type SubmissionError struct {
	QuestionID string
	Final      bool
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit answer for question %s: %v", e.QuestionID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Recoverable сообщает, можно ли повторить отправку
func (e *SubmissionError) Recoverable() bool { return !e.Final }

// FeedbackJobError - задача генерации отчета завершилась ошибкой
type FeedbackJobError struct {
	Message string
}

func (e *FeedbackJobError) Error() string {
	if e.Message == "" {
		return "feedback generation failed"
	}
	return "feedback generation failed: " + e.Message
}

// Retryable сообщает, имеет ли смысл перегенерация
func (e *FeedbackJobError) Retryable() bool { return true }

// NoAnsweredQuestionsError - отчет невозможен: в сессии нет ответов
type NoAnsweredQuestionsError struct {
	Message string
}

func (e *NoAnsweredQuestionsError) Error() string {
	return "no answered questions found in this session"
}

func (e *NoAnsweredQuestionsError) Retryable() bool { return false }

const noAnsweredMarker = "no answered questions"

// ClassifyFeedbackError превращает текст ошибки бэкенда в типизированную ошибку
func ClassifyFeedbackError(message string) error {
	if strings.Contains(strings.ToLower(message), noAnsweredMarker) {
		return &NoAnsweredQuestionsError{Message: message}
	}
	return &FeedbackJobError{Message: message}
}

// Retryable сообщает, можно ли повторить операцию, завершившуюся ошибкой err
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var sub *SubmissionError
	if errors.As(err, &sub) {
		return sub.Recoverable()
	}
	var perm *PermissionError
	var unsup *UnsupportedError
	if errors.As(err, &perm) || errors.As(err, &unsup) {
		return false
	}
	return true
}
