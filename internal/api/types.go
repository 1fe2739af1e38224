package api

import (
	"encoding/json"
	"fmt"

	"interview-orchestrator/internal/interview"
)

// StartSessionRequest - параметры нового интервью
type StartSessionRequest struct {
	Role       string   `json:"role"`
	Level      string   `json:"level,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	ResumeText string   `json:"resume_text,omitempty"`
}

// StartSessionResponse - первая порция сеанса
type StartSessionResponse struct {
	SessionID    string             `json:"session_id"`
	Question     interview.Question `json:"question"`
	MaxQuestions int                `json:"max_questions"`
}

// SubmitAnswerRequest - ответ на вопрос. Передается как multipart/form-data.
type SubmitAnswerRequest struct {
	SessionID    string
	Answer       string
	QuestionID   string
	QuestionType interview.QuestionType
	Diagram      json.RawMessage
	Video        *interview.Video
	IsFinal      bool
	// IdempotencyKey не дает бэкенду принять одну попытку дважды при повторе запроса
	IdempotencyKey string
}

// SubmitAnswerResponse - либо следующий вопрос, либо завершение сеанса
type SubmitAnswerResponse struct {
	Completed           bool                `json:"completed"`
	NextQuestion        *interview.Question `json:"next_question,omitempty"`
	QuestionNumber      int                 `json:"question_number,omitempty"`
	CurrentMaxQuestions int                 `json:"current_max_questions,omitempty"`
}

// FeedbackStatusResponse - состояние генерации отчета
type FeedbackStatusResponse = interview.FeedbackJob

// ExecuteFile - файл программы для удаленного запуска
type ExecuteFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// ExecuteRequest - запрос к сервису выполнения кода
type ExecuteRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []ExecuteFile `json:"files"`
	Stdin    string        `json:"stdin,omitempty"`
}

// StageResult - результат стадии компиляции или запуска
type StageResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"`
	Code   *int   `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// ExecuteResponse - ответ сервиса выполнения кода
type ExecuteResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      StageResult  `json:"run"`
	Compile  *StageResult `json:"compile,omitempty"`
}

// Success сообщает, что компиляция (если была) и запуск завершились с кодом 0
func (r ExecuteResponse) Success() bool {
	if r.Compile != nil && !r.Compile.ok() {
		return false
	}
	return r.Run.ok()
}

// Stdout возвращает вывод запуска
func (r ExecuteResponse) Stdout() string {
	if r.Run.Stdout != "" {
		return r.Run.Stdout
	}
	if r.Run.Stderr == "" {
		return r.Run.Output
	}
	return ""
}

// Stderr возвращает ошибки компиляции и запуска
func (r ExecuteResponse) Stderr() string {
	var out string
	if r.Compile != nil && !r.Compile.ok() {
		out = r.Compile.Stderr
		if out == "" {
			out = r.Compile.Output
		}
	}
	if r.Run.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Run.Stderr
	}
	return out
}

func (s StageResult) ok() bool {
	return s.Code != nil && *s.Code == 0 && s.Signal == ""
}

// HTTPError - ответ бэкенда с кодом вне 2xx
type HTTPError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend error: status %d, body: %s", e.StatusCode, e.Body)
}

// Temporary сообщает, имеет ли смысл повторить запрос
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}
