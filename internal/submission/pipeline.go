package submission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"interview-orchestrator/internal/api"
	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/metrics"
)

// Backend - часть клиента бэкенда, нужная для отправки ответов
type Backend interface {
	SubmitAnswer(ctx context.Context, req api.SubmitAnswerRequest) (*api.SubmitAnswerResponse, error)
}

// Outcome - результат отправки: завершение сеанса или следующий вопрос
type Outcome struct {
	Completed      bool
	Next           *interview.Question
	QuestionNumber int
	MaxQuestions   int
}

// Config настраивает конвейер
type Config struct {
	Rules   Rules
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Pipeline отправляет ответы на вопросы
type Pipeline struct {
	backend Backend
	rules   Rules
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewPipeline создает конвейер отправки
func NewPipeline(backend Backend, cfg Config) *Pipeline {
	if cfg.Rules.Placeholders == nil {
		cfg.Rules = DefaultRules()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		backend: backend,
		rules:   cfg.Rules,
		metrics: cfg.Metrics,
		logger:  logger.With("component", "submission"),
		tracer:  otel.Tracer("interview-orchestrator/submission"),
	}
}

// Validate проверяет ответ без отправки
func (p *Pipeline) Validate(q interview.Question, a Answer) error {
	return p.rules.Validate(q, a)
}

// Submit проверяет и отправляет ответ. Любая ошибка возвращается как *interview.SubmissionError.
func (p *Pipeline) Submit(ctx context.Context, s interview.Session, q interview.Question, a Answer) (*Outcome, error) {
	final := s.IsFinal()
	ctx, span := p.tracer.Start(ctx, "submit-answer", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("question.id", q.ID),
		attribute.String("question.type", string(q.Type)),
		attribute.Bool("question.final", final),
	))
	defer span.End()

	fail := func(err error) (*Outcome, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &interview.SubmissionError{QuestionID: q.ID, Final: final, Err: err}
	}

	if err := p.rules.Validate(q, a); err != nil {
		return fail(err)
	}

	req := BuildPayload(s.ID, q, a, final)
	req.IdempotencyKey = idempotencyKey(q, a)

	resp, err := p.backend.SubmitAnswer(ctx, req)
	if err != nil {
		p.logger.Warn("submit answer failed",
			"session_id", s.ID,
			"question_id", q.ID,
			"final", final,
			"error", err)
		return fail(err)
	}

	out := &Outcome{
		Completed:      resp.Completed,
		Next:           resp.NextQuestion,
		QuestionNumber: resp.QuestionNumber,
		MaxQuestions:   resp.CurrentMaxQuestions,
	}
	if !out.Completed && out.Next == nil {
		return fail(fmt.Errorf("backend returned neither a next question nor completion"))
	}

	p.metrics.IncrementQuestionsAnswered()
	span.SetAttributes(attribute.Bool("session.completed", out.Completed))
	p.logger.Info("answer submitted",
		"session_id", s.ID,
		"question_id", q.ID,
		"completed", out.Completed)
	return out, nil
}

// idempotencyKey совпадает для повторов одной и той же попытки записи
func idempotencyKey(q interview.Question, a Answer) string {
	if a.Recording != nil && a.Recording.ID != "" {
		return q.ID + ":" + a.Recording.ID
	}
	return uuid.NewString()
}
