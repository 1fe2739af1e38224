// Package session связывает компоненты интервью в один сеанс: ведет фазы,
// переключает вопросы, отправляет ответы и ждет отчет.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"interview-orchestrator/internal/api"
	"interview-orchestrator/internal/feedback"
	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/media"
	"interview-orchestrator/internal/metrics"
	"interview-orchestrator/internal/recording"
	"interview-orchestrator/internal/storage"
	"interview-orchestrator/internal/submission"
	"interview-orchestrator/internal/timer"
	"interview-orchestrator/internal/transcription"
)

// Backend - все запросы к бэкенду интервью
type Backend interface {
	StartSession(ctx context.Context, req api.StartSessionRequest) (*api.StartSessionResponse, error)
	submission.Backend
	feedback.Backend
	feedback.RatingBackend
}

// Executor - удаленный запуск кода
type Executor interface {
	Execute(ctx context.Context, req api.ExecuteRequest) (*api.ExecuteResponse, error)
}

// Deps - внешние зависимости контроллера. Camera, Detector, Recognizer и Executor
// могут отсутствовать, если хост их не поддерживает.
type Deps struct {
	Backend    Backend
	Executor   Executor
	Camera     media.Device
	Detector   media.FaceDetector
	Recognizer transcription.Recognizer
	Store      storage.Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Clock      timer.Clock
}

// StartRequest - параметры нового интервью
type StartRequest struct {
	Role   string
	Level  string
	Skills []string
}

// Controller - единственный владелец состояния сеанса
type Controller struct {
	deps   Deps
	opts   options
	logger *slog.Logger

	media    *media.Adapter
	speech   *transcription.Adapter
	recorder *recording.Manager
	pipeline *submission.Pipeline
	poller   *feedback.Poller
	gate     *feedback.Gate

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	session  interview.Session
	question interview.Question
	qgen     uint64
	lastRun  *submission.CodeResult
	record   *storage.SessionRecord
	closed   bool

	// Вопросы без записи ограничены своим таймером; по истечении отправляется черновик
	answerTimer  *timer.Deadline
	answerCancel context.CancelFunc
	expired      bool
	codeDraft    *submission.CodeResult
	diagramDraft json.RawMessage
}

// New создает контроллер и все его компоненты
func New(deps Deps, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = timer.SystemClock()
	}

	c := &Controller{
		deps:    deps,
		opts:    o,
		logger:  logger.With("component", "session"),
		session: interview.Session{Phase: interview.PhasePreInterview},
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.media = media.NewAdapter(deps.Camera, deps.Detector, media.Config{
		SampleInterval: o.sampleInterval,
		Logger:         logger,
		OnFace: func(present bool) {
			c.emit(Event{Kind: EventFace, FacePresent: present})
		},
		OnError: func(err error) {
			c.emit(Event{Kind: EventError, Err: err})
		},
	})
	c.speech = transcription.NewAdapter(deps.Recognizer, transcription.Config{
		RestartDelay: o.restartDelay,
		Logger:       logger,
		OnUpdate: func(text string) {
			c.emit(Event{Kind: EventTranscript, Transcript: text})
		},
		OnError: func(err error) {
			c.emit(Event{Kind: EventError, Err: err})
		},
	})
	c.recorder = recording.NewManager(c.media, c.speech, recording.Config{
		MaxAttempts:  o.maxAttempts,
		Durations:    o.durations,
		TickInterval: o.tickInterval,
		Clock:        deps.Clock,
		Logger:       logger,
		Metrics:      deps.Metrics,
		Submit:       c.submitAttempt,
		OnTick: func(remaining time.Duration) {
			c.emit(Event{Kind: EventTick, Remaining: remaining})
		},
		OnStateChange: c.onRecordingChange,
	})
	c.pipeline = submission.NewPipeline(deps.Backend, submission.Config{
		Rules:   o.rules,
		Metrics: deps.Metrics,
		Logger:  logger,
	})
	c.poller = feedback.NewPoller(deps.Backend, feedback.Config{
		Interval: o.pollInterval,
		Logger:   logger,
		Metrics:  deps.Metrics,
		OnChange: c.onFeedback,
	})
	c.gate = feedback.NewGate(deps.Backend)
	return c
}

// Start создает сеанс на бэкенде и показывает первый вопрос
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	if c.closed || c.session.Phase != interview.PhasePreInterview {
		phase := c.session.Phase
		c.mu.Unlock()
		return fmt.Errorf("start session in phase %s: %w", phase, interview.ErrWrongPhase)
	}
	c.mu.Unlock()

	resp, err := c.deps.Backend.StartSession(ctx, api.StartSessionRequest{
		Role:   req.Role,
		Level:  req.Level,
		Skills: req.Skills,
	})
	if err != nil {
		return err
	}
	c.deps.Metrics.IncrementSessionsStarted()

	c.mu.Lock()
	c.session = interview.Session{
		ID:            resp.SessionID,
		QuestionIndex: 1,
		Phase:         interview.PhaseAnswering,
	}
	c.session.UpdateMax(resp.MaxQuestions)
	c.question = resp.Question
	c.qgen++
	c.resetDraftsLocked()
	gen := c.qgen
	c.record = &storage.SessionRecord{
		SessionID: resp.SessionID,
		Role:      req.Role,
		StartedAt: c.deps.Clock.Now(),
		Answers:   []storage.AnswerRecord{},
	}
	s, q := c.session, c.question
	c.mu.Unlock()

	c.logger.Info("session started",
		"session_id", s.ID,
		"max_questions", s.MaxQuestions)
	return c.enterQuestion(gen, s, q)
}

// enterQuestion готовит компоненты к новому вопросу
func (c *Controller) enterQuestion(gen uint64, s interview.Session, q interview.Question) error {
	c.recorder.Reset(q)
	c.stopAnswerTimer()
	c.emit(Event{Kind: EventQuestion, Session: s, Question: &q})
	c.emit(Event{Kind: EventPhase, Session: s})

	if !q.Captured() {
		c.media.Release()
		c.armAnswerTimer(gen, q)
		return nil
	}
	if err := c.media.Acquire(c.ctx); err != nil {
		return fmt.Errorf("acquire media for question %s: %w", q.ID, err)
	}
	return nil
}

// armAnswerTimer взводит дедлайн вопроса без записи: отсчет идет с показа вопроса
func (c *Controller) armAnswerTimer(gen uint64, q interview.Question) {
	duration := c.opts.durations.For(q)
	d := timer.New(
		timer.WithClock(c.deps.Clock),
		timer.OnTick(func(remaining time.Duration) {
			if c.isCurrent(gen) {
				c.emit(Event{Kind: EventTick, Remaining: remaining})
			}
		}),
		timer.OnExpire(func() { c.expireAnswer(gen) }),
	)
	d.Arm(duration)

	ctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	if c.closed || gen != c.qgen {
		c.mu.Unlock()
		cancel()
		return
	}
	c.answerTimer, c.answerCancel = d, cancel
	c.mu.Unlock()

	go d.Run(ctx, c.opts.tickInterval)
	c.logger.Info("answer timer armed", "question_id", q.ID, "duration", duration)
}

// stopAnswerTimer снимает дедлайн вопроса без записи. Повторный вызов безопасен.
func (c *Controller) stopAnswerTimer() {
	c.mu.Lock()
	d, cancel := c.answerTimer, c.answerCancel
	c.answerTimer, c.answerCancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if d != nil {
		d.Disarm()
	}
}

// expireAnswer срабатывает один раз за вопрос и отправляет текущий черновик.
// Если в этот момент уже идет отправка, только снимает проверку содержания для повторов.
func (c *Controller) expireAnswer(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.qgen || c.expired {
		c.mu.Unlock()
		return
	}
	c.expired = true
	answering := c.session.Phase == interview.PhaseAnswering
	s, q := c.session, c.question
	answer := c.draftLocked(q)
	c.mu.Unlock()

	c.logger.Info("answer time is up", "question_id", q.ID, "auto_submit", answering)
	c.emit(Event{Kind: EventExpired, Session: s, Question: &q})
	if !answering {
		return
	}

	c.deps.Metrics.IncrementAutoSubmits()
	if err := c.submit(c.ctx, answer); err != nil {
		c.logger.Warn("auto-submit failed", "question_id", q.ID, "error", err)
	}
}

// draftLocked собирает ответ из последнего сохраненного черновика
func (c *Controller) draftLocked(q interview.Question) submission.Answer {
	answer := submission.Answer{Forced: true}
	switch q.Type {
	case interview.TypeCoding:
		var code submission.CodeResult
		switch {
		case c.codeDraft != nil:
			code = *c.codeDraft
			if c.lastRun != nil && c.lastRun.Code == code.Code {
				code = *c.lastRun
			}
		case c.lastRun != nil:
			code = *c.lastRun
		}
		answer.Code = &code
	case interview.TypeSystemDesign:
		if c.diagramDraft != nil {
			if diagram, err := submission.ParseDiagram(c.diagramDraft); err == nil {
				answer.Diagram = diagram
			} else {
				c.logger.Debug("discard diagram draft", "question_id", q.ID, "error", err)
			}
		}
	}
	return answer
}

func (c *Controller) resetDraftsLocked() {
	c.lastRun = nil
	c.expired = false
	c.codeDraft = nil
	c.diagramDraft = nil
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && gen == c.qgen
}

// SaveCodeDraft запоминает текущий код; по истечении времени отправляется он
func (c *Controller) SaveCodeDraft(code submission.CodeResult) error {
	q, err := c.requireType(interview.TypeCoding)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.question.ID == q.ID {
		c.codeDraft = &code
	}
	return nil
}

// SaveDiagramDraft запоминает текущую схему; по истечении времени отправляется она
func (c *Controller) SaveDiagramDraft(raw json.RawMessage) error {
	q, err := c.requireType(interview.TypeSystemDesign)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.question.ID == q.ID {
		c.diagramDraft = append(json.RawMessage(nil), raw...)
	}
	return nil
}

// AcquireMedia повторно запрашивает камеру, например после отзыва доступа
func (c *Controller) AcquireMedia(ctx context.Context) error {
	if err := c.requireCaptured(); err != nil {
		return err
	}
	return c.media.Acquire(ctx)
}

func (c *Controller) requireAnswering() (interview.Question, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.session.Phase != interview.PhaseAnswering {
		return interview.Question{}, fmt.Errorf("phase %s: %w", c.session.Phase, interview.ErrWrongPhase)
	}
	return c.question, nil
}

func (c *Controller) requireCaptured() error {
	q, err := c.requireAnswering()
	if err != nil {
		return err
	}
	if !q.Captured() {
		return fmt.Errorf("question %s is answered without recording: %w", q.Type, interview.ErrWrongPhase)
	}
	return nil
}

func (c *Controller) requireType(t interview.QuestionType) (interview.Question, error) {
	q, err := c.requireAnswering()
	if err != nil {
		return q, err
	}
	if q.Type != t {
		return q, fmt.Errorf("current question is %s, not %s: %w", q.Type, t, interview.ErrWrongPhase)
	}
	return q, nil
}

// StartRecording начинает попытку записи
func (c *Controller) StartRecording() error {
	if err := c.requireCaptured(); err != nil {
		return err
	}
	return c.recorder.Start()
}

// StopRecording сохраняет активную попытку
func (c *Controller) StopRecording() (*interview.RecordingAttempt, error) {
	if err := c.requireCaptured(); err != nil {
		return nil, err
	}
	return c.recorder.Stop()
}

// DeleteRecording отбрасывает сохраненную попытку
func (c *Controller) DeleteRecording() error {
	if err := c.requireCaptured(); err != nil {
		return err
	}
	return c.recorder.Delete()
}

// ReRecord начинает новую попытку вместо сохраненной
func (c *Controller) ReRecord() error {
	if err := c.requireCaptured(); err != nil {
		return err
	}
	return c.recorder.ReRecord()
}

// EditTranscript правит расшифровку сохраненной попытки
func (c *Controller) EditTranscript(text string) error {
	if err := c.requireCaptured(); err != nil {
		return err
	}
	return c.recorder.EditTranscript(text)
}

// SubmitRecording отправляет сохраненную попытку
func (c *Controller) SubmitRecording(ctx context.Context) error {
	if err := c.requireCaptured(); err != nil {
		return err
	}
	return c.recorder.Submit(ctx)
}

// submitAttempt вызывается менеджером записи при ручной и автоматической отправке
func (c *Controller) submitAttempt(ctx context.Context, attempt interview.RecordingAttempt) error {
	return c.submit(ctx, submission.Answer{Recording: &attempt})
}

// RunCode выполняет код на удаленном сервисе и запоминает результат для отправки
func (c *Controller) RunCode(ctx context.Context, language, version, code, stdin string) (*submission.CodeResult, error) {
	if _, err := c.requireType(interview.TypeCoding); err != nil {
		return nil, err
	}
	if c.deps.Executor == nil {
		return nil, &interview.UnsupportedError{Feature: "code execution"}
	}

	c.mu.Lock()
	gen := c.qgen
	c.mu.Unlock()

	resp, err := c.deps.Executor.Execute(ctx, api.ExecuteRequest{
		Language: language,
		Version:  version,
		Files:    []api.ExecuteFile{{Name: "main", Content: code}},
		Stdin:    stdin,
	})
	if err != nil {
		return nil, err
	}

	result := &submission.CodeResult{Language: language, Code: code, Stdin: stdin}
	result.FromExecution(resp)

	c.mu.Lock()
	if gen == c.qgen {
		run := *result
		c.lastRun = &run
	}
	c.mu.Unlock()
	return result, nil
}

// SubmitCode отправляет решение. Если код совпадает с последним запуском,
// к ответу прикладывается протокол выполнения.
func (c *Controller) SubmitCode(ctx context.Context, code submission.CodeResult) error {
	if _, err := c.requireType(interview.TypeCoding); err != nil {
		return err
	}
	c.mu.Lock()
	if !code.HasRun && c.lastRun != nil && c.lastRun.Code == code.Code {
		code = *c.lastRun
	}
	c.mu.Unlock()
	return c.submit(ctx, submission.Answer{Code: &code})
}

// SubmitDiagram отправляет схему системного дизайна
func (c *Controller) SubmitDiagram(ctx context.Context, raw json.RawMessage) error {
	if _, err := c.requireType(interview.TypeSystemDesign); err != nil {
		return err
	}
	diagram, err := submission.ParseDiagram(raw)
	if err != nil {
		return err
	}
	return c.submit(ctx, submission.Answer{Diagram: diagram})
}

// submit отправляет ответ на текущий вопрос и продвигает сеанс
func (c *Controller) submit(ctx context.Context, answer submission.Answer) error {
	c.mu.Lock()
	if c.closed || c.session.Phase != interview.PhaseAnswering {
		phase := c.session.Phase
		c.mu.Unlock()
		return fmt.Errorf("submit in phase %s: %w", phase, interview.ErrWrongPhase)
	}
	q := c.question
	if c.expired {
		answer.Forced = true
	}
	c.mu.Unlock()

	// Непригодный ответ не тратит вопрос, даже последний
	if err := c.pipeline.Validate(q, answer); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.session.Phase != interview.PhaseAnswering || c.question.ID != q.ID {
		c.mu.Unlock()
		return fmt.Errorf("question changed during submit: %w", interview.ErrWrongPhase)
	}
	c.session.Phase = interview.PhaseSubmitting
	s, gen := c.session, c.qgen
	c.mu.Unlock()
	c.emit(Event{Kind: EventPhase, Session: s})

	out, err := c.pipeline.Submit(ctx, s, q, answer)
	if err != nil {
		return c.submitFailed(gen, s, err)
	}
	return c.advance(gen, q, answer, out)
}

func (c *Controller) submitFailed(gen uint64, s interview.Session, err error) error {
	c.mu.Lock()
	if gen != c.qgen {
		c.mu.Unlock()
		return err
	}
	if !s.IsFinal() {
		c.session.Phase = interview.PhaseAnswering
		cur := c.session
		c.mu.Unlock()
		c.emit(Event{Kind: EventPhase, Session: cur})
		c.emit(Event{Kind: EventError, Session: cur, Err: err})
		return err
	}

	// Последний вопрос: кандидат не должен застрять, задача отчета сразу в failed
	c.session.Phase = interview.PhaseAwaitingFeedback
	c.qgen++
	cur := c.session
	c.mu.Unlock()

	c.logger.Warn("final answer failed", "session_id", s.ID, "error", err)
	c.teardownQuestion()
	c.emit(Event{Kind: EventPhase, Session: cur})
	c.poller.MarkFailed(s.ID, err)
	return err
}

func (c *Controller) advance(gen uint64, q interview.Question, answer submission.Answer, out *submission.Outcome) error {
	c.mu.Lock()
	if gen != c.qgen {
		c.mu.Unlock()
		return nil
	}
	c.recordAnswerLocked(q, answer)

	if out.Completed {
		c.session.Phase = interview.PhaseAwaitingFeedback
		c.qgen++
		if c.record != nil {
			c.record.CompletedAt = c.deps.Clock.Now()
		}
		s := c.session
		c.mu.Unlock()

		c.logger.Info("session completed", "session_id", s.ID, "questions", s.QuestionIndex)
		c.deps.Metrics.IncrementSessionsCompleted()
		c.teardownQuestion()
		c.emit(Event{Kind: EventPhase, Session: s})
		c.poller.Start(c.ctx, s.ID)
		c.archive()
		return nil
	}

	index := out.QuestionNumber
	if index <= 0 {
		index = c.session.QuestionIndex + 1
	}
	c.session.QuestionIndex = index
	c.session.UpdateMax(out.MaxQuestions)
	c.session.Phase = interview.PhaseAnswering
	c.question = *out.Next
	c.qgen++
	c.resetDraftsLocked()
	s, next, nextGen := c.session, c.question, c.qgen
	c.mu.Unlock()

	c.logger.Info("next question",
		"session_id", s.ID,
		"question_id", next.ID,
		"index", s.QuestionIndex,
		"max", s.MaxQuestions)
	if err := c.enterQuestion(nextGen, s, next); err != nil {
		c.emit(Event{Kind: EventError, Session: s, Err: err})
	}
	return nil
}

func (c *Controller) recordAnswerLocked(q interview.Question, answer submission.Answer) {
	if c.record == nil {
		return
	}
	payload := submission.BuildPayload(c.session.ID, q, answer, false)
	rec := storage.AnswerRecord{
		QuestionID:   q.ID,
		QuestionType: string(q.Type),
		Question:     q.Text,
		Answer:       payload.Answer,
		HasVideo:     payload.Video != nil,
		Final:        c.session.IsFinal(),
		SubmittedAt:  c.deps.Clock.Now(),
	}
	if answer.Recording != nil {
		rec.Attempts = answer.Recording.Number
	}
	c.record.Answers = append(c.record.Answers, rec)
}

// teardownQuestion освобождает ресурсы вопроса
func (c *Controller) teardownQuestion() {
	c.stopAnswerTimer()
	c.recorder.Close()
	c.media.Release()
}

func (c *Controller) archive() {
	if c.deps.Store == nil {
		return
	}
	c.mu.Lock()
	if c.record == nil {
		c.mu.Unlock()
		return
	}
	rec := *c.record
	rec.Answers = append([]storage.AnswerRecord(nil), c.record.Answers...)
	c.mu.Unlock()

	rec.FeedbackStatus = string(c.poller.Job().Status)
	if err := c.deps.Store.Save(c.ctx, &rec); err != nil {
		c.logger.Warn("archive session", "session_id", rec.SessionID, "error", err)
	}
}

func (c *Controller) onRecordingChange(state recording.State, attempt *interview.RecordingAttempt) {
	c.emit(Event{
		Kind:         EventRecording,
		Recording:    state,
		Attempt:      attempt,
		AttemptsLeft: c.recorder.AttemptsLeft(),
	})
}

func (c *Controller) onFeedback(job interview.FeedbackJob) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	c.emit(Event{Kind: EventFeedback, Session: s, Feedback: &job})

	if !job.Terminal() {
		return
	}
	c.archive()
	if job.Status != interview.FeedbackCompleted {
		return
	}

	if _, err := c.gate.Check(c.ctx, s.ID); err != nil {
		c.logger.Warn("rating check failed", "session_id", s.ID, "error", err)
	}

	c.mu.Lock()
	if c.closed || c.session.ID != s.ID || c.session.Phase != interview.PhaseAwaitingFeedback {
		c.mu.Unlock()
		return
	}
	c.session.Phase = interview.PhaseComplete
	s = c.session
	c.mu.Unlock()
	c.emit(Event{Kind: EventPhase, Session: s})
}

func (c *Controller) sessionID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID == "" {
		return "", fmt.Errorf("no active session: %w", interview.ErrWrongPhase)
	}
	return c.session.ID, nil
}

// SubmitRating сохраняет оценку сеанса и открывает отчет
func (c *Controller) SubmitRating(ctx context.Context, rating interview.Rating) error {
	id, err := c.sessionID()
	if err != nil {
		return err
	}
	return c.gate.Submit(ctx, id, rating)
}

// SkipRating открывает отчет без оценки
func (c *Controller) SkipRating() {
	c.gate.Skip()
}

// RegenerateFeedback повторно запрашивает отчет после повторяемой ошибки
func (c *Controller) RegenerateFeedback(ctx context.Context) error {
	if _, err := c.sessionID(); err != nil {
		return err
	}
	return c.poller.Regenerate(ctx)
}

// CanViewReport сообщает, готов ли отчет и пройдена ли оценка
func (c *Controller) CanViewReport() bool {
	return c.poller.Job().Status == interview.FeedbackCompleted && c.gate.CanView()
}

// Snapshot возвращает текущее состояние
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s, q := c.session, c.question
	answerTimer, expired := c.answerTimer, c.expired
	c.mu.Unlock()

	remaining := c.recorder.Remaining()
	if !q.Captured() && answerTimer != nil {
		remaining = answerTimer.Remaining()
	}

	snap := Snapshot{
		Session:       s,
		Question:      q,
		Recording:     c.recorder.State(),
		AttemptsLeft:  c.recorder.AttemptsLeft(),
		Remaining:     remaining,
		Expired:       expired,
		FacePresent:   c.media.FacePresent(),
		Feedback:      c.poller.Job(),
		CanRegenerate: c.poller.CanRegenerate(),
		CanViewReport: c.CanViewReport(),
	}
	if saved, ok := c.recorder.Saved(); ok {
		snap.Saved = &saved
	}
	return snap
}

// Close останавливает все компоненты. Повторный вызов безопасен.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.qgen++
	c.mu.Unlock()

	c.teardownQuestion()
	c.poller.Stop()
	c.cancel()
}

func (c *Controller) emit(e Event) {
	if c.opts.notify != nil {
		c.opts.notify(e)
	}
}
