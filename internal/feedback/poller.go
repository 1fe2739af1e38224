// Package feedback отслеживает асинхронную генерацию отчета по интервью и
// решает, когда кандидату можно показать отчет.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/metrics"
)

// DefaultInterval - период опроса статуса отчета
const DefaultInterval = 7 * time.Second

// Backend - запросы к бэкенду, нужные опросчику
type Backend interface {
	FeedbackStatus(ctx context.Context, sessionID string) (*interview.FeedbackJob, error)
	TriggerFeedback(ctx context.Context, sessionID string) error
}

// Config настраивает опросчик
type Config struct {
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// OnChange вызывается при каждом изменении статуса задачи
	OnChange func(job interview.FeedbackJob)
}

// Poller опрашивает статус отчета, пока тот не станет окончательным.
// Для сеанса одновременно работает не больше одного цикла опроса.
type Poller struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu        sync.Mutex
	base      context.Context
	sessionID string
	job       interview.FeedbackJob
	failure   error
	cancel    context.CancelFunc
	gen       uint64
}

// NewPoller создает опросчик
func NewPoller(backend Backend, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With("component", "feedback"),
		base:    context.Background(),
		job:     interview.FeedbackJob{Status: interview.FeedbackNotRequested},
	}
}

// Start переводит задачу в pending и запускает опрос. Повторный вызов для того же
// сеанса, пока опрос идет, ничего не делает.
func (p *Poller) Start(ctx context.Context, sessionID string) {
	p.mu.Lock()
	if p.cancel != nil && p.sessionID == sessionID {
		p.mu.Unlock()
		return
	}
	p.base = ctx
	p.sessionID = sessionID
	job := p.restartLocked()
	p.mu.Unlock()

	p.logger.Info("feedback polling started", "session_id", sessionID)
	p.notify(job)
}

// restartLocked останавливает прежний цикл и запускает новый
func (p *Poller) restartLocked() interview.FeedbackJob {
	p.stopLocked()
	p.job = interview.FeedbackJob{Status: interview.FeedbackPending}
	p.failure = nil

	ctx, cancel := context.WithCancel(p.base)
	p.cancel = cancel
	go p.loop(ctx, p.gen, p.sessionID)
	return p.job
}

// MarkFailed сразу переводит задачу в failed. Используется, когда не удалось
// отправить последний ответ и опрашивать нечего.
func (p *Poller) MarkFailed(sessionID string, err error) {
	p.mu.Lock()
	p.stopLocked()
	p.sessionID = sessionID
	p.job = interview.FeedbackJob{Status: interview.FeedbackFailed, Error: err.Error()}
	p.failure = interview.ClassifyFeedbackError(err.Error())
	job := p.job
	p.mu.Unlock()

	p.logger.Warn("feedback marked failed", "session_id", sessionID, "error", err)
	p.notify(job)
}

// Regenerate просит бэкенд заново сформировать отчет и возобновляет опрос.
// Доступно только после повторяемой ошибки.
func (p *Poller) Regenerate(ctx context.Context) error {
	p.mu.Lock()
	if p.job.Status != interview.FeedbackFailed {
		status := p.job.Status
		p.mu.Unlock()
		return fmt.Errorf("regenerate feedback in status %s: %w", status, interview.ErrInvalidTransition)
	}
	if !interview.Retryable(p.failure) {
		failure := p.failure
		p.mu.Unlock()
		return failure
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	if err := p.backend.TriggerFeedback(ctx, sessionID); err != nil {
		return fmt.Errorf("regenerate feedback: %w", err)
	}

	p.mu.Lock()
	if p.sessionID != sessionID || p.job.Status != interview.FeedbackFailed {
		p.mu.Unlock()
		return nil
	}
	job := p.restartLocked()
	p.mu.Unlock()

	p.logger.Info("feedback regeneration requested", "session_id", sessionID)
	p.notify(job)
	return nil
}

// Stop прекращает опрос. Результаты уже отправленных запросов игнорируются.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
}

// Job возвращает текущее состояние задачи
func (p *Poller) Job() interview.FeedbackJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job
}

// Err возвращает классифицированную ошибку задачи в состоянии failed
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// CanRegenerate сообщает, имеет ли смысл предлагать повторную генерацию
func (p *Poller) CanRegenerate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job.Status == interview.FeedbackFailed && interview.Retryable(p.failure)
}

// Running сообщает, идет ли опрос
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, gen uint64, sessionID string) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if p.poll(ctx, gen, sessionID) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll выполняет один запрос статуса. Возвращает true, когда опрос нужно прекратить.
func (p *Poller) poll(ctx context.Context, gen uint64, sessionID string) bool {
	p.cfg.Metrics.IncrementFeedbackPolls()
	resp, err := p.backend.FeedbackStatus(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Временный сбой: продолжаем опрос
		p.logger.Warn("feedback status query failed", "session_id", sessionID, "error", err)
		return false
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return true
	}
	changed := *resp != p.job
	p.job = *resp
	terminal := p.job.Terminal()
	if p.job.Status == interview.FeedbackFailed {
		p.failure = interview.ClassifyFeedbackError(p.job.Error)
	}
	if terminal {
		p.cancel()
		p.cancel = nil
	}
	job := p.job
	p.mu.Unlock()

	if terminal {
		p.logger.Info("feedback finished", "session_id", sessionID, "status", job.Status)
	}
	if changed {
		p.notify(job)
	}
	return terminal
}

func (p *Poller) notify(job interview.FeedbackJob) {
	if p.cfg.OnChange != nil {
		p.cfg.OnChange(job)
	}
}
