// Package transcription ведет непрерывное распознавание речи с автоматическим
// перезапуском после неожиданного завершения потока.
package transcription

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"interview-orchestrator/internal/interview"
)

// DefaultRestartDelay - пауза перед перезапуском распознавания
const DefaultRestartDelay = 250 * time.Millisecond

// Result - промежуточный или окончательный фрагмент распознавания
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Recognizer - возможность хоста распознавать речь.
// Закрытие канала означает завершение сеанса распознавания; при отмене ctx канал должен закрыться.
type Recognizer interface {
	Listen(ctx context.Context) (<-chan Result, error)
}

// Config настраивает адаптер
type Config struct {
	RestartDelay time.Duration
	Logger       *slog.Logger
	OnUpdate     func(transcript string)
	OnError      func(err error)
}

// Adapter собирает расшифровку из последовательных сеансов распознавания
type Adapter struct {
	rec    Recognizer
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	segments []string
	interim  string
	running  bool
	stopped  bool
	restarts int
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewAdapter создает адаптер
func NewAdapter(rec Recognizer, cfg Config) *Adapter {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		rec:    rec,
		cfg:    cfg,
		logger: logger.With("component", "transcription"),
	}
}

// Start начинает новую расшифровку. Если распознавание уже идет, ничего не делает.
func (a *Adapter) Start(ctx context.Context) error {
	if a.rec == nil {
		return &interview.UnsupportedError{Feature: "speech recognition"}
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	// Первый сеанс открываем синхронно, чтобы сразу вернуть отказ в доступе
	listenCtx, cancel := context.WithCancel(ctx)
	results, err := a.rec.Listen(listenCtx)
	if err != nil {
		cancel()
		return classify(err)
	}

	done := make(chan struct{})
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.segments = nil
	a.interim = ""
	a.running = true
	a.stopped = false
	a.restarts = 0
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go a.loop(listenCtx, results, done)
	return nil
}

// Stop останавливает распознавание без перезапуска и возвращает итоговую расшифровку
func (a *Adapter) Stop() string {
	a.mu.Lock()
	a.stopped = true
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return a.Transcript()
}

// Running сообщает, идет ли распознавание
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Restarts возвращает число автоматических перезапусков с момента Start
func (a *Adapter) Restarts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restarts
}

// Transcript возвращает окончательные фрагменты и текущий промежуточный в порядке поступления
func (a *Adapter) Transcript() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcriptLocked()
}

func (a *Adapter) transcriptLocked() string {
	parts := make([]string, 0, len(a.segments)+1)
	parts = append(parts, a.segments...)
	if a.interim != "" {
		parts = append(parts, a.interim)
	}
	return Normalize(strings.Join(parts, " "))
}

// Normalize схлопывает пробельные символы
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (a *Adapter) loop(ctx context.Context, results <-chan Result, done chan struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	for {
		if err := a.consume(results); err != nil {
			a.report(err)
			return
		}
		a.promoteInterim()

		if !a.shouldRestart(ctx) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.RestartDelay):
		}
		if !a.shouldRestart(ctx) {
			return
		}

		var err error
		results, err = a.rec.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = classify(err)
			var terr *interview.TranscriptionError
			if errors.As(err, &terr) && terr.Permission {
				a.report(err)
				return
			}
			// Временный сбой запуска: повторяем после паузы
			a.logger.Warn("restart recognition", "error", err)
			results = closedResults()
			continue
		}

		a.mu.Lock()
		a.restarts++
		a.mu.Unlock()
		a.logger.Debug("recognition restarted after unexpected end")
	}
}

// consume читает результаты до закрытия канала. Возвращает ошибку, только если перезапуск невозможен.
func (a *Adapter) consume(results <-chan Result) error {
	for res := range results {
		if res.Err != nil {
			err := classify(res.Err)
			var terr *interview.TranscriptionError
			if errors.As(err, &terr) && terr.Permission {
				return err
			}
			a.logger.Debug("recognition error", "error", res.Err)
			continue
		}
		a.apply(res)
	}
	return nil
}

func (a *Adapter) apply(res Result) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	text := Normalize(res.Text)
	if res.Final {
		if text != "" {
			a.segments = append(a.segments, text)
		}
		a.interim = ""
	} else {
		a.interim = text
	}
	transcript := a.transcriptLocked()
	a.mu.Unlock()

	if a.cfg.OnUpdate != nil {
		a.cfg.OnUpdate(transcript)
	}
}

func (a *Adapter) promoteInterim() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.interim != "" {
		a.segments = append(a.segments, a.interim)
		a.interim = ""
	}
}

func (a *Adapter) shouldRestart(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.stopped
}

func (a *Adapter) report(err error) {
	a.logger.Warn("recognition stopped", "error", err)
	if a.cfg.OnError != nil {
		a.cfg.OnError(err)
	}
}

func classify(err error) error {
	var terr *interview.TranscriptionError
	if errors.As(err, &terr) {
		return err
	}
	return &interview.TranscriptionError{
		Err:        err,
		Permission: errors.Is(err, interview.ErrPermissionDenied),
	}
}

func closedResults() <-chan Result {
	ch := make(chan Result)
	close(ch)
	return ch
}
