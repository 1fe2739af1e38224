// Package media управляет захватом камеры и микрофона и фоновой проверкой присутствия лица.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"interview-orchestrator/internal/interview"
)

// DefaultSampleInterval - период проверки присутствия лица
const DefaultSampleInterval = 500 * time.Millisecond

// Config настраивает адаптер
type Config struct {
	SampleInterval time.Duration
	Logger         *slog.Logger
	// OnFace вызывается при изменении признака присутствия лица
	OnFace func(present bool)
	// OnError вызывается один раз при переходе в состояние ошибки
	OnError func(err error)
}

// Adapter владеет медиапотоком на время вопроса
type Adapter struct {
	device   Device
	detector FaceDetector
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	stream Stream
	state  State
	clip   bool
	face   bool
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter создает адаптер. detector может быть nil - тогда лицо считается присутствующим.
func NewAdapter(device Device, detector FaceDetector, cfg Config) *Adapter {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		device:   device,
		detector: detector,
		cfg:      cfg,
		logger:   logger.With("component", "media"),
		state:    StateIdle,
	}
}

// Acquire запрашивает камеру и запускает проверку присутствия лица
func (a *Adapter) Acquire(ctx context.Context) error {
	a.mu.Lock()
	if a.stream != nil && a.state != StateError {
		a.mu.Unlock()
		return nil
	}
	stale := a.stream != nil
	a.mu.Unlock()

	// Повторный запрос после отзыва доступа: старый поток больше не нужен
	if stale {
		a.Release()
	}

	if a.device == nil {
		err := &interview.UnsupportedError{Feature: "camera"}
		a.fail(err)
		return err
	}

	stream, err := a.device.Open(ctx)
	if err != nil {
		err = classifyOpenError(err)
		a.fail(err)
		return err
	}

	sampleCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.stream = stream
	a.state = StateReady
	a.clip = false
	a.err = nil
	a.face = a.detector == nil
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	a.logger.Debug("media stream acquired")
	go a.sampleLoop(sampleCtx, done)
	return nil
}

func classifyOpenError(err error) error {
	var perm *interview.PermissionError
	var unsup *interview.UnsupportedError
	switch {
	case errors.As(err, &perm), errors.As(err, &unsup):
		return err
	case errors.Is(err, interview.ErrPermissionDenied):
		return &interview.PermissionError{Device: "camera", Err: err}
	case errors.Is(err, interview.ErrUnsupported):
		return &interview.UnsupportedError{Feature: "camera"}
	default:
		return fmt.Errorf("open media device: %w", err)
	}
}

// StartSegment начинает новый фрагмент записи. Повторный вызов во время записи ничего не делает.
func (a *Adapter) StartSegment() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateError {
		return a.err
	}
	if a.stream == nil {
		return interview.ErrNotReady
	}
	if a.state == StateRecording {
		return nil
	}
	if err := a.stream.StartClip(); err != nil {
		return fmt.Errorf("start clip: %w", err)
	}
	a.state = StateRecording
	a.clip = true
	return nil
}

// StopSegment завершает фрагмент и возвращает видео или nil, если ничего не записано
func (a *Adapter) StopSegment() (*interview.Video, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream == nil || !a.clip {
		return nil, nil
	}
	a.clip = false
	if a.state == StateRecording {
		a.state = StateReady
	}

	video, err := a.stream.StopClip()
	if err != nil {
		return nil, fmt.Errorf("stop clip: %w", err)
	}
	if video.Empty() {
		return nil, nil
	}
	return video, nil
}

// Release останавливает проверку лица и закрывает поток. Повторный вызов безопасен.
// Нельзя вызывать из OnFace и OnError: Release ждет завершения проверки.
func (a *Adapter) Release() {
	a.mu.Lock()
	stream, cancel, done := a.stream, a.cancel, a.done
	a.stream = nil
	a.cancel = nil
	a.done = nil
	a.clip = false
	a.face = false
	if a.state != StateError {
		a.state = StateIdle
	}
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			a.logger.Warn("close media stream", "error", err)
		}
	}
}

// Ready сообщает, захвачен ли поток
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream != nil && a.state != StateError
}

// Recording сообщает, идет ли запись фрагмента
func (a *Adapter) Recording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateRecording
}

// FacePresent возвращает последний результат проверки лица
func (a *Adapter) FacePresent() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.face
}

// State возвращает состояние адаптера
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err возвращает ошибку, переведшую адаптер в состояние ошибки
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Adapter) sampleLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.sample(ctx) {
				return
			}
		}
	}
}

// sample выполняет одну проверку. Возвращает false, если проверку нужно прекратить.
func (a *Adapter) sample(ctx context.Context) bool {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return false
	}

	if !stream.Live() {
		a.fail(&interview.PermissionError{Device: "camera", Revoked: true})
		return false
	}
	if a.detector == nil {
		return true
	}

	present, err := a.detector.FacePresent(ctx, stream)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Debug("face detection failed", "error", err)
		}
		return true
	}

	a.mu.Lock()
	if a.stream != stream {
		a.mu.Unlock()
		return false
	}
	changed := a.face != present
	a.face = present
	a.mu.Unlock()

	if changed && a.cfg.OnFace != nil {
		a.cfg.OnFace(present)
	}
	return true
}

// fail переводит адаптер в состояние ошибки и уведомляет один раз
func (a *Adapter) fail(err error) {
	a.mu.Lock()
	if a.state == StateError {
		a.mu.Unlock()
		return
	}
	a.state = StateError
	a.err = err
	a.face = false
	a.mu.Unlock()

	a.logger.Warn("media capture failed", "error", err)
	if a.cfg.OnError != nil {
		a.cfg.OnError(err)
	}
}
