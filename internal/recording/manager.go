// Package recording управляет попытками записи ответа: ограничивает их число,
// связывает таймер, камеру и распознавание речи в один жизненный цикл попытки.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/metrics"
	"interview-orchestrator/internal/timer"
)

// State - состояние попытки записи
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateSaved      State = "saved"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
)

// Media - управление фрагментами записи. Командует им только Manager.
type Media interface {
	StartSegment() error
	StopSegment() (*interview.Video, error)
	FacePresent() bool
}

// Transcriber - непрерывное распознавание речи
type Transcriber interface {
	Start(ctx context.Context) error
	Stop() string
}

// Submitter отправляет сохраненную попытку
type Submitter func(ctx context.Context, attempt interview.RecordingAttempt) error

// Config настраивает менеджер
type Config struct {
	MaxAttempts  int
	Durations    interview.Durations
	TickInterval time.Duration
	Clock        timer.Clock
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Submit       Submitter
	// OnTick получает оставшееся время активной попытки
	OnTick func(remaining time.Duration)
	// OnStateChange вызывается после каждого перехода
	OnStateChange func(state State, attempt *interview.RecordingAttempt)
}

type latchKey struct {
	question string
	attempt  int
}

// Manager - конечный автомат попыток записи для одного вопроса за раз
type Manager struct {
	media  Media
	speech Transcriber
	cfg    Config
	logger *slog.Logger

	// opMu упорядочивает команды адаптерам и берется раньше mu.
	// Под mu адаптеры не вызываются: их обратные вызовы могут читать состояние.
	opMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	question   interview.Question
	state      State
	attempts   int
	current    *interview.RecordingAttempt
	deadline   *timer.Deadline
	tickCancel context.CancelFunc
	gen        uint64
	latches    map[latchKey]bool
}

// NewManager создает менеджер
func NewManager(media Media, speech Transcriber, cfg Config) *Manager {
	if cfg.MaxAttempts <= 0 || cfg.MaxAttempts > interview.MaxAttempts {
		cfg.MaxAttempts = interview.MaxAttempts
	}
	if cfg.Durations == nil {
		cfg.Durations = interview.DefaultDurations()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.SystemClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		media:   media,
		speech:  speech,
		cfg:     cfg,
		logger:  logger.With("component", "recording"),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
		latches: make(map[latchKey]bool),
	}
}

// Reset переключает менеджер на новый вопрос, освобождая все ресурсы предыдущего
func (m *Manager) Reset(q interview.Question) {
	m.opMu.Lock()
	m.teardown()
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.question = q
	m.mu.Unlock()
	m.opMu.Unlock()

	m.notify(StateIdle, nil)
}

// Close освобождает ресурсы. После Close менеджер можно переиспользовать через Reset.
func (m *Manager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.teardown()
}

// teardown останавливает таймер и адаптеры и делает устаревшими все отложенные вызовы.
// Вызывается под opMu.
func (m *Manager) teardown() {
	m.mu.Lock()
	recording := m.state == StateRecording
	deadline := m.deadline
	if m.tickCancel != nil {
		m.tickCancel()
		m.tickCancel = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	m.state = StateIdle
	m.attempts = 0
	m.current = nil
	m.deadline = nil
	m.latches = make(map[latchKey]bool)
	m.mu.Unlock()

	if !recording {
		return
	}
	deadline.Disarm()
	m.speech.Stop()
	if _, err := m.media.StopSegment(); err != nil {
		m.logger.Debug("discard segment", "error", err)
	}
}

// Start начинает первую (или очередную после удаления) попытку
func (m *Manager) Start() error {
	m.opMu.Lock()
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		m.opMu.Unlock()
		return fmt.Errorf("start recording in state %s: %w", state, interview.ErrInvalidTransition)
	}
	m.mu.Unlock()

	attempt, err := m.begin()
	m.opMu.Unlock()
	if err != nil {
		return err
	}
	m.notify(StateRecording, attempt)
	return nil
}

// ReRecord отбрасывает сохраненную попытку и начинает новую
func (m *Manager) ReRecord() error {
	m.opMu.Lock()
	m.mu.Lock()
	if m.state != StateSaved {
		state := m.state
		m.mu.Unlock()
		m.opMu.Unlock()
		return fmt.Errorf("re-record in state %s: %w", state, interview.ErrInvalidTransition)
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.mu.Unlock()
		m.opMu.Unlock()
		return interview.ErrAttemptsExhausted
	}
	// Idle закрывает сохраненную попытку для отправки, пока начинается новая
	prev := m.current
	m.current = nil
	m.state = StateIdle
	m.mu.Unlock()

	attempt, err := m.begin()
	if err != nil {
		// Не удалось начать: прежняя попытка остается доступной
		m.mu.Lock()
		m.current = prev
		m.state = StateSaved
		m.mu.Unlock()
	}
	m.opMu.Unlock()
	if err != nil {
		return err
	}
	m.notify(StateRecording, attempt)
	return nil
}

// begin запускает адаптеры и таймер новой попытки. Вызывается под opMu в состоянии idle.
func (m *Manager) begin() (*interview.RecordingAttempt, error) {
	m.mu.Lock()
	attempts, ctx, q := m.attempts, m.ctx, m.question
	m.mu.Unlock()

	if attempts >= m.cfg.MaxAttempts {
		return nil, interview.ErrAttemptsExhausted
	}
	if !m.media.FacePresent() {
		return nil, interview.ErrNoFace
	}
	if err := m.media.StartSegment(); err != nil {
		return nil, err
	}
	if err := m.speech.Start(ctx); err != nil {
		if _, serr := m.media.StopSegment(); serr != nil {
			m.logger.Debug("rollback segment", "error", serr)
		}
		return nil, err
	}
	duration := m.cfg.Durations.For(q)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	m.gen++
	gen := m.gen
	m.current = &interview.RecordingAttempt{
		ID:        uuid.New().String(),
		Number:    m.attempts,
		StartedAt: m.cfg.Clock.Now(),
	}

	m.deadline = timer.New(
		timer.WithClock(m.cfg.Clock),
		timer.OnTick(func(r time.Duration) { m.handleTick(gen, r) }),
		timer.OnExpire(func() { m.handleExpire(gen) }),
	)
	m.deadline.Arm(duration)

	tickCtx, cancel := context.WithCancel(m.ctx)
	m.tickCancel = cancel
	go m.deadline.Run(tickCtx, m.cfg.TickInterval)

	m.state = StateRecording
	m.cfg.Metrics.IncrementRecordingAttempts()
	m.logger.Info("recording started",
		"question_id", q.ID,
		"attempt", m.attempts,
		"duration", duration)

	attempt := *m.current
	return &attempt, nil
}

// Stop завершает активную попытку и сохраняет ее.
// Если попытка уже сохранена (например, по истечении времени), возвращает ее.
func (m *Manager) Stop() (*interview.RecordingAttempt, error) {
	m.opMu.Lock()
	m.mu.Lock()
	switch m.state {
	case StateRecording:
	case StateSaved:
		attempt := *m.current
		m.mu.Unlock()
		m.opMu.Unlock()
		return &attempt, nil
	default:
		state := m.state
		m.mu.Unlock()
		m.opMu.Unlock()
		return nil, fmt.Errorf("stop recording in state %s: %w", state, interview.ErrInvalidTransition)
	}
	m.mu.Unlock()

	attempt := m.finish()
	m.opMu.Unlock()

	m.notify(StateSaved, &attempt)
	return &attempt, nil
}

// finish останавливает адаптеры активной попытки и сохраняет ее. Вызывается под opMu.
func (m *Manager) finish() interview.RecordingAttempt {
	m.mu.Lock()
	deadline := m.deadline
	if m.tickCancel != nil {
		m.tickCancel()
		m.tickCancel = nil
	}
	m.mu.Unlock()

	deadline.Disarm()
	transcript := m.speech.Stop()
	video, err := m.media.StopSegment()
	if err != nil {
		m.logger.Warn("stop segment", "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Transcript = transcript
	m.current.Video = video
	m.current.StoppedAt = m.cfg.Clock.Now()
	m.state = StateSaved
	return *m.current
}

// Delete отбрасывает сохраненную попытку. Израсходованная попытка не возвращается.
func (m *Manager) Delete() error {
	m.mu.Lock()
	if m.state != StateSaved {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("delete recording in state %s: %w", state, interview.ErrInvalidTransition)
	}
	m.current = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.notify(StateIdle, nil)
	return nil
}

// EditTranscript заменяет расшифровку сохраненной попытки
func (m *Manager) EditTranscript(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateSaved {
		return fmt.Errorf("edit transcript in state %s: %w", m.state, interview.ErrInvalidTransition)
	}
	m.current.Transcript = text
	return nil
}

// Submit отправляет сохраненную попытку. Повторная отправка той же попытки невозможна.
func (m *Manager) Submit(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateSaved {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("submit in state %s: %w", state, interview.ErrInvalidTransition)
	}
	key, ok := m.latchLocked()
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("attempt %d already submitted: %w", key.attempt, interview.ErrInvalidTransition)
	}
	attempt := *m.current
	gen := m.gen
	m.mu.Unlock()

	m.notify(StateSubmitting, &attempt)
	return m.submit(ctx, gen, key, attempt)
}

// latchLocked взводит одноразовую защелку отправки для текущей попытки
func (m *Manager) latchLocked() (latchKey, bool) {
	key := latchKey{question: m.question.ID, attempt: m.current.Number}
	if m.latches[key] {
		return key, false
	}
	m.latches[key] = true
	m.state = StateSubmitting
	return key, true
}

func (m *Manager) submit(ctx context.Context, gen uint64, key latchKey, attempt interview.RecordingAttempt) error {
	if m.cfg.Submit == nil {
		return fmt.Errorf("no submitter configured")
	}
	err := m.cfg.Submit(ctx, attempt)

	m.mu.Lock()
	if gen != m.gen {
		// Вопрос уже сменился
		m.mu.Unlock()
		return err
	}
	next := StateSubmitted
	if err != nil {
		// Ничего не отправлено: разрешаем повтор
		delete(m.latches, key)
		next = StateSaved
	}
	m.state = next
	m.mu.Unlock()

	m.notify(next, &attempt)
	return err
}

func (m *Manager) handleTick(gen uint64, remaining time.Duration) {
	m.mu.Lock()
	current := gen == m.gen && m.state == StateRecording
	m.mu.Unlock()
	if current && m.cfg.OnTick != nil {
		m.cfg.OnTick(remaining)
	}
}

// handleExpire принудительно сохраняет попытку; на последней попытке отправляет ее ровно один раз
func (m *Manager) handleExpire(gen uint64) {
	m.opMu.Lock()
	m.mu.Lock()
	if gen != m.gen || m.state != StateRecording {
		m.mu.Unlock()
		m.opMu.Unlock()
		return
	}
	m.mu.Unlock()

	attempt := m.finish()

	m.mu.Lock()
	final := m.attempts >= m.cfg.MaxAttempts
	var (
		key latchKey
		ok  bool
	)
	if final {
		key, ok = m.latchLocked()
	}
	ctx, questionID := m.ctx, m.question.ID
	m.mu.Unlock()
	m.opMu.Unlock()

	m.logger.Info("recording deadline reached", "question_id", questionID, "attempt", attempt.Number, "auto_submit", final)
	m.notify(StateSaved, &attempt)
	if !ok {
		return
	}

	m.cfg.Metrics.IncrementAutoSubmits()
	m.notify(StateSubmitting, &attempt)
	if err := m.submit(ctx, gen, key, attempt); err != nil {
		m.logger.Warn("auto-submit failed", "question_id", key.question, "error", err)
	}
}

func (m *Manager) notify(state State, attempt *interview.RecordingAttempt) {
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(state, attempt)
	}
}

// State возвращает текущее состояние
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts возвращает число начатых попыток
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// AttemptsLeft возвращает число оставшихся попыток
func (m *Manager) AttemptsLeft() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MaxAttempts - m.attempts
}

// Saved возвращает копию сохраненной попытки
func (m *Manager) Saved() (interview.RecordingAttempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.state == StateRecording {
		return interview.RecordingAttempt{}, false
	}
	return *m.current, true
}

// Remaining возвращает оставшееся время активной попытки
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	d := m.deadline
	m.mu.Unlock()
	if d == nil {
		return 0
	}
	return d.Remaining()
}

// Question возвращает текущий вопрос
func (m *Manager) Question() interview.Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.question
}
