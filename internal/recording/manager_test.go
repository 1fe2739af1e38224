package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"interview-orchestrator/internal/interview"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMedia struct {
	mu     sync.Mutex
	face   bool
	starts int
	stops  int
	video  *interview.Video
}

func (m *fakeMedia) StartSegment() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return nil
}

func (m *fakeMedia) StopSegment() (*interview.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.video, nil
}

func (m *fakeMedia) FacePresent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.face
}

type fakeSpeech struct {
	mu         sync.Mutex
	transcript string
	startErr   error
	starts     int
	// onStop имитирует обратный вызов, пришедший из цикла распознавания во время остановки
	onStop func()
}

func (s *fakeSpeech) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	return nil
}

func (s *fakeSpeech) Stop() string {
	s.mu.Lock()
	hook := s.onStop
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

type recordedSubmits struct {
	mu       sync.Mutex
	attempts []interview.RecordingAttempt
	errs     []error
}

func (r *recordedSubmits) submitter() Submitter {
	return func(_ context.Context, a interview.RecordingAttempt) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.attempts = append(r.attempts, a)
		if len(r.errs) > 0 {
			err := r.errs[0]
			r.errs = r.errs[1:]
			return err
		}
		return nil
	}
}

func (r *recordedSubmits) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

type fixture struct {
	clock   *fakeClock
	media   *fakeMedia
	speech  *fakeSpeech
	submits *recordedSubmits
	m       *Manager
}

func newFixture(q interview.Question) *fixture {
	f := &fixture{
		clock:   &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		media:   &fakeMedia{face: true, video: &interview.Video{Data: []byte("webm"), MimeType: "video/webm"}},
		speech:  &fakeSpeech{transcript: "my answer"},
		submits: &recordedSubmits{},
	}
	f.m = NewManager(f.media, f.speech, Config{
		Clock:        f.clock,
		TickInterval: time.Hour,
		Submit:       f.submits.submitter(),
	})
	f.m.Reset(q)
	return f
}

// expire доводит часы до дедлайна активной попытки и выполняет тик
func (f *fixture) expire() {
	f.m.mu.Lock()
	d := f.m.deadline
	f.m.mu.Unlock()
	f.clock.Advance(f.m.Remaining() + time.Second)
	d.Tick()
}

var speechEasy = interview.Question{ID: "q1", Text: "Tell me about yourself", Type: interview.TypeSpeech, Difficulty: interview.DifficultyEasy}

func TestManager_AttemptsNeverExceedMax(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()

	if err := f.m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.m.Stop(); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		err := f.m.ReRecord()
		if f.m.Attempts() > interview.MaxAttempts {
			t.Fatalf("Attempts() = %d exceeds max", f.m.Attempts())
		}
		if i >= interview.MaxAttempts-1 {
			if !errors.Is(err, interview.ErrAttemptsExhausted) {
				t.Fatalf("ReRecord() #%d error = %v, want ErrAttemptsExhausted", i+2, err)
			}
			break
		}
		if err != nil {
			t.Fatalf("ReRecord() error = %v", err)
		}
	}
	if f.m.Attempts() != interview.MaxAttempts {
		t.Errorf("Attempts() = %d, want %d", f.m.Attempts(), interview.MaxAttempts)
	}
	if f.m.State() != StateSaved {
		t.Errorf("State() = %v, want saved (previous attempt kept)", f.m.State())
	}
}

func TestManager_StartRequiresFace(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()
	f.media.face = false

	if err := f.m.Start(); !errors.Is(err, interview.ErrNoFace) {
		t.Fatalf("Start() error = %v, want ErrNoFace", err)
	}
	if f.m.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", f.m.Attempts())
	}
}

func TestManager_DeleteDoesNotConsumeAttempt(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()

	for i := 0; i < interview.MaxAttempts; i++ {
		if err := f.m.Start(); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
		if _, err := f.m.Stop(); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if err := f.m.Delete(); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if f.m.Attempts() != i+1 {
			t.Errorf("Attempts() = %d, want %d", f.m.Attempts(), i+1)
		}
	}
	if err := f.m.Start(); !errors.Is(err, interview.ErrAttemptsExhausted) {
		t.Errorf("Start() error = %v, want ErrAttemptsExhausted", err)
	}
}

func TestManager_SpeechEasyScenario(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()

	if err := f.m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.m.Remaining(); got != 120*time.Second {
		t.Fatalf("Remaining() = %v, want 120s", got)
	}

	f.clock.Advance(80 * time.Second)
	f.speech.transcript = "I led the migration of our billing system"
	attempt, err := f.m.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if attempt.Transcript != "I led the migration of our billing system" {
		t.Errorf("Transcript = %q", attempt.Transcript)
	}
	if attempt.Video == nil {
		t.Error("expected video artifact on saved attempt")
	}
	if got := attempt.StoppedAt.Sub(attempt.StartedAt); got != 80*time.Second {
		t.Errorf("attempt length = %v, want 80s", got)
	}

	if err := f.m.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if f.submits.count() != 1 {
		t.Fatalf("submits = %d, want 1", f.submits.count())
	}
	if f.m.State() != StateSubmitted {
		t.Errorf("State() = %v, want submitted", f.m.State())
	}
}

func TestManager_EditTranscriptBeforeSubmit(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()

	if err := f.m.EditTranscript("too early"); !errors.Is(err, interview.ErrInvalidTransition) {
		t.Errorf("EditTranscript() in idle error = %v", err)
	}
	_ = f.m.Start()
	_, _ = f.m.Stop()
	if err := f.m.EditTranscript("edited answer"); err != nil {
		t.Fatalf("EditTranscript() error = %v", err)
	}
	if err := f.m.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := f.submits.attempts[0].Transcript; got != "edited answer" {
		t.Errorf("submitted transcript = %q, want edited answer", got)
	}
}

func TestManager_FinalAttemptExpiryAutoSubmitsOnce(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()

	_ = f.m.Start()
	_, _ = f.m.Stop()
	_ = f.m.ReRecord()
	_, _ = f.m.Stop()
	if err := f.m.ReRecord(); err != nil {
		t.Fatalf("third attempt error = %v", err)
	}

	f.expire()

	if f.submits.count() != 1 {
		t.Fatalf("submits = %d, want exactly 1", f.submits.count())
	}
	if got := f.submits.attempts[0].Number; got != 3 {
		t.Errorf("submitted attempt = %d, want 3", got)
	}

	// Пользователь нажимает «стоп» и «отправить» одновременно с истечением времени
	if _, err := f.m.Stop(); !errors.Is(err, interview.ErrInvalidTransition) {
		t.Errorf("Stop() after auto-submit error = %v", err)
	}
	if err := f.m.Submit(context.Background()); !errors.Is(err, interview.ErrInvalidTransition) {
		t.Errorf("Submit() after auto-submit error = %v", err)
	}
	if err := f.m.ReRecord(); err == nil {
		t.Error("ReRecord() after auto-submit must fail")
	}
	if f.submits.count() != 1 {
		t.Errorf("submits = %d, want 1", f.submits.count())
	}
	if f.m.Attempts() != interview.MaxAttempts {
		t.Errorf("Attempts() = %d, no attempt 4 may be created", f.m.Attempts())
	}
}

func TestManager_ExpiryRacesWithUserSubmit(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(speechEasy)
		_ = f.m.Start()
		_, _ = f.m.Stop()
		_ = f.m.ReRecord()
		_, _ = f.m.Stop()
		_ = f.m.ReRecord()

		f.m.mu.Lock()
		d := f.m.deadline
		f.m.mu.Unlock()
		f.clock.Advance(10 * time.Minute)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Tick()
		}()
		go func() {
			defer wg.Done()
			if _, err := f.m.Stop(); err == nil {
				_ = f.m.Submit(context.Background())
			}
		}()
		wg.Wait()

		if f.submits.count() != 1 {
			t.Fatalf("run %d: submits = %d, want 1", i, f.submits.count())
		}
		f.m.Close()
	}
}

func TestManager_NonFinalExpirySavesWithoutSubmit(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()

	_ = f.m.Start()
	f.expire()

	if f.m.State() != StateSaved {
		t.Fatalf("State() = %v, want saved", f.m.State())
	}
	if f.submits.count() != 0 {
		t.Errorf("submits = %d, want 0", f.submits.count())
	}
	if f.m.AttemptsLeft() != 2 {
		t.Errorf("AttemptsLeft() = %d, want 2", f.m.AttemptsLeft())
	}
}

func TestManager_SubmitFailureAllowsRetry(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()
	f.submits.errs = []error{errors.New("network down")}

	_ = f.m.Start()
	_, _ = f.m.Stop()

	if err := f.m.Submit(context.Background()); err == nil {
		t.Fatal("Submit() expected error")
	}
	if f.m.State() != StateSaved {
		t.Fatalf("State() = %v, want saved after failure", f.m.State())
	}
	if err := f.m.Submit(context.Background()); err != nil {
		t.Fatalf("retry Submit() error = %v", err)
	}
	if f.submits.count() != 2 {
		t.Errorf("submit calls = %d, want 2", f.submits.count())
	}
}

func TestManager_ResetIgnoresStaleDeadline(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()

	_ = f.m.Start()
	f.m.mu.Lock()
	stale := f.m.deadline
	f.m.mu.Unlock()

	next := interview.Question{ID: "q2", Type: interview.TypeStandard}
	f.m.Reset(next)

	f.clock.Advance(time.Hour)
	stale.Tick()
	// Даже если старый таймер сработает, новый вопрос не затронут
	f.m.handleExpire(1)

	if f.m.State() != StateIdle {
		t.Errorf("State() = %v, want idle", f.m.State())
	}
	if f.m.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0 for new question", f.m.Attempts())
	}
	if f.submits.count() != 0 {
		t.Errorf("submits = %d, want 0", f.submits.count())
	}
	if f.m.Question().ID != "q2" {
		t.Errorf("Question() = %v", f.m.Question().ID)
	}
}

func TestManager_StartRollsBackOnTranscriptionFailure(t *testing.T) {
	f := newFixture(speechEasy)
	defer f.m.Close()
	f.speech.startErr = &interview.TranscriptionError{Err: interview.ErrPermissionDenied, Permission: true}

	err := f.m.Start()
	var terr *interview.TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("Start() error = %v, want TranscriptionError", err)
	}
	if f.media.stops != 1 {
		t.Errorf("StopSegment calls = %d, want 1 (rollback)", f.media.stops)
	}
	if f.m.Attempts() != 0 || f.m.State() != StateIdle {
		t.Errorf("Attempts() = %d, State() = %v; want 0, idle", f.m.Attempts(), f.m.State())
	}
}

func TestManager_DurationByQuestion(t *testing.T) {
	q := interview.Question{ID: "c1", Type: interview.TypeCoding, Difficulty: interview.DifficultyMedium}
	f := newFixture(q)
	defer f.m.Close()

	_ = f.m.Start()
	if got := f.m.Remaining(); got != 10*time.Minute {
		t.Errorf("Remaining() = %v, want 10m", got)
	}
}

func TestManager_StopDoesNotBlockStateReaders(t *testing.T) {
	f := newFixture(speechEasy)

	var observed []State
	f.speech.onStop = func() {
		observed = append(observed, f.m.State())
		f.m.Remaining()
		f.m.AttemptsLeft()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := f.m.Start(); err != nil {
			t.Errorf("Start() error = %v", err)
			return
		}
		if _, err := f.m.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		if err := f.m.ReRecord(); err != nil {
			t.Errorf("ReRecord() error = %v", err)
		}
		f.expire()
		if err := f.m.ReRecord(); err != nil {
			t.Errorf("ReRecord() error = %v", err)
		}
		f.m.Reset(speechEasy)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("state readers blocked while transcription was stopping")
	}

	if len(observed) != 3 {
		t.Fatalf("onStop called %d times, want 3", len(observed))
	}
	for i, state := range observed {
		if state != StateRecording {
			t.Errorf("observed[%d] = %s, want %s", i, state, StateRecording)
		}
	}
	if f.submits.count() != 0 {
		t.Errorf("submits = %d, want 0", f.submits.count())
	}
}
