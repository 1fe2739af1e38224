package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"interview-orchestrator/internal/api"
	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/media"
	"interview-orchestrator/internal/recording"
	"interview-orchestrator/internal/storage"
	"interview-orchestrator/internal/submission"
	"interview-orchestrator/internal/transcription"
)

type fakeBackend struct {
	mu         sync.Mutex
	start      api.StartSessionResponse
	answers    []api.SubmitAnswerRequest
	responses  []*api.SubmitAnswerResponse
	submitErrs []error
	statuses   []interview.FeedbackJob
	triggers   int
	rating     *interview.Rating
}

func (b *fakeBackend) StartSession(context.Context, api.StartSessionRequest) (*api.StartSessionResponse, error) {
	resp := b.start
	return &resp, nil
}

func (b *fakeBackend) SubmitAnswer(_ context.Context, req api.SubmitAnswerRequest) (*api.SubmitAnswerResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, req)
	if len(b.submitErrs) > 0 {
		err := b.submitErrs[0]
		b.submitErrs = b.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, nil
}

func (b *fakeBackend) FeedbackStatus(context.Context, string) (*interview.FeedbackJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job := b.statuses[0]
	if len(b.statuses) > 1 {
		b.statuses = b.statuses[1:]
	}
	return &job, nil
}

func (b *fakeBackend) TriggerFeedback(context.Context, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers++
	return nil
}

func (b *fakeBackend) GetRating(context.Context, string) (*interview.Rating, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rating, nil
}

func (b *fakeBackend) SubmitRating(_ context.Context, _ string, r interview.Rating) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rating = &r
	return nil
}

func (b *fakeBackend) submitted() []api.SubmitAnswerRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.SubmitAnswerRequest(nil), b.answers...)
}

func (b *fakeBackend) setStatuses(jobs ...interview.FeedbackJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = jobs
}

type fakeStream struct {
	mu     sync.Mutex
	closed bool
	silent bool
}

func (s *fakeStream) StartClip() error { return nil }

func (s *fakeStream) StopClip() (*interview.Video, error) {
	if s.silent {
		return nil, nil
	}
	return &interview.Video{Data: []byte("webm"), MimeType: "video/webm"}, nil
}

func (s *fakeStream) Live() bool { return true }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeCamera struct {
	mu      sync.Mutex
	streams []*fakeStream
	// silent - фрагменты без видео
	silent bool
}

func (c *fakeCamera) Open(context.Context) (media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeStream{silent: c.silent}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCamera) allClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.streams {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

// fakeRecognizer выдает заданную фразу одним окончательным фрагментом
type fakeRecognizer struct {
	mu   sync.Mutex
	text string
}

func (r *fakeRecognizer) say(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = text
}

func (r *fakeRecognizer) Listen(ctx context.Context) (<-chan transcription.Result, error) {
	r.mu.Lock()
	text := r.text
	r.mu.Unlock()

	out := make(chan transcription.Result, 1)
	out <- transcription.Result{Text: text, Final: true}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

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

type memStore struct {
	mu      sync.Mutex
	records map[string]storage.SessionRecord
}

func (s *memStore) Save(_ context.Context, rec *storage.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = map[string]storage.SessionRecord{}
	}
	s.records[rec.SessionID] = *rec
	return nil
}

func (s *memStore) Load(_ context.Context, id string) (*storage.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) List(context.Context) ([]string, error) { return nil, nil }

func (s *memStore) Close() error { return nil }

type harness struct {
	backend    *fakeBackend
	camera     *fakeCamera
	recognizer *fakeRecognizer
	clock      *fakeClock
	store      *memStore
	ctrl       *Controller

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, backend *fakeBackend, executor Executor) *harness {
	t.Helper()
	h := &harness{
		backend:    backend,
		camera:     &fakeCamera{},
		recognizer: &fakeRecognizer{},
		clock:      &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		store:      &memStore{},
	}
	h.ctrl = New(Deps{
		Backend:    backend,
		Executor:   executor,
		Camera:     h.camera,
		Recognizer: h.recognizer,
		Store:      h.store,
		Clock:      h.clock,
	},
		WithNotifier(func(e Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, e)
		}),
		WithTiming(Timing{
			Tick:         time.Millisecond,
			FaceSample:   time.Hour,
			RestartDelay: time.Millisecond,
			FeedbackPoll: 5 * time.Millisecond,
		}),
	)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) saw(kind EventKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func (h *harness) sawPhase(p interview.Phase) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e.Kind == EventPhase && e.Session.Phase == p {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var (
	speechEasy = interview.Question{ID: "q1", Text: "Tell me about a project you led", Type: interview.TypeSpeech, Difficulty: interview.DifficultyEasy}
	codingMed  = interview.Question{ID: "q2", Text: "Reverse a linked list", Type: interview.TypeCoding, Difficulty: interview.DifficultyMedium}
	designHard = interview.Question{ID: "q3", Text: "Design a URL shortener", Type: interview.TypeSystemDesign, Difficulty: interview.DifficultyHard}
)

func TestController_SpeechAnswerAdvancesToNextQuestion(t *testing.T) {
	b := &fakeBackend{
		start:     api.StartSessionResponse{SessionID: "sess-1", Question: speechEasy, MaxQuestions: 3},
		responses: []*api.SubmitAnswerResponse{{NextQuestion: &codingMed}},
	}
	h := newHarness(t, b, nil)
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, StartRequest{Role: "backend engineer"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.Session.QuestionIndex != 1 || snap.Session.Phase != interview.PhaseAnswering || snap.Question.ID != "q1" {
		t.Fatalf("Snapshot() after start = %+v", snap.Session)
	}

	h.recognizer.say("I led the migration")
	if err := h.ctrl.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if got := h.ctrl.Snapshot().Remaining; got != 2*time.Minute {
		t.Errorf("Remaining = %v, want 2m for easy speech", got)
	}
	eventually(t, "transcript", func() bool { return h.ctrl.speech.Transcript() != "" })

	h.clock.Advance(80 * time.Second)
	attempt, err := h.ctrl.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if attempt.Transcript != "I led the migration" {
		t.Errorf("Transcript = %q", attempt.Transcript)
	}
	if err := h.ctrl.EditTranscript("I led the billing migration"); err != nil {
		t.Fatalf("EditTranscript() error = %v", err)
	}
	if err := h.ctrl.SubmitRecording(ctx); err != nil {
		t.Fatalf("SubmitRecording() error = %v", err)
	}

	req := b.submitted()[0]
	if req.Answer != "I led the billing migration" || req.QuestionType != interview.TypeSpeech || req.IsFinal {
		t.Errorf("submitted = %+v", req)
	}
	if req.Video == nil {
		t.Error("speech answer must carry the video")
	}

	snap = h.ctrl.Snapshot()
	if snap.Question.ID != "q2" || snap.Session.QuestionIndex != 2 || snap.Session.Phase != interview.PhaseAnswering {
		t.Errorf("Snapshot() after submit = %+v / %s", snap.Session, snap.Question.ID)
	}
	if snap.Recording != recording.StateIdle || snap.AttemptsLeft != interview.MaxAttempts {
		t.Errorf("recording not reset: %s, %d left", snap.Recording, snap.AttemptsLeft)
	}
	if !h.camera.allClosed() {
		t.Error("camera must be released for a coding question")
	}
	if err := h.ctrl.StartRecording(); !errors.Is(err, interview.ErrWrongPhase) {
		t.Errorf("StartRecording() on coding question error = %v", err)
	}
}

type fakeExecutor struct{}

func (fakeExecutor) Execute(_ context.Context, req api.ExecuteRequest) (*api.ExecuteResponse, error) {
	code := 0
	return &api.ExecuteResponse{Language: req.Language, Run: api.StageResult{Stdout: "3 2 1", Code: &code}}, nil
}

func TestController_FinalCodingQuestionToReport(t *testing.T) {
	b := &fakeBackend{
		start:     api.StartSessionResponse{SessionID: "sess-2", Question: codingMed, MaxQuestions: 1},
		responses: []*api.SubmitAnswerResponse{{Completed: true}},
		statuses:  []interview.FeedbackJob{{Status: interview.FeedbackPending}, {Status: interview.FeedbackCompleted}},
	}
	h := newHarness(t, b, fakeExecutor{})
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, StartRequest{Role: "backend engineer"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := h.ctrl.SubmitCode(ctx, submission.CodeResult{Language: "go", Code: "// write your code here"})
	if !errors.Is(err, interview.ErrValidation) {
		t.Fatalf("SubmitCode() placeholder error = %v, want ErrValidation", err)
	}
	if h.ctrl.Snapshot().Session.Phase != interview.PhaseAnswering {
		t.Fatal("validation failure must keep the question open")
	}

	code := "func reverse(l *List) *List { return l }"
	if _, err := h.ctrl.RunCode(ctx, "go", "", code, "1 2 3"); err != nil {
		t.Fatalf("RunCode() error = %v", err)
	}
	if err := h.ctrl.SubmitCode(ctx, submission.CodeResult{Language: "go", Code: code}); err != nil {
		t.Fatalf("SubmitCode() error = %v", err)
	}

	req := b.submitted()[0]
	if !req.IsFinal {
		t.Error("is_final must be true when question index equals max")
	}
	if !strings.Contains(req.Answer, code) || !strings.Contains(req.Answer, "3 2 1") {
		t.Errorf("Answer = %q, want code with execution trace", req.Answer)
	}

	eventually(t, "feedback completed", func() bool {
		return h.ctrl.Snapshot().Session.Phase == interview.PhaseComplete
	})
	if !h.sawPhase(interview.PhaseAwaitingFeedback) {
		t.Error("awaiting-feedback phase was never reported")
	}
	if h.ctrl.CanViewReport() {
		t.Fatal("report must be gated until rating")
	}
	if err := h.ctrl.SubmitRating(ctx, interview.Rating{Value: 4}); err != nil {
		t.Fatalf("SubmitRating() error = %v", err)
	}
	if !h.ctrl.CanViewReport() {
		t.Error("CanViewReport() must be true after rating")
	}

	rec, err := h.store.Load(ctx, "sess-2")
	if err != nil {
		t.Fatalf("archive Load() error = %v", err)
	}
	if len(rec.Answers) != 1 || !rec.Answers[0].Final || rec.FeedbackStatus != string(interview.FeedbackCompleted) {
		t.Errorf("archived record = %+v", rec)
	}
}

func TestController_FinalFailureMarksFeedbackFailed(t *testing.T) {
	b := &fakeBackend{
		start:      api.StartSessionResponse{SessionID: "sess-3", Question: designHard, MaxQuestions: 1},
		submitErrs: []error{errors.New("connection reset")},
	}
	h := newHarness(t, b, nil)
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, StartRequest{Role: "architect"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := h.ctrl.SubmitDiagram(ctx, json.RawMessage(`{"nodes":[{"id":"api"}],"edges":[]}`))
	var serr *interview.SubmissionError
	if !errors.As(err, &serr) || serr.Recoverable() {
		t.Fatalf("SubmitDiagram() error = %v, want final SubmissionError", err)
	}

	snap := h.ctrl.Snapshot()
	if snap.Session.Phase != interview.PhaseAwaitingFeedback || snap.Feedback.Status != interview.FeedbackFailed {
		t.Fatalf("Snapshot() = %+v, feedback %+v", snap.Session, snap.Feedback)
	}
	if !snap.CanRegenerate {
		t.Fatal("regenerate must be offered after a final submission failure")
	}

	b.setStatuses(interview.FeedbackJob{Status: interview.FeedbackCompleted})
	if err := h.ctrl.RegenerateFeedback(ctx); err != nil {
		t.Fatalf("RegenerateFeedback() error = %v", err)
	}
	eventually(t, "regenerated feedback", func() bool {
		return h.ctrl.Snapshot().Feedback.Status == interview.FeedbackCompleted
	})
}

func TestController_NonFinalFailureIsRecoverable(t *testing.T) {
	b := &fakeBackend{
		start:      api.StartSessionResponse{SessionID: "sess-4", Question: designHard, MaxQuestions: 2},
		submitErrs: []error{errors.New("timeout"), nil},
		responses:  []*api.SubmitAnswerResponse{{NextQuestion: &codingMed, QuestionNumber: 2, CurrentMaxQuestions: 1}},
	}
	h := newHarness(t, b, nil)
	ctx := context.Background()
	_ = h.ctrl.Start(ctx, StartRequest{Role: "architect"})

	diagram := json.RawMessage(`{"nodes":[{"id":"cache"}],"edges":[]}`)
	err := h.ctrl.SubmitDiagram(ctx, diagram)
	var serr *interview.SubmissionError
	if !errors.As(err, &serr) || !serr.Recoverable() {
		t.Fatalf("SubmitDiagram() error = %v, want recoverable", err)
	}
	if h.ctrl.Snapshot().Session.Phase != interview.PhaseAnswering {
		t.Fatal("non-final failure must return to answering")
	}

	if err := h.ctrl.SubmitDiagram(ctx, diagram); err != nil {
		t.Fatalf("retry SubmitDiagram() error = %v", err)
	}
	s := h.ctrl.Snapshot().Session
	if s.QuestionIndex != 2 || s.MaxQuestions != 2 {
		t.Errorf("Session = %+v, max must not drop below index", s)
	}
	if !s.IsFinal() {
		t.Error("question 2 of 2 must be final")
	}
}

func TestController_ThirdAttemptExpiryAutoSubmits(t *testing.T) {
	b := &fakeBackend{
		start:     api.StartSessionResponse{SessionID: "sess-5", Question: speechEasy, MaxQuestions: 3},
		responses: []*api.SubmitAnswerResponse{{NextQuestion: &codingMed}},
	}
	h := newHarness(t, b, nil)
	_ = h.ctrl.Start(context.Background(), StartRequest{Role: "backend engineer"})
	h.recognizer.say("third take")

	if err := h.ctrl.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.ctrl.StopRecording(); err != nil {
			t.Fatalf("StopRecording() error = %v", err)
		}
		if err := h.ctrl.ReRecord(); err != nil {
			t.Fatalf("ReRecord() error = %v", err)
		}
	}

	h.clock.Advance(3 * time.Minute)
	eventually(t, "auto-submit", func() bool { return len(b.submitted()) == 1 })
	eventually(t, "next question", func() bool { return h.ctrl.Snapshot().Question.ID == "q2" })

	time.Sleep(20 * time.Millisecond)
	if n := len(b.submitted()); n != 1 {
		t.Errorf("submissions = %d, want exactly 1", n)
	}
	if got := h.ctrl.Snapshot().Session.QuestionIndex; got != 2 {
		t.Errorf("QuestionIndex = %d, want 2", got)
	}
}

func TestController_CloseReleasesResources(t *testing.T) {
	b := &fakeBackend{start: api.StartSessionResponse{SessionID: "sess-6", Question: speechEasy, MaxQuestions: 2}}
	h := newHarness(t, b, nil)
	_ = h.ctrl.Start(context.Background(), StartRequest{Role: "qa"})
	_ = h.ctrl.StartRecording()

	h.ctrl.Close()
	h.ctrl.Close()

	if !h.camera.allClosed() {
		t.Error("camera stream must be closed")
	}
	if h.ctrl.speech.Running() {
		t.Error("transcription must be stopped")
	}
	if err := h.ctrl.StartRecording(); !errors.Is(err, interview.ErrWrongPhase) {
		t.Errorf("StartRecording() after Close error = %v", err)
	}
	if err := h.ctrl.Start(context.Background(), StartRequest{}); !errors.Is(err, interview.ErrWrongPhase) {
		t.Errorf("Start() after Close error = %v", err)
	}
}

func TestController_SilentThirdAttemptStillSubmits(t *testing.T) {
	b := &fakeBackend{
		start:     api.StartSessionResponse{SessionID: "sess-7", Question: speechEasy, MaxQuestions: 1},
		responses: []*api.SubmitAnswerResponse{{Completed: true}},
		statuses:  []interview.FeedbackJob{{Status: interview.FeedbackCompleted}},
	}
	h := newHarness(t, b, nil)
	h.camera.silent = true
	_ = h.ctrl.Start(context.Background(), StartRequest{Role: "backend engineer"})

	if err := h.ctrl.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.ctrl.StopRecording(); err != nil {
			t.Fatalf("StopRecording() error = %v", err)
		}
		if err := h.ctrl.ReRecord(); err != nil {
			t.Fatalf("ReRecord() error = %v", err)
		}
	}

	h.clock.Advance(3 * time.Minute)
	eventually(t, "auto-submit of the empty attempt", func() bool { return len(b.submitted()) == 1 })
	eventually(t, "session leaves the question", func() bool {
		return h.ctrl.Snapshot().Session.Phase != interview.PhaseAnswering
	})

	req := b.submitted()[0]
	if req.Answer != "" || req.Video != nil || !req.IsFinal {
		t.Errorf("submitted = %+v, want an empty final answer", req)
	}
}

func TestController_CodingDeadlineSubmitsDraft(t *testing.T) {
	b := &fakeBackend{
		start:     api.StartSessionResponse{SessionID: "sess-8", Question: codingMed, MaxQuestions: 2},
		responses: []*api.SubmitAnswerResponse{{NextQuestion: &designHard}},
	}
	h := newHarness(t, b, nil)
	ctx := context.Background()
	if err := h.ctrl.Start(ctx, StartRequest{Role: "backend engineer"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := h.ctrl.Snapshot()
	if snap.Remaining != 10*time.Minute {
		t.Fatalf("Remaining = %v, want 10m for medium coding", snap.Remaining)
	}
	if err := h.ctrl.StartRecording(); !errors.Is(err, interview.ErrWrongPhase) {
		t.Errorf("StartRecording() on coding question error = %v", err)
	}

	code := "func reverse(l *List) *List { return nil }"
	if err := h.ctrl.SaveCodeDraft(submission.CodeResult{Language: "go", Code: code}); err != nil {
		t.Fatalf("SaveCodeDraft() error = %v", err)
	}
	if err := h.ctrl.SaveDiagramDraft(json.RawMessage(`{}`)); !errors.Is(err, interview.ErrWrongPhase) {
		t.Errorf("SaveDiagramDraft() on coding question error = %v", err)
	}

	h.clock.Advance(10 * time.Minute)
	eventually(t, "auto-submit of the draft", func() bool { return len(b.submitted()) == 1 })
	eventually(t, "next question", func() bool { return h.ctrl.Snapshot().Question.ID == "q3" })

	req := b.submitted()[0]
	if req.Answer != code || req.QuestionType != interview.TypeCoding {
		t.Errorf("submitted = %+v", req)
	}
	if !h.saw(EventExpired) {
		t.Error("expiry was never reported")
	}

	// Новый вопрос получает свой дедлайн, черновик прежнего не переносится
	eventually(t, "fresh 15m deadline for the design question", func() bool {
		snap := h.ctrl.Snapshot()
		return !snap.Expired && snap.Remaining == 15*time.Minute
	})
	time.Sleep(20 * time.Millisecond)
	if n := len(b.submitted()); n != 1 {
		t.Errorf("submissions = %d, want exactly 1", n)
	}
}

func TestController_ExpiredDiagramAcceptsEmptyAnswer(t *testing.T) {
	b := &fakeBackend{
		start:      api.StartSessionResponse{SessionID: "sess-9", Question: designHard, MaxQuestions: 2},
		submitErrs: []error{errors.New("connection reset"), nil},
		responses:  []*api.SubmitAnswerResponse{{NextQuestion: &speechEasy}},
	}
	h := newHarness(t, b, nil)
	ctx := context.Background()
	_ = h.ctrl.Start(ctx, StartRequest{Role: "architect"})

	empty := json.RawMessage(`{"nodes":[],"edges":[]}`)
	if err := h.ctrl.SubmitDiagram(ctx, empty); !errors.Is(err, interview.ErrValidation) {
		t.Fatalf("SubmitDiagram() before deadline error = %v, want ErrValidation", err)
	}

	h.clock.Advance(15 * time.Minute)
	eventually(t, "auto-submit attempt", func() bool { return len(b.submitted()) == 1 })
	eventually(t, "question reopened after failure", func() bool {
		snap := h.ctrl.Snapshot()
		return snap.Expired && snap.Session.Phase == interview.PhaseAnswering
	})

	if err := h.ctrl.SubmitDiagram(ctx, empty); err != nil {
		t.Fatalf("SubmitDiagram() after deadline error = %v", err)
	}
	if got := h.ctrl.Snapshot().Question.ID; got != "q1" {
		t.Errorf("Question = %s, want q1", got)
	}
}

func TestController_CloseStopsAnswerTimer(t *testing.T) {
	b := &fakeBackend{start: api.StartSessionResponse{SessionID: "sess-10", Question: codingMed, MaxQuestions: 2}}
	h := newHarness(t, b, nil)
	_ = h.ctrl.Start(context.Background(), StartRequest{Role: "qa"})

	h.ctrl.Close()
	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	if n := len(b.submitted()); n != 0 {
		t.Errorf("submissions after Close = %d, want 0", n)
	}
	if h.saw(EventExpired) {
		t.Error("expiry reported after Close")
	}
}
