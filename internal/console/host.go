// Package console реализует возможности хоста для терминала: речь вводится строками,
// камера отдает заранее записанный файл, присутствие лица переключается командой.
package console

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/media"
	"interview-orchestrator/internal/transcription"
)

// LineRecognizer превращает каждую введенную строку в окончательный фрагмент речи.
// Пока распознавание не запущено, строки отбрасываются.
type LineRecognizer struct {
	mu      sync.Mutex
	results chan transcription.Result
}

func NewLineRecognizer() *LineRecognizer {
	return &LineRecognizer{}
}

// Listen открывает сеанс распознавания до отмены ctx
func (r *LineRecognizer) Listen(ctx context.Context) (<-chan transcription.Result, error) {
	ch := make(chan transcription.Result, 64)

	r.mu.Lock()
	if r.results != nil {
		close(r.results)
	}
	r.results = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.results == ch {
			close(ch)
			r.results = nil
		}
	}()
	return ch, nil
}

// Feed передает строку активному сеансу. Возвращает false, если никто не слушает.
func (r *LineRecognizer) Feed(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		return false
	}
	select {
	case r.results <- transcription.Result{Text: line, Final: true}:
		return true
	default:
		return false
	}
}

// Listening сообщает, открыт ли сеанс распознавания
func (r *LineRecognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results != nil
}

// StaticCamera - камера, каждый фрагмент которой содержит один и тот же видеофайл.
// Без файла фрагменты пустые.
type StaticCamera struct {
	video *interview.Video
}

// NewStaticCamera загружает видеофайл. Пустой путь дает камеру без видео.
func NewStaticCamera(path string) (*StaticCamera, error) {
	if path == "" {
		return &StaticCamera{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read video %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "video/webm"
	}
	return &StaticCamera{video: &interview.Video{Data: data, MimeType: mimeType}}, nil
}

func (c *StaticCamera) Open(ctx context.Context) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticStream{video: c.video}, nil
}

type staticStream struct {
	video *interview.Video

	mu     sync.Mutex
	clip   bool
	closed bool
}

func (s *staticStream) StartClip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interview.ErrNotReady
	}
	s.clip = true
	return nil
}

func (s *staticStream) StopClip() (*interview.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clip || s.video == nil {
		s.clip = false
		return nil, nil
	}
	s.clip = false
	v := *s.video
	return &v, nil
}

func (s *staticStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *staticStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PresenceDetector сообщает заданное вручную присутствие лица
type PresenceDetector struct {
	absent atomic.Bool
}

func NewPresenceDetector() *PresenceDetector {
	return &PresenceDetector{}
}

func (d *PresenceDetector) FacePresent(context.Context, media.Stream) (bool, error) {
	return !d.absent.Load(), nil
}

// Set переключает присутствие; адаптер увидит изменение на следующей проверке
func (d *PresenceDetector) Set(present bool) {
	d.absent.Store(!present)
}
