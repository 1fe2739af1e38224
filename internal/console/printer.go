package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/recording"
	"interview-orchestrator/internal/session"
)

// Printer выводит события контроллера в терминал
type Printer struct {
	mu  sync.Mutex
	out io.Writer
	// lastTick - последняя выведенная отметка таймера
	lastTick time.Duration
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Notify подходит как session.Notifier
func (p *Printer) Notify(e session.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case session.EventQuestion:
		p.lastTick = 0
		if e.Question == nil {
			return
		}
		fmt.Fprintf(p.out, "\n📋 Вопрос %s: %s\n", progress(e.Session), e.Question.Text)
		fmt.Fprintf(p.out, "   тип: %s, сложность: %s\n", e.Question.Type, e.Question.Difficulty)
		fmt.Fprintln(p.out, hint(e.Question.Type))
	case session.EventPhase:
		switch e.Session.Phase {
		case interview.PhaseSubmitting:
			fmt.Fprintln(p.out, "📤 Отправляем ответ...")
		case interview.PhaseAwaitingFeedback:
			fmt.Fprintln(p.out, "⏳ Интервью завершено, готовим отчет...")
		case interview.PhaseComplete:
			fmt.Fprintln(p.out, "✅ Отчет готов. Оцените интервью: /rate 1-5 [комментарий] или /skip")
		}
	case session.EventTick:
		if p.shouldPrintTick(e.Remaining) {
			fmt.Fprintf(p.out, "⏱  Осталось %s\n", e.Remaining.Round(time.Second))
		}
	case session.EventFace:
		if e.FacePresent {
			fmt.Fprintln(p.out, "🙂 Лицо в кадре")
		} else {
			fmt.Fprintln(p.out, "⚠️ Лицо не обнаружено, запись недоступна")
		}
	case session.EventTranscript:
		fmt.Fprintf(p.out, "📝 %s\n", e.Transcript)
	case session.EventRecording:
		p.printRecording(e)
	case session.EventExpired:
		fmt.Fprintln(p.out, "⌛ Время на ответ вышло, отправляем черновик")
	case session.EventFeedback:
		if e.Feedback == nil {
			return
		}
		switch e.Feedback.Status {
		case interview.FeedbackPending:
			fmt.Fprintln(p.out, "⏳ Отчет генерируется...")
		case interview.FeedbackFailed:
			fmt.Fprintf(p.out, "❌ Не удалось подготовить отчет: %s\n", e.Feedback.Error)
			if interview.Retryable(interview.ClassifyFeedbackError(e.Feedback.Error)) {
				fmt.Fprintln(p.out, "   Повторить: /regen")
			}
		}
	case session.EventError:
		if e.Err != nil {
			fmt.Fprintf(p.out, "❌ %v\n", e.Err)
		}
	}
}

func (p *Printer) printRecording(e session.Event) {
	switch e.Recording {
	case recording.StateRecording:
		p.lastTick = 0
		fmt.Fprintf(p.out, "🔴 Запись началась (осталось попыток: %d). Говорите, /stop чтобы закончить\n", e.AttemptsLeft)
	case recording.StateSaved:
		if e.Attempt != nil {
			fmt.Fprintf(p.out, "💾 Попытка %d сохранена: %q\n", e.Attempt.Number, e.Attempt.Transcript)
		}
		fmt.Fprintln(p.out, "   /submit отправить, /edit текст исправить, /rerecord перезаписать, /delete удалить")
	case recording.StateIdle:
		fmt.Fprintf(p.out, "🎙  Готово к записи (попыток: %d), /record чтобы начать\n", e.AttemptsLeft)
	}
}

// shouldPrintTick ограничивает вывод таймера: каждые 30 секунд и последние 10 секунд
func (p *Printer) shouldPrintTick(remaining time.Duration) bool {
	sec := remaining.Round(time.Second)
	if sec == p.lastTick {
		return false
	}
	if sec > 10*time.Second && sec%(30*time.Second) != 0 {
		return false
	}
	p.lastTick = sec
	return true
}

func progress(s interview.Session) string {
	if s.MaxQuestions > 0 {
		return fmt.Sprintf("%d/%d", s.QuestionIndex, s.MaxQuestions)
	}
	return fmt.Sprintf("%d", s.QuestionIndex)
}

func hint(t interview.QuestionType) string {
	switch t {
	case interview.TypeCoding:
		return "💻 Вводите код построчно. /lang, /stdin, /run, /clear, /submit"
	case interview.TypeSystemDesign:
		return "🧩 Схема: /node id [подпись], /edge от к [подпись], /note текст, /load файл.json, /submit"
	default:
		return "🎙  /record чтобы начать запись ответа"
	}
}
