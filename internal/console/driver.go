package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/session"
	"interview-orchestrator/internal/submission"
)

// Session - операции контроллера, доступные из терминала
type Session interface {
	Snapshot() session.Snapshot
	AcquireMedia(ctx context.Context) error
	StartRecording() error
	StopRecording() (*interview.RecordingAttempt, error)
	ReRecord() error
	DeleteRecording() error
	EditTranscript(text string) error
	SubmitRecording(ctx context.Context) error
	RunCode(ctx context.Context, language, version, code, stdin string) (*submission.CodeResult, error)
	SubmitCode(ctx context.Context, code submission.CodeResult) error
	SubmitDiagram(ctx context.Context, raw json.RawMessage) error
	SaveCodeDraft(code submission.CodeResult) error
	SaveDiagramDraft(raw json.RawMessage) error
	RegenerateFeedback(ctx context.Context) error
	SubmitRating(ctx context.Context, rating interview.Rating) error
	SkipRating()
	CanViewReport() bool
}

// errQuit завершает цикл по команде /quit
var errQuit = errors.New("quit")

// Driver ведет диалог с кандидатом: читает команды и текст, передает их контроллеру
type Driver struct {
	session    Session
	recognizer *LineRecognizer
	detector   *PresenceDetector
	out        io.Writer
	logger     *slog.Logger
	// WaitPoll - период проверки статуса в /wait
	WaitPoll time.Duration

	questionID string
	language   string
	stdin      string
	code       []string
	diagram    submission.Diagram
}

func NewDriver(s Session, recognizer *LineRecognizer, detector *PresenceDetector, out io.Writer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		session:    s,
		recognizer: recognizer,
		detector:   detector,
		out:        out,
		logger:     logger.With("component", "console"),
		WaitPoll:   200 * time.Millisecond,
		language:   "python",
	}
}

// Run читает строки до /quit, конца ввода или отмены ctx.
// После конца ввода ждет окончания генерации отчета, если интервью завершено.
func (d *Driver) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return d.finish(ctx)
			}
			if err := d.Handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
	}
}

// Handle обрабатывает одну строку. Ошибки операций выводятся, наружу возвращается только /quit.
func (d *Driver) Handle(ctx context.Context, line string) error {
	snap := d.session.Snapshot()
	if snap.Question.ID != d.questionID {
		d.resetDrafts(snap.Question.ID)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		d.text(snap, line)
		return nil
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	if err := d.command(ctx, snap, cmd, arg); err != nil {
		if errors.Is(err, errQuit) {
			return err
		}
		d.logger.Debug("command failed", "command", cmd, "error", err)
		fmt.Fprintf(d.out, "❌ %v\n", err)
	}
	return nil
}

func (d *Driver) text(snap session.Snapshot, line string) {
	switch snap.Question.Type {
	case interview.TypeCoding:
		d.code = append(d.code, line)
		d.saveDraft(snap)
	case interview.TypeSystemDesign:
		fmt.Fprintln(d.out, "Пожалуйста, используйте команды /node, /edge или /note.")
	default:
		if !d.recognizer.Feed(line) {
			fmt.Fprintln(d.out, "Запись не идет. Начните ее командой /record.")
		}
	}
}

func (d *Driver) command(ctx context.Context, snap session.Snapshot, cmd, arg string) error {
	switch cmd {
	case "quit", "exit":
		return errQuit
	case "status":
		d.printStatus(snap)
		return nil
	case "face":
		d.detector.Set(arg != "off")
		return nil
	case "camera":
		return d.session.AcquireMedia(ctx)

	case "record":
		return d.session.StartRecording()
	case "stop":
		_, err := d.session.StopRecording()
		return err
	case "rerecord":
		return d.session.ReRecord()
	case "delete":
		return d.session.DeleteRecording()
	case "edit":
		return d.session.EditTranscript(arg)

	case "lang":
		if arg == "" {
			return fmt.Errorf("usage: /lang <language>")
		}
		d.language = arg
		d.saveDraft(snap)
		return nil
	case "stdin":
		d.stdin = strings.ReplaceAll(arg, `\n`, "\n")
		d.saveDraft(snap)
		return nil
	case "clear":
		d.code = nil
		d.saveDraft(snap)
		return nil
	case "run":
		res, err := d.session.RunCode(ctx, d.language, "", d.source(), d.stdin)
		if err != nil {
			return err
		}
		fmt.Fprintf(d.out, "▶️ success=%t\n%s", res.Success, res.Stdout)
		if res.Stderr != "" {
			fmt.Fprintf(d.out, "stderr:\n%s", res.Stderr)
		}
		return nil

	case "node":
		id, label, _ := strings.Cut(arg, " ")
		if id == "" {
			return fmt.Errorf("usage: /node <id> [label]")
		}
		d.diagram.Nodes = append(d.diagram.Nodes, submission.DiagramNode{ID: id, Label: strings.TrimSpace(label)})
		d.diagram.Raw = nil
		d.saveDraft(snap)
		return nil
	case "edge":
		fields := strings.SplitN(arg, " ", 3)
		if len(fields) < 2 {
			return fmt.Errorf("usage: /edge <from> <to> [label]")
		}
		edge := submission.DiagramEdge{Source: fields[0], Target: fields[1]}
		if len(fields) == 3 {
			edge.Label = strings.TrimSpace(fields[2])
		}
		d.diagram.Edges = append(d.diagram.Edges, edge)
		d.diagram.Raw = nil
		d.saveDraft(snap)
		return nil
	case "note":
		d.diagram.Notes = arg
		d.diagram.Raw = nil
		d.saveDraft(snap)
		return nil
	case "load":
		data, err := os.ReadFile(arg)
		if err != nil {
			return fmt.Errorf("read diagram: %w", err)
		}
		diagram, err := submission.ParseDiagram(data)
		if err != nil {
			return err
		}
		d.diagram = *diagram
		d.saveDraft(snap)
		return nil

	case "submit":
		return d.submit(ctx, snap)
	case "wait":
		return d.wait(ctx)
	case "regen":
		return d.session.RegenerateFeedback(ctx)
	case "rate":
		value, comments, _ := strings.Cut(arg, " ")
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("usage: /rate <1-5> [comments]")
		}
		if err := d.session.SubmitRating(ctx, interview.Rating{Value: n, Comments: strings.TrimSpace(comments)}); err != nil {
			return err
		}
		d.printReportAccess()
		return nil
	case "skip":
		d.session.SkipRating()
		d.printReportAccess()
		return nil
	default:
		return fmt.Errorf("unknown command /%s", cmd)
	}
}

func (d *Driver) submit(ctx context.Context, snap session.Snapshot) error {
	switch snap.Question.Type {
	case interview.TypeCoding:
		return d.session.SubmitCode(ctx, d.codeResult())
	case interview.TypeSystemDesign:
		raw, err := d.diagramJSON()
		if err != nil {
			return err
		}
		return d.session.SubmitDiagram(ctx, raw)
	default:
		return d.session.SubmitRecording(ctx)
	}
}

// saveDraft передает контроллеру текущий черновик: он уйдет по истечении времени
func (d *Driver) saveDraft(snap session.Snapshot) {
	var err error
	switch snap.Question.Type {
	case interview.TypeCoding:
		err = d.session.SaveCodeDraft(d.codeResult())
	case interview.TypeSystemDesign:
		var raw json.RawMessage
		if raw, err = d.diagramJSON(); err == nil {
			err = d.session.SaveDiagramDraft(raw)
		}
	}
	if err != nil {
		d.logger.Debug("save draft", "question_id", snap.Question.ID, "error", err)
	}
}

func (d *Driver) codeResult() submission.CodeResult {
	return submission.CodeResult{Language: d.language, Code: d.source(), Stdin: d.stdin}
}

func (d *Driver) diagramJSON() (json.RawMessage, error) {
	if d.diagram.Raw != nil {
		return d.diagram.Raw, nil
	}
	raw, err := json.Marshal(d.diagram)
	if err != nil {
		return nil, fmt.Errorf("encode diagram: %w", err)
	}
	return raw, nil
}

// wait блокируется, пока генерация отчета не дойдет до конечного статуса
func (d *Driver) wait(ctx context.Context) error {
	ticker := time.NewTicker(d.WaitPoll)
	defer ticker.Stop()
	for {
		snap := d.session.Snapshot()
		if snap.Feedback.Terminal() || snap.Session.Phase == interview.PhaseComplete {
			return nil
		}
		if snap.Session.Phase != interview.PhaseAwaitingFeedback {
			return fmt.Errorf("interview is not finished: %w", interview.ErrWrongPhase)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// finish вызывается по концу ввода
func (d *Driver) finish(ctx context.Context) error {
	if d.session.Snapshot().Session.Phase != interview.PhaseAwaitingFeedback {
		return nil
	}
	err := d.wait(ctx)
	if err != nil && errors.Is(err, interview.ErrWrongPhase) {
		return nil
	}
	return err
}

func (d *Driver) printStatus(snap session.Snapshot) {
	fmt.Fprintf(d.out, "Сессия %s, вопрос %s, фаза %s\n", snap.Session.ID, progress(snap.Session), snap.Session.Phase)
	if snap.Session.Phase == interview.PhaseAnswering {
		if snap.Question.Captured() {
			fmt.Fprintf(d.out, "Запись: %s, осталось попыток %d, времени %s\n",
				snap.Recording, snap.AttemptsLeft, snap.Remaining.Round(time.Second))
		} else if snap.Expired {
			fmt.Fprintln(d.out, "Время на ответ вышло")
		} else {
			fmt.Fprintf(d.out, "Осталось времени %s\n", snap.Remaining.Round(time.Second))
		}
	}
	if snap.Feedback.Status != interview.FeedbackNotRequested {
		fmt.Fprintf(d.out, "Отчет: %s\n", snap.Feedback.Status)
	}
}

func (d *Driver) printReportAccess() {
	if d.session.CanViewReport() {
		fmt.Fprintln(d.out, "📊 Отчет доступен на сайте.")
		return
	}
	fmt.Fprintln(d.out, "Отчет еще не готов.")
}

func (d *Driver) resetDrafts(questionID string) {
	d.questionID = questionID
	d.code = nil
	d.stdin = ""
	d.diagram = submission.Diagram{}
}

func (d *Driver) source() string {
	return strings.Join(d.code, "\n")
}
