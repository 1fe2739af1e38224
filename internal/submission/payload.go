// Package submission проверяет ответ, собирает запрос нужного вида и
// интерпретирует ответ бэкенда как следующий вопрос или завершение сеанса.
package submission

import (
	"encoding/json"
	"fmt"
	"strings"

	"interview-orchestrator/internal/api"
	"interview-orchestrator/internal/interview"
)

// DefaultPlaceholders - заготовки редактора кода, которые не считаются ответом
var DefaultPlaceholders = []string{
	"// write your code here",
	"# write your code here",
	"// your code here",
	"# your code here",
	"/* write your code here */",
}

// CodeResult - код кандидата и результат его последнего запуска
type CodeResult struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Success  bool   `json:"success"`
	HasRun   bool   `json:"has_run"`
}

// FromExecution заполняет результат ответом сервиса выполнения кода
func (c *CodeResult) FromExecution(resp *api.ExecuteResponse) {
	c.Stdout = resp.Stdout()
	c.Stderr = resp.Stderr()
	c.Success = resp.Success()
	c.HasRun = true
}

// DiagramNode - узел схемы
type DiagramNode struct {
	ID    string `json:"id"`
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
	Data  struct {
		Label string `json:"label,omitempty"`
	} `json:"data,omitempty"`
}

// Name возвращает подпись узла
func (n DiagramNode) Name() string {
	switch {
	case n.Label != "":
		return n.Label
	case n.Data.Label != "":
		return n.Data.Label
	default:
		return n.ID
	}
}

// DiagramEdge - связь между узлами
type DiagramEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Diagram - схема системного дизайна. Raw уходит на бэкенд без изменений.
type Diagram struct {
	Raw   json.RawMessage `json:"-"`
	Nodes []DiagramNode   `json:"nodes"`
	Edges []DiagramEdge   `json:"edges"`
	Notes string          `json:"notes,omitempty"`
}

// ParseDiagram разбирает JSON схемы
func ParseDiagram(raw []byte) (*Diagram, error) {
	var d Diagram
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &interview.ValidationError{Reason: fmt.Sprintf("diagram is not valid JSON: %v", err)}
	}
	d.Raw = append(json.RawMessage(nil), raw...)
	return &d, nil
}

// Summary описывает схему текстом для поля answer
func (d *Diagram) Summary() string {
	if notes := strings.TrimSpace(d.Notes); notes != "" {
		return notes
	}

	names := make(map[string]string, len(d.Nodes))
	parts := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		names[n.ID] = n.Name()
		parts = append(parts, n.Name())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Components: %s.", strings.Join(parts, ", "))
	for _, e := range d.Edges {
		from, to := names[e.Source], names[e.Target]
		if from == "" {
			from = e.Source
		}
		if to == "" {
			to = e.Target
		}
		fmt.Fprintf(&b, "\n%s -> %s", from, to)
		if e.Label != "" {
			fmt.Fprintf(&b, " (%s)", e.Label)
		}
	}
	return b.String()
}

// Answer - ответ на вопрос. Заполнено ровно одно поле в зависимости от типа вопроса.
type Answer struct {
	Recording *interview.RecordingAttempt
	Code      *CodeResult
	Diagram   *Diagram
	// Forced - ответ по истечении времени; отправляется как есть, даже пустой
	Forced bool
}

// Rules - правила проверки ответа перед отправкой
type Rules struct {
	Placeholders []string
}

// DefaultRules возвращает правила со стандартными заготовками
func DefaultRules() Rules {
	return Rules{Placeholders: DefaultPlaceholders}
}

// Validate проверяет, что ответ содержательный
func (r Rules) Validate(q interview.Question, a Answer) error {
	if a.Forced {
		return nil
	}
	switch q.Type {
	case interview.TypeCoding:
		if a.Code == nil || !r.meaningful(a.Code.Code) {
			return &interview.ValidationError{Reason: "write some code before submitting"}
		}
	case interview.TypeSystemDesign:
		if a.Diagram == nil || len(a.Diagram.Nodes) == 0 {
			return &interview.ValidationError{Reason: "add at least one component to the diagram"}
		}
	default:
		// Сохраненная попытка считается ответом, даже пустая
		if a.Recording == nil {
			return &interview.ValidationError{Reason: "record an answer before submitting"}
		}
	}
	return nil
}

// meaningful отбрасывает пустой код и нетронутые заготовки
func (r Rules) meaningful(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	for _, p := range r.Placeholders {
		if code == strings.TrimSpace(p) {
			return false
		}
	}
	return true
}

// BuildPayload собирает запрос отправки ответа. Видео прикладывается только к речевым вопросам.
func BuildPayload(sessionID string, q interview.Question, a Answer, final bool) api.SubmitAnswerRequest {
	req := api.SubmitAnswerRequest{
		SessionID:    sessionID,
		QuestionID:   q.ID,
		QuestionType: q.Type,
		IsFinal:      final,
	}

	switch q.Type {
	case interview.TypeCoding:
		if a.Code != nil {
			req.Answer = codeAnswer(a.Code)
		}
	case interview.TypeSystemDesign:
		if a.Diagram != nil {
			req.Answer = a.Diagram.Summary()
			req.Diagram = a.Diagram.Raw
		}
	default:
		if a.Recording != nil {
			req.Answer = a.Recording.Transcript
			if q.Type == interview.TypeSpeech && !a.Recording.Video.Empty() {
				req.Video = a.Recording.Video
			}
		}
	}
	return req
}

// codeAnswer - код и, если он запускался, протокол выполнения
func codeAnswer(c *CodeResult) string {
	if !c.HasRun {
		return c.Code
	}
	var b strings.Builder
	b.WriteString(c.Code)
	b.WriteString("\n\n--- execution ---\n")
	if c.Language != "" {
		fmt.Fprintf(&b, "language: %s\n", c.Language)
	}
	if c.Stdin != "" {
		fmt.Fprintf(&b, "stdin:\n%s\n", c.Stdin)
	}
	fmt.Fprintf(&b, "stdout:\n%s\n", c.Stdout)
	if c.Stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", c.Stderr)
	}
	fmt.Fprintf(&b, "success: %t", c.Success)
	return b.String()
}
