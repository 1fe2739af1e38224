// Package api содержит HTTP-клиенты бэкенда интервью и сервиса выполнения кода.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/metrics"
)

const defaultTimeout = 60 * time.Second

// Option настраивает клиент
type Option func(*options)

type options struct {
	httpClient *http.Client
	timeout    time.Duration
	metrics    *metrics.Metrics
}

// WithHTTPClient подменяет HTTP-клиент (например, рекордер в тестах)
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout задает таймаут запросов
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMetrics включает учет вызовов API
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return o
}

// Client - клиент бэкенда интервью
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	metrics *metrics.Metrics
}

// NewClient создает клиент бэкенда
func NewClient(baseURL, token string, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  o.httpClient,
		metrics: o.metrics,
	}
}

// StartSession создает сеанс и возвращает первый вопрос
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (*StartSessionResponse, error) {
	var resp StartSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/sessions", req, &resp); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("start session: empty session id")
	}
	return &resp, nil
}

// SubmitAnswer отправляет ответ на текущий вопрос
func (c *Client) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	body, contentType, err := encodeAnswer(req)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.sessionPath(req.SessionID, "answers"), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var resp SubmitAnswerResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, fmt.Errorf("submit answer %s: %w", req.QuestionID, err)
	}
	return &resp, nil
}

// FeedbackStatus возвращает состояние генерации отчета
func (c *Client) FeedbackStatus(ctx context.Context, sessionID string) (*FeedbackStatusResponse, error) {
	var resp FeedbackStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, c.sessionPath(sessionID, "feedback-status"), nil, &resp); err != nil {
		return nil, fmt.Errorf("feedback status: %w", err)
	}
	return &resp, nil
}

// TriggerFeedback запускает повторную генерацию отчета
func (c *Client) TriggerFeedback(ctx context.Context, sessionID string) error {
	if err := c.doJSON(ctx, http.MethodPost, c.sessionPath(sessionID, "feedback"), nil, nil); err != nil {
		return fmt.Errorf("trigger feedback: %w", err)
	}
	return nil
}

// GetRating возвращает сохраненную оценку или nil, если ее нет
func (c *Client) GetRating(ctx context.Context, sessionID string) (*interview.Rating, error) {
	var resp interview.Rating
	err := c.doJSON(ctx, http.MethodGet, c.sessionPath(sessionID, "rating"), nil, &resp)
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get rating: %w", err)
	}
	if resp.Value == 0 {
		return nil, nil
	}
	return &resp, nil
}

// SubmitRating сохраняет оценку сеанса. Повторная запись заменяет прежнюю.
func (c *Client) SubmitRating(ctx context.Context, sessionID string, rating interview.Rating) error {
	if err := c.doJSON(ctx, http.MethodPost, c.sessionPath(sessionID, "rating"), rating, nil); err != nil {
		return fmt.Errorf("submit rating: %w", err)
	}
	return nil
}

func (c *Client) sessionPath(sessionID, action string) string {
	return "/api/interview/sessions/" + url.PathEscape(sessionID) + "/" + action
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.IncrementAPICall(false)
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	err = decodeResponse(resp, out)
	c.metrics.IncrementAPICall(err == nil)
	return err
}

func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			herr.Message = eb.Detail
			if herr.Message == "" {
				herr.Message = eb.Error
			}
		}
		return herr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}

// encodeAnswer собирает тело multipart/form-data
func encodeAnswer(req SubmitAnswerRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"answer", req.Answer},
		{"question_id", req.QuestionID},
		{"question_type", string(req.QuestionType)},
	}
	if len(req.Diagram) > 0 {
		fields = append(fields, struct{ name, value string }{"system_design_diagram", string(req.Diagram)})
	}
	if req.IsFinal {
		fields = append(fields, struct{ name, value string }{"is_final", strconv.FormatBool(true)})
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	if !req.Video.Empty() {
		mimeType := req.Video.MimeType
		if mimeType == "" {
			mimeType = "video/webm"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="response_video"; filename="response.webm"`)
		h.Set("Content-Type", mimeType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(req.Video.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
