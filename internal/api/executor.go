package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"interview-orchestrator/internal/metrics"
)

// Executor - клиент удаленного сервиса выполнения кода.
// Вызов синхронный: ответ содержит результат компиляции и запуска.
type Executor struct {
	baseURL string
	client  *http.Client
	metrics *metrics.Metrics
}

// NewExecutor создает клиент сервиса выполнения кода
func NewExecutor(baseURL string, opts ...Option) *Executor {
	o := buildOptions(opts)
	return &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  o.httpClient,
		metrics: o.metrics,
	}
}

// Execute запускает программу и возвращает результат
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	if req.Language == "" {
		return nil, fmt.Errorf("execute: language is required")
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("execute: no files")
	}
	if req.Version == "" {
		req.Version = "*"
	}

	c := &Client{baseURL: e.baseURL, client: e.client, metrics: e.metrics}
	var resp ExecuteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v2/execute", req, &resp); err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.Language, err)
	}
	return &resp, nil
}
