package feedback

import (
	"context"
	"fmt"
	"sync"

	"interview-orchestrator/internal/interview"
)

// RatingBackend - запросы оценки сеанса
type RatingBackend interface {
	GetRating(ctx context.Context, sessionID string) (*interview.Rating, error)
	SubmitRating(ctx context.Context, sessionID string, rating interview.Rating) error
}

// Gate не дает открыть отчет, пока кандидат не оценил сеанс или не пропустил оценку
type Gate struct {
	backend RatingBackend

	mu      sync.Mutex
	open    bool
	skipped bool
	rating  *interview.Rating
}

func NewGate(backend RatingBackend) *Gate {
	return &Gate{backend: backend}
}

// Check загружает сохраненную оценку. Если она есть, отчет доступен сразу.
func (g *Gate) Check(ctx context.Context, sessionID string) (bool, error) {
	rating, err := g.backend.GetRating(ctx, sessionID)
	if err != nil {
		return g.CanView(), fmt.Errorf("check rating: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if rating != nil {
		g.rating = rating
		g.open = true
	}
	return g.open, nil
}

// Submit сохраняет оценку и открывает отчет. Повторная оценка заменяет прежнюю.
func (g *Gate) Submit(ctx context.Context, sessionID string, rating interview.Rating) error {
	if err := rating.Validate(); err != nil {
		return err
	}
	if err := g.backend.SubmitRating(ctx, sessionID, rating); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rating = &rating
	g.open = true
	return nil
}

// Skip открывает отчет без сохранения оценки
func (g *Gate) Skip() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skipped = true
	g.open = true
}

func (g *Gate) CanView() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

func (g *Gate) Skipped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skipped
}

// Rating возвращает последнюю известную оценку
func (g *Gate) Rating() *interview.Rating {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rating == nil {
		return nil
	}
	r := *g.rating
	return &r
}
