package config

import (
	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/submission"
)

// Policy представляет правила проведения интервью
type Policy struct {
	Interview    InterviewPolicy     `yaml:"interview"`
	Durations    interview.Durations `yaml:"durations"`
	Placeholders []string            `yaml:"placeholders"`
}

// InterviewPolicy содержит общие ограничения
type InterviewPolicy struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultPolicy возвращает встроенные правила
func DefaultPolicy() *Policy {
	return &Policy{
		Interview:    InterviewPolicy{MaxAttempts: interview.MaxAttempts},
		Durations:    interview.DefaultDurations(),
		Placeholders: append([]string(nil), submission.DefaultPlaceholders...),
	}
}

// Методы для удобного доступа к правилам
func (p *Policy) GetMaxAttempts() int {
	return p.Interview.MaxAttempts
}

func (p *Policy) GetDurations() interview.Durations {
	return p.Durations
}

func (p *Policy) GetPlaceholders() []string {
	return p.Placeholders
}
