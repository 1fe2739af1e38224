package session

import (
	"time"

	"interview-orchestrator/internal/feedback"
	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/media"
	"interview-orchestrator/internal/submission"
	"interview-orchestrator/internal/transcription"
)

type options struct {
	notify         Notifier
	maxAttempts    int
	durations      interview.Durations
	rules          submission.Rules
	tickInterval   time.Duration
	sampleInterval time.Duration
	restartDelay   time.Duration
	pollInterval   time.Duration
}

func defaultOptions() options {
	return options{
		maxAttempts:    interview.MaxAttempts,
		durations:      interview.DefaultDurations(),
		rules:          submission.DefaultRules(),
		tickInterval:   time.Second,
		sampleInterval: media.DefaultSampleInterval,
		restartDelay:   transcription.DefaultRestartDelay,
		pollInterval:   feedback.DefaultInterval,
	}
}

// Option настраивает контроллер
type Option func(*options)

// WithNotifier подписывает интерфейс на события
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notify = n }
}

// WithPolicy задает лимит попыток, длительности ответов и заготовки редактора
func WithPolicy(maxAttempts int, durations interview.Durations, placeholders []string) Option {
	return func(o *options) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if durations != nil {
			o.durations = durations
		}
		if placeholders != nil {
			o.rules = submission.Rules{Placeholders: placeholders}
		}
	}
}

// Timing - периоды фоновых циклов
type Timing struct {
	Tick         time.Duration
	FaceSample   time.Duration
	RestartDelay time.Duration
	FeedbackPoll time.Duration
}

// WithTiming переопределяет периоды. Нулевые значения оставляют умолчания.
func WithTiming(t Timing) Option {
	return func(o *options) {
		if t.Tick > 0 {
			o.tickInterval = t.Tick
		}
		if t.FaceSample > 0 {
			o.sampleInterval = t.FaceSample
		}
		if t.RestartDelay > 0 {
			o.restartDelay = t.RestartDelay
		}
		if t.FeedbackPoll > 0 {
			o.pollInterval = t.FeedbackPoll
		}
	}
}
