// Package metrics содержит счетчики процесса оркестратора
package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu                 sync.RWMutex
	SessionsStarted    int64
	SessionsCompleted  int64
	QuestionsAnswered  int64
	RecordingAttempts  int64
	AutoSubmits        int64
	FeedbackPolls      int64
	APICallsTotal      int64
	APICallsSuccessful int64
	LastUpdateTime     time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		LastUpdateTime: time.Now(),
	}
}

func (m *Metrics) IncrementSessionsStarted() {
	m.add(func(m *Metrics) *int64 { return &m.SessionsStarted })
}

func (m *Metrics) IncrementSessionsCompleted() {
	m.add(func(m *Metrics) *int64 { return &m.SessionsCompleted })
}

func (m *Metrics) IncrementQuestionsAnswered() {
	m.add(func(m *Metrics) *int64 { return &m.QuestionsAnswered })
}

func (m *Metrics) IncrementRecordingAttempts() {
	m.add(func(m *Metrics) *int64 { return &m.RecordingAttempts })
}

// IncrementAutoSubmits считает отправки по истечении времени последней попытки
func (m *Metrics) IncrementAutoSubmits() {
	m.add(func(m *Metrics) *int64 { return &m.AutoSubmits })
}

func (m *Metrics) IncrementFeedbackPolls() {
	m.add(func(m *Metrics) *int64 { return &m.FeedbackPolls })
}

func (m *Metrics) IncrementAPICall(success bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.APICallsTotal++
	if success {
		m.APICallsSuccessful++
	}
	m.LastUpdateTime = time.Now()
}

// add безопасен для nil: компоненты могут работать без метрик.
// Поле выбирается только после проверки получателя.
func (m *Metrics) add(field func(*Metrics) *int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	*field(m)++
	m.LastUpdateTime = time.Now()
}

// Snapshot - копия счетчиков без мьютекса
type Snapshot struct {
	SessionsStarted    int64     `json:"sessions_started"`
	SessionsCompleted  int64     `json:"sessions_completed"`
	QuestionsAnswered  int64     `json:"questions_answered"`
	RecordingAttempts  int64     `json:"recording_attempts"`
	AutoSubmits        int64     `json:"auto_submits"`
	FeedbackPolls      int64     `json:"feedback_polls"`
	APICallsTotal      int64     `json:"api_calls_total"`
	APICallsSuccessful int64     `json:"api_calls_successful"`
	LastUpdateTime     time.Time `json:"last_update_time"`
}

func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		SessionsStarted:    m.SessionsStarted,
		SessionsCompleted:  m.SessionsCompleted,
		QuestionsAnswered:  m.QuestionsAnswered,
		RecordingAttempts:  m.RecordingAttempts,
		AutoSubmits:        m.AutoSubmits,
		FeedbackPolls:      m.FeedbackPolls,
		APICallsTotal:      m.APICallsTotal,
		APICallsSuccessful: m.APICallsSuccessful,
		LastUpdateTime:     m.LastUpdateTime,
	}
}
