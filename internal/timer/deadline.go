// Package timer реализует таймер с абсолютным дедлайном. Оставшееся время
// пересчитывается от текущего времени на каждом тике, поэтому приостановка
// процесса не искажает отсчет.
package timer

import (
	"context"
	"sync"
	"time"
)

// Clock - источник текущего времени
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock возвращает часы на основе time.Now
func SystemClock() Clock { return systemClock{} }

// Option настраивает Deadline
type Option func(*Deadline)

// WithClock подменяет источник времени
func WithClock(c Clock) Option {
	return func(d *Deadline) { d.clock = c }
}

// OnTick задает обработчик оставшегося времени
func OnTick(fn func(remaining time.Duration)) Option {
	return func(d *Deadline) { d.onTick = fn }
}

// OnExpire задает обработчик истечения дедлайна
func OnExpire(fn func()) Option {
	return func(d *Deadline) { d.onExpire = fn }
}

// Deadline отслеживает один дедлайн на цикл взведения
type Deadline struct {
	mu       sync.Mutex
	clock    Clock
	deadline time.Time
	armed    bool
	cycle    uint64
	last     time.Duration
	onTick   func(time.Duration)
	onExpire func()
}

// New создает таймер
func New(opts ...Option) *Deadline {
	d := &Deadline{clock: SystemClock()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Arm взводит таймер: дедлайн = сейчас + duration. Начинает новый цикл.
func (d *Deadline) Arm(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deadline = d.clock.Now().Add(duration)
	d.armed = true
	d.cycle++
	d.last = duration
}

// Disarm снимает дедлайн. Повторный вызов безопасен.
func (d *Deadline) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
}

// Armed сообщает, взведен ли таймер
func (d *Deadline) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Cycle возвращает номер текущего цикла взведения
func (d *Deadline) Cycle() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycle
}

// Remaining возвращает оставшееся время без вызова обработчиков
func (d *Deadline) Remaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return 0
	}
	return d.remainingLocked()
}

// remainingLocked не дает оставшемуся времени расти внутри цикла,
// даже если часы хоста сдвинулись назад.
func (d *Deadline) remainingLocked() time.Duration {
	remaining := d.deadline.Sub(d.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	if remaining > d.last {
		remaining = d.last
	}
	d.last = remaining
	return remaining
}

// Tick пересчитывает оставшееся время и вызывает обработчики.
// При достижении нуля OnExpire вызывается ровно один раз за цикл, после чего таймер снимается.
func (d *Deadline) Tick() time.Duration {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return 0
	}
	remaining := d.remainingLocked()
	expired := remaining == 0
	if expired {
		d.armed = false
	}
	onTick, onExpire := d.onTick, d.onExpire
	d.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
	return remaining
}

// Run вызывает Tick с заданным интервалом до отмены контекста
func (d *Deadline) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}
