package gateway

import (
	"sync"
	"time"

	"github.com/shaiso/Keystone/internal/telemetry"
)

// BreakerState — состояние circuit breaker.
//
// Жизненный цикл:
//
//	closed → open (failures >= threshold)
//	open → half-open (прошло openTimeout с последней ошибки)
//	half-open → closed (halfOpenSuccesses успехов подряд)
//	half-open → open (любая ошибка)
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// gaugeValue — числовое значение для Prometheus.
func (s BreakerState) gaugeValue() float64 {
	switch s {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return 0
	}
}

// BreakerSnapshot — состояние breaker только для чтения.
type BreakerSnapshot struct {
	Module      string       `json:"module"`
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	Successes   int          `json:"successes"`
	LastFailure *time.Time   `json:"last_failure,omitempty"`
}

type breakerSettings struct {
	failureThreshold  int
	openTimeout       time.Duration
	halfOpenSuccesses int
}

// circuitBreaker — breaker одного модуля. Свой mutex на каждый модуль.
type circuitBreaker struct {
	module   string
	settings breakerSettings

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	probing     bool   // в half-open одновременно пропускается одна проба
	generation  uint64 // растёт при каждой смене состояния
}

// admission — допуск вызова: поколение breaker и признак пробы half-open.
// Итог вызова из старого поколения состояние не меняет.
type admission struct {
	generation uint64
	probe      bool
}

func newCircuitBreaker(module string, settings breakerSettings) *circuitBreaker {
	return &circuitBreaker{
		module:   module,
		settings: settings,
		state:    BreakerClosed,
	}
}

// allow проверяет, можно ли выполнить вызов.
// Открытый breaker переходит в half-open, если с последней ошибки прошло больше openTimeout.
func (b *circuitBreaker) allow(now time.Time) (admission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if now.Sub(b.lastFailure) <= b.settings.openTimeout {
			return admission{}, ErrCircuitBreakerOpen
		}
		b.setState(BreakerHalfOpen)
		b.successes = 0
		b.probing = false
	}

	if b.state == BreakerHalfOpen {
		if b.probing {
			return admission{}, ErrCircuitBreakerOpen
		}
		b.probing = true
		return admission{generation: b.generation, probe: true}, nil
	}

	return admission{generation: b.generation}, nil
}

// current сообщает, допущен ли вызов в текущем поколении. Вызывается под b.mu.
func (b *circuitBreaker) current(a admission) bool {
	if a.generation != b.generation {
		return false
	}
	return a.probe == (b.state == BreakerHalfOpen)
}

// recordSuccess фиксирует успешный вызов.
//
// В closed счётчик ошибок уменьшается на единицу, а не обнуляется:
// восстановление постепенное (leaky bucket).
func (b *circuitBreaker) recordSuccess(a admission) (closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.current(a) {
		return false
	}

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.settings.halfOpenSuccesses {
			b.setState(BreakerClosed)
			b.failures = 0
			b.successes = 0
			b.lastFailure = time.Time{}
			return true
		}
	case BreakerClosed:
		b.failures = max(0, b.failures-1)
	}
	return false
}

// recordFailure фиксирует ошибку вызова.
// Возвращает true, если breaker перешёл в open.
func (b *circuitBreaker) recordFailure(a admission, now time.Time) (opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.current(a) {
		return false
	}

	b.failures++
	b.lastFailure = now

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		b.successes = 0
		b.setState(BreakerOpen)
		return true
	case BreakerClosed:
		if b.failures >= b.settings.failureThreshold {
			b.setState(BreakerOpen)
			return true
		}
	}
	return false
}

// reset возвращает breaker в исходное состояние.
func (b *circuitBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(BreakerClosed)
	b.failures = 0
	b.successes = 0
	b.probing = false
	b.lastFailure = time.Time{}
}

func (b *circuitBreaker) snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerSnapshot{
		Module:    b.module,
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	return s
}

// setState вызывается под b.mu.
func (b *circuitBreaker) setState(state BreakerState) {
	b.state = state
	b.generation++
	telemetry.BreakerState.WithLabelValues(b.module).Set(state.gaugeValue())
}
