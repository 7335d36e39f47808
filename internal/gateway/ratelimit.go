package gateway

import (
	"sync"
	"time"
)

// slidingWindow — журнал вызовов одного тенанта за последнее окно.
type slidingWindow struct {
	mu      sync.Mutex
	calls   []time.Time
	retired bool // окно удалено из Gateway.windows, нужен новый экземпляр
}

// allow регистрирует вызов, если в окне (now-window, now] меньше max вызовов.
// live=false — окно уже выведено из оборота, вызов не учтён.
func (w *slidingWindow) allow(now time.Time, window time.Duration, limit int) (allowed, live bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.retired {
		return false, false
	}

	w.evict(now, window)

	if len(w.calls) >= limit {
		return false, true
	}

	w.calls = append(w.calls, now)
	return true, true
}

// retireIfIdle выводит из оборота окно без вызовов в текущем окне.
func (w *slidingWindow) retireIfIdle(now time.Time, window time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now, window)
	if len(w.calls) == 0 {
		w.retired = true
	}
	return w.retired
}

// count возвращает число вызовов в текущем окне.
func (w *slidingWindow) count(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now, window)
	return len(w.calls)
}

// evict удаляет вызовы старше окна. Вызывается под w.mu.
func (w *slidingWindow) evict(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)

	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
