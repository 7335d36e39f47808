package workflow

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timerItem — запланированное пробуждение execution.
type timerItem struct {
	id     uuid.UUID
	wakeAt time.Time
	index  int
}

// timerHeap — min-heap по wakeAt.
type timerHeap []*timerItem

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].wakeAt.Before(h[j].wakeAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TimerQueue — потокобезопасная очередь пробуждений.
// На один execution хранится не больше одного таймера.
type TimerQueue struct {
	mu    sync.Mutex
	heap  timerHeap
	items map[uuid.UUID]*timerItem

	// notify сигнализирует timer loop о новом раннем таймере.
	notify chan struct{}
}

// NewTimerQueue создаёт пустую очередь.
func NewTimerQueue() *TimerQueue {
	return &TimerQueue{
		items:  make(map[uuid.UUID]*timerItem),
		notify: make(chan struct{}, 1),
	}
}

// Schedule ставит или переносит пробуждение execution.
func (q *TimerQueue) Schedule(id uuid.UUID, wakeAt time.Time) {
	q.mu.Lock()
	if item, ok := q.items[id]; ok {
		item.wakeAt = wakeAt
		heap.Fix(&q.heap, item.index)
	} else {
		item := &timerItem{id: id, wakeAt: wakeAt}
		heap.Push(&q.heap, item)
		q.items[id] = item
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Remove удаляет таймер execution, если он есть.
func (q *TimerQueue) Remove(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.items[id]; ok {
		heap.Remove(&q.heap, item.index)
		delete(q.items, id)
	}
}

// PopDue извлекает все execution с wakeAt <= now.
func (q *TimerQueue) PopDue(now time.Time) []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []uuid.UUID
	for q.heap.Len() > 0 && !q.heap[0].wakeAt.After(now) {
		item := heap.Pop(&q.heap).(*timerItem)
		delete(q.items, item.id)
		due = append(due, item.id)
	}
	return due
}

// Next возвращает время ближайшего пробуждения.
func (q *TimerQueue) Next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return time.Time{}, false
	}
	return q.heap[0].wakeAt, true
}

// Len возвращает количество таймеров.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
