// Package queue holds the in-memory work queue feeding the batch
// orchestrator. Enqueue is non-blocking so intake surfaces backpressure to
// callers instead of stalling them.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cardmint/scan-cli/internal/model"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = eris.New("queue: full")

// Queue is a bounded, priority-aware FIFO of work items. Items of equal
// priority keep arrival order; higher priority drains first.
type Queue struct {
	mu    sync.Mutex
	items []queued
	cap   int
	seq   uint64
	now   func() time.Time
}

type queued struct {
	item model.WorkItem
	// readyAt delays requeued items so retries back off.
	readyAt time.Time
	seq     uint64
}

// New builds a queue holding at most capacity items. Zero or negative
// capacity means unbounded.
func New(capacity int) *Queue {
	return &Queue{cap: capacity, now: time.Now}
}

// Enqueue adds an item, failing fast when the queue is full.
func (q *Queue) Enqueue(item model.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cap > 0 && len(q.items) >= q.cap {
		return ErrQueueFull
	}
	q.push(item, q.now())
	return nil
}

// Requeue re-adds a failed item with its retry count incremented and a delay
// before it becomes eligible again. Requeues bypass the capacity check so a
// full queue cannot drop an item already in flight.
func (q *Queue) Requeue(item model.WorkItem, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.RetryCount++
	q.push(item, q.now().Add(delay))
}

func (q *Queue) push(item model.WorkItem, readyAt time.Time) {
	q.seq++
	q.items = append(q.items, queued{item: item, readyAt: readyAt, seq: q.seq})
}

// Dequeue removes up to max ready items, highest priority first. It returns
// nil when nothing is eligible yet.
func (q *Queue) Dequeue(max int) []model.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || len(q.items) == 0 {
		return nil
	}
	now := q.now()

	ready := make([]int, 0, len(q.items))
	for i, it := range q.items {
		if !it.readyAt.After(now) {
			ready = append(ready, i)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	sort.SliceStable(ready, func(a, b int) bool {
		ia, ib := q.items[ready[a]], q.items[ready[b]]
		if ra, rb := ia.item.Priority.Rank(), ib.item.Priority.Rank(); ra != rb {
			return ra > rb
		}
		return ia.seq < ib.seq
	})
	if len(ready) > max {
		ready = ready[:max]
	}

	taken := make(map[int]bool, len(ready))
	out := make([]model.WorkItem, 0, len(ready))
	for _, i := range ready {
		taken[i] = true
		out = append(out, q.items[i].item)
	}

	rest := q.items[:0]
	for i, it := range q.items {
		if !taken[i] {
			rest = append(rest, it)
		}
	}
	q.items = rest
	return out
}

// Len reports the number of queued items, ready or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
