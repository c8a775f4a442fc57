package library

import (
	"context"
	"sync"

	"github.com/example/anime-client/internal/store"
)

// job is one queued durable write. User-initiated jobs carry a reply
// channel and are awaited; progress ticks carry a coalescing key, the
// tick payload and a nil reply. While a tick is still pending, another
// tick for the same key folds into it by the history monotonicity rule,
// so only the winning tick per natural key reaches the store and a
// stale tick can never displace a queued newer one.
type job struct {
	key   string
	tick  store.HistoryEntry
	run   func(ctx context.Context) error
	reply chan error
}

// writeQueue is the intake for the cache's single writer goroutine.
// Unbounded FIFO guarded by a mutex, with a buffered signal channel so
// the worker can wait without spinning.
type writeQueue struct {
	mu      sync.Mutex
	jobs    []*job
	pending map[string]*job
	closed  bool
	signal  chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{
		pending: make(map[string]*job),
		signal:  make(chan struct{}, 1),
	}
}

// enqueue adds j, or folds it into a pending job with the same
// coalescing key. Returns ErrClosed once the queue has been closed.
func (q *writeQueue) enqueue(j *job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if j.key != "" {
		if pending, ok := q.pending[j.key]; ok {
			pending.tick, _ = store.MergeHistory(pending.tick, j.tick)
			return nil
		}
		q.pending[j.key] = j
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// next blocks until a job is available or the queue is closed and
// drained. The second return value is false only when there is nothing
// left to run.
func (q *writeQueue) next() (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs = q.jobs[1:]
			if j.key != "" && q.pending[j.key] == j {
				delete(q.pending, j.key)
			}
			q.mu.Unlock()
			return j, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}
		<-q.signal
	}
}

// close stops intake. Jobs already queued remain and are drained by the
// worker; nothing is silently dropped.
func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// depth reports the number of queued jobs.
func (q *writeQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
