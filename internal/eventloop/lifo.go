package eventloop

import (
	"log/slog"
	"sync"
)

// LIFOQueue runs tasks on a single worker goroutine, newest first. When more than
// maxDepth tasks are waiting, the oldest one is dropped.
type LIFOQueue struct {
	maxDepth int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

func NewLIFOQueue(maxDepth int) *LIFOQueue {
	if maxDepth < 1 {
		maxDepth = 1
	}
	q := &LIFOQueue{maxDepth: maxDepth, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit queues task and reports whether an older task was dropped to make room.
func (q *LIFOQueue) Submit(task func()) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, task)
	if len(q.pending) > q.maxDepth {
		q.pending = q.pending[1:]
		dropped = true
		slog.Debug("lifo queue full, dropped oldest task", slog.Int("depth", q.maxDepth))
	}
	q.cond.Signal()
	return dropped
}

// Clear discards every waiting task. A task already running is not interrupted.
func (q *LIFOQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

func (q *LIFOQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close discards waiting tasks and waits for the running one to finish.
func (q *LIFOQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.pending = nil
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	<-q.done
}

func (q *LIFOQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		last := len(q.pending) - 1
		task := q.pending[last]
		q.pending = q.pending[:last]
		q.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("lifo task panicked", slog.Any("panic", r))
				}
			}()
			task()
		}()
	}
}
