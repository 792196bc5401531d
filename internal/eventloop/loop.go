// Package eventloop serializes work that owns shared state.
//
// A Loop plays the role the GUI event queue plays in a desktop viewer: background work
// computes results and posts a closure that applies them, so the published state has a
// single writer.
package eventloop

import (
	"context"
	"log/slog"
	"sync"
)

// Loop runs posted tasks one at a time, in posting order, on its own goroutine. Tasks
// posted while a task runs are picked up in the next turn, after the current batch.
type Loop struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func New(name string) *Loop {
	l := &Loop{name: name, done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Post enqueues task. It never blocks; tasks posted after Close are dropped.
func (l *Loop) Post(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		slog.Debug("task posted to closed loop", slog.String("loop", l.name))
		return
	}
	l.queue = append(l.queue, task)
	l.cond.Signal()
}

// Call runs task on the loop and waits for it to finish. Calling it from a task of the
// same loop blocks that loop until ctx is done and then returns ctx.Err().
func (l *Loop) Call(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		task()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return context.Canceled
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every task posted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	return l.Call(ctx, func() {})
}

// Close stops accepting tasks, runs the ones already queued and waits for the loop to
// exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Broadcast()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, task := range batch {
			l.runTask(task)
		}
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", slog.String("loop", l.name), slog.Any("panic", r))
		}
	}()
	task()
}
