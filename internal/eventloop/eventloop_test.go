package eventloop

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestLoop_RunsTasksInOrder(t *testing.T) {
	t.Parallel()

	l := New("test")
	defer l.Close()

	var got []int
	for i := range 10 {
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestLoop_PostedFromTaskRunsAfterBatch(t *testing.T) {
	t.Parallel()

	l := New("test")
	defer l.Close()

	var got []string
	l.Call(context.Background(), func() {
		l.Post(func() { got = append(got, "nested") })
		got = append(got, "outer")
	})
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if want := []string{"outer", "nested"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestLoop_SurvivesPanics(t *testing.T) {
	t.Parallel()

	l := New("test")
	defer l.Close()

	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Call(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !ran {
		t.Fatal("task after panic did not run")
	}
}

func TestLoop_CallHonorsContext(t *testing.T) {
	t.Parallel()

	l := New("test")
	defer l.Close()

	release := make(chan struct{})
	l.Post(func() { <-release })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Call(ctx, func() {}); err != context.DeadlineExceeded {
		t.Fatalf("Call() error = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestLoop_CallFromTaskWaitsForContext(t *testing.T) {
	t.Parallel()

	l := New("test")
	defer l.Close()

	var nested error
	ran := false
	l.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		nested = l.Call(ctx, func() { ran = true })
	})
	// The second Flush is posted after the nested task.
	for range 2 {
		if err := l.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}
	if nested != context.DeadlineExceeded {
		t.Fatalf("nested Call() error = %v, want deadline exceeded", nested)
	}
	if !ran {
		t.Fatal("nested task did not run after the outer task returned")
	}
}

func TestLoop_CloseDrainsQueue(t *testing.T) {
	t.Parallel()

	l := New("test")
	var mu sync.Mutex
	count := 0
	for range 5 {
		l.Post(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	l.Close()
	l.Post(func() { t.Error("task ran after Close") })
	if count != 5 {
		t.Fatalf("ran %d tasks, want 5", count)
	}
}

func TestLIFOQueue_RunsNewestFirstAndDropsOldest(t *testing.T) {
	t.Parallel()

	q := NewLIFOQueue(2)
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	q.Submit(func() {
		close(started)
		<-block
	})
	<-started

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	record := func(i int) func() {
		return func() {
			mu.Lock()
			got = append(got, i)
			n := len(got)
			mu.Unlock()
			if n == 2 {
				close(done)
			}
		}
	}
	if q.Submit(record(1)) {
		t.Fatal("first submit dropped a task")
	}
	q.Submit(record(2))
	if !q.Submit(record(3)) {
		t.Fatal("submit beyond depth did not drop")
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	close(block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	if want := []int{3, 2}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestLIFOQueue_Clear(t *testing.T) {
	t.Parallel()

	q := NewLIFOQueue(5)
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	q.Submit(func() {
		close(started)
		<-block
	})
	<-started
	q.Submit(func() { t.Error("cleared task ran") })
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after Clear", q.Len())
	}
	close(block)
}
