package workers

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// captureLogger records error log calls for assertions.
type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (l *captureLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, msg)
}

func (l *captureLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func TestNew_InvalidSize(t *testing.T) {
	_, err := New(0, nil)
	if err == nil {
		t.Error("New(0) expected error, got nil")
	}
}

func TestPool_SubmitExecutesTasks(t *testing.T) {
	pool, err := New(4, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pool.Release()

	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != 50 {
		t.Errorf("executed tasks = %d, want 50", got)
	}
}

func TestPool_PanicRecovered(t *testing.T) {
	logger := &captureLogger{}
	pool, err := New(2, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	if err := pool.Submit(func() {
		defer wg.Done()
		panic("delivery exploded")
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	wg.Wait()

	// The panic handler runs after the task returns; give it a moment.
	deadline := time.Now().Add(time.Second)
	for logger.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if logger.count() == 0 {
		t.Error("expected panic to be logged")
	}

	// Pool keeps working after a panic.
	var ran atomic.Bool
	wg.Add(1)
	if err := pool.Submit(func() {
		defer wg.Done()
		ran.Store(true)
	}); err != nil {
		t.Fatalf("Submit() after panic error = %v", err)
	}
	wg.Wait()

	if !ran.Load() {
		t.Error("pool did not execute task after panic")
	}
}

func TestPool_SubmitAfterRelease(t *testing.T) {
	pool, err := New(2, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pool.Release()

	if err := pool.Submit(func() {}); err == nil {
		t.Error("Submit() after Release expected error, got nil")
	}
}

func TestPool_Cap(t *testing.T) {
	pool, err := New(3, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pool.Release()

	if got := pool.Cap(); got != 3 {
		t.Errorf("Cap() = %d, want 3", got)
	}
}
