package workers

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// Logger is the minimal logging surface the pool needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
}

// Pool is the shared delivery worker pool.
//
// It decouples the broker client's network goroutine from subscriber
// processing: the dispatch callback enqueues one job per subscription
// and returns immediately, so a slow subscriber never stalls the
// connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Pool struct {
	pool   *ants.Pool
	logger Logger
}

// New creates a worker pool with the given number of goroutines.
//
// Panics inside submitted tasks are recovered and logged; they never
// take down a worker or the process.
//
// Parameters:
//   - size: Number of pool goroutines (must be >= 1)
//   - logger: Destination for panic reports (may be nil)
//
// Returns:
//   - *Pool: Ready pool
//   - error: If the underlying pool cannot be created
func New(size int, logger Logger) (*Pool, error) {
	p := &Pool{logger: logger}

	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
		if p.logger != nil {
			p.logger.Error("worker pool task panicked", "panic", v)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	p.pool = pool
	return p, nil
}

// Submit enqueues a task for execution on the pool.
//
// Blocks while all workers are busy, per the pool's default behaviour,
// so callers get natural backpressure rather than unbounded queueing.
//
// Returns:
//   - error: If the pool has been released
func (p *Pool) Submit(task func()) error {
	if err := p.pool.Submit(task); err != nil {
		return fmt.Errorf("submitting task: %w", err)
	}
	return nil
}

// Running returns the number of currently executing tasks.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap returns the pool's worker capacity.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release shuts the pool down. Submitted tasks that have not started
// are discarded; running tasks finish.
func (p *Pool) Release() {
	p.pool.Release()
}
