package activity

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

const defaultPoolReleaseTimeout = 5 * time.Second

// Executor is the delivery context an end callback runs on.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(task func())

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) {
	f(task)
}

// Goroutine runs every task on a fresh goroutine.
var Goroutine Executor = ExecutorFunc(func(task func()) {
	go task()
})

// Inline runs the task on the calling goroutine. The Registry never calls
// an executor while holding its lock, so this is safe, but the callback will
// run on whichever goroutine happened to end the activity.
var Inline Executor = ExecutorFunc(func(task func()) {
	task()
})

// SerialQueue runs tasks one at a time, in submission order, on a single
// goroutine. It never blocks the submitter.
type SerialQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewSerialQueue starts a queue. Call Close to stop it.
func NewSerialQueue() *SerialQueue {
	q := &SerialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Execute queues task. Tasks submitted after Close run on their own
// goroutine so that they are still delivered.
func (q *SerialQueue) Execute(task func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		go task()
		return
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.signal()
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

func (q *SerialQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *SerialQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// Pool dispatches tasks onto a bounded ants worker pool.
type Pool struct {
	pool   *ants.Pool
	logger *slog.Logger
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(size int, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "callback_pool")

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			logger.Error("end callback panicked", "panic", fmt.Sprint(v))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating callback pool: %w", err)
	}
	return &Pool{pool: pool, logger: logger}, nil
}

// Execute submits task to the pool. When the pool is saturated or closed
// the task runs on a new goroutine instead, so it is never dropped.
func (p *Pool) Execute(task func()) {
	if err := p.pool.Submit(task); err != nil {
		p.logger.Warn("callback pool unavailable, using goroutine", "error", err)
		go task()
	}
}

// Running returns the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Close releases the workers, waiting a bounded time for running tasks.
func (p *Pool) Close() error {
	return p.pool.ReleaseTimeout(defaultPoolReleaseTimeout)
}
