package automation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Dispatcher runs fire-and-forget tasks on a bounded worker pool. Tasks are
// queued on a buffered channel; task errors and panics are logged and never
// reach the producer.
type Dispatcher struct {
	tasks   chan dispatched
	pool    *pool.Pool
	done    chan struct{}
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
}

type dispatched struct {
	ctx  context.Context
	run  func(context.Context) error
	name string
}

// DispatcherConfig sizes the dispatcher.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// TaskTimeout bounds a single task. Zero means no limit.
	TaskTimeout time.Duration
}

// NewDispatcher starts a dispatcher. Close must be called to drain it.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	d := &Dispatcher{
		tasks:   make(chan dispatched, cfg.QueueSize),
		pool:    pool.New().WithMaxGoroutines(cfg.Workers),
		done:    make(chan struct{}),
		timeout: cfg.TaskTimeout,
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for t := range d.tasks {
		d.pool.Go(func() { d.execute(t) })
	}
	d.pool.Wait()
}

// Dispatch queues task. The task runs on a context that keeps the caller's
// values but not its cancellation, since the request usually returns first.
// When the queue is full the task runs on the caller's goroutine instead of
// being dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, task func(context.Context) error) {
	t := dispatched{ctx: context.WithoutCancel(ctx), run: task, name: name}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		slog.Warn("Dispatcher closed, running task inline", "task", name)
		d.execute(t)
		return
	}
	select {
	case d.tasks <- t:
		d.mu.RUnlock()
	default:
		d.mu.RUnlock()
		slog.Warn("Dispatch queue full, running task inline", "task", name)
		d.execute(t)
	}
}

func (d *Dispatcher) execute(t dispatched) {
	ctx := t.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = t.run(ctx) })
	if r := pc.Recovered(); r != nil {
		slog.Error("Background task panicked", "task", t.name, "panic", r.Value, "stack", string(r.Stack))
		return
	}
	if err != nil {
		slog.Warn("Background task failed", "task", t.name, "error", err)
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	<-d.done
}
