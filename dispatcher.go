package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type task func()

// dispatcher serializes every storage mutation on one worker goroutine.
// Producers append to an unbounded FIFO and never wait for storage I/O.
// Tasks run strictly in submission order; nothing is reordered or coalesced.
type dispatcher struct {
	logger *slog.Logger
	stats  *selfMetrics

	mu     sync.Mutex
	queue  []task
	closed bool

	signal chan struct{} // capacity 1; wakes the worker
	done   chan struct{} // closed when the worker exits
}

func newDispatcher(logger *slog.Logger, stats *selfMetrics) *dispatcher {
	d := &dispatcher{
		logger: logger,
		stats:  stats,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// launch enqueues t. It returns false when the dispatcher is closed; the task
// is then dropped.
func (d *dispatcher) launch(t task) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.stats.taskDropped()
		return false
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()

	d.wake()
	return true
}

func (d *dispatcher) wake() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// sync enqueues t and waits until it has run. Because the queue is FIFO,
// every task launched before the call has run too. When ctx ends first the
// task still runs later; only the wait is abandoned.
func (d *dispatcher) sync(ctx context.Context, t task) error {
	finished := make(chan struct{})
	if !d.launch(func() {
		defer close(finished)
		t()
	}) {
		return ErrEngineClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pending returns the number of queued tasks.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// close stops accepting tasks, runs everything already queued and waits for
// the worker to exit.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.wake()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.mu.Unlock()
			<-d.signal
			d.mu.Lock()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, t := range batch {
			d.execute(t)
		}
	}
}

// execute runs one task; a panicking task is logged and the worker goes on.
func (d *dispatcher) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher task panicked", "panic", fmt.Sprint(r))
			d.stats.taskPanicked()
		}
	}()
	t()
	d.stats.taskProcessed()
}
