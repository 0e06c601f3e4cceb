package ufx

import (
	"context"
	"sync"

	"ufxgate/internal/gateway"
	"ufxgate/internal/logger"
)

// dispatcher decouples the native callback threads from the host. Producers
// append under a mutex; a single drain goroutine publishes in arrival order,
// so the host never sees reordered or duplicated events. The queue is
// unbounded: a slow consumer delays delivery but never loses events.
type dispatcher struct {
	mu    sync.Mutex
	queue []gateway.Event
	wake  chan struct{}
	pub   gateway.EventPublisher
}

func newDispatcher(pub gateway.EventPublisher) *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		pub:  pub,
	}
}

// enqueue appends an event. Safe from any goroutine; never blocks.
func (d *dispatcher) enqueue(evt gateway.Event) {
	d.mu.Lock()
	d.queue = append(d.queue, evt)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered so no accepted event is dropped on shutdown.
func (d *dispatcher) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return ctx.Err()
		case <-d.wake:
			d.flush()
		}
	}
}

func (d *dispatcher) flush() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, evt := range batch {
			d.publish(evt)
		}
	}
}

func (d *dispatcher) publish(evt gateway.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("event publisher panicked on %s event: %v", evt.Type, r)
		}
	}()
	d.pub.Publish(evt)
}
