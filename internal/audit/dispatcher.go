package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit return immediately when the buffer is full
	// instead of waiting for room or for the caller's context to end.
	DropIfFull bool
	// OnDrop is called once for every event that never reaches the sink.
	OnDrop func(Event)
}

type pending struct {
	ctx   context.Context
	event Event
}

// Dispatcher hands events to a sink on its own goroutine so request paths
// never wait on slow sinks. The sink sees the emitting request's context
// values but not its cancellation.
type Dispatcher struct {
	sink    Sink
	queue   chan pending
	block   bool
	onDrop  func(Event)
	dropped atomic.Uint64

	// mu guards closed; emitters hold it shared so Close never closes queue
	// under a concurrent send.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	drained   chan struct{}
}

// NewDispatcher returns nil when auditing is disabled. A nil *Dispatcher is
// valid and discards everything.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan pending, cfg.BufferSize),
		block:   !cfg.DropIfFull,
		onDrop:  cfg.OnDrop,
		drained: make(chan struct{}),
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.drained)
	for p := range d.queue {
		d.sink.Emit(p.ctx, p.event)
	}
}

// Emit queues event. Events emitted after Close, rejected by a full buffer,
// or abandoned when ctx ends while waiting for room are counted as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p := pending{ctx: context.WithoutCancel(ctx), event: event}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event)
		return
	}

	if !d.block {
		select {
		case d.queue <- p:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.queue <- p:
	case <-ctx.Done():
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(event)
	}
}

// Close stops accepting events and returns once every queued event has
// reached the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		<-d.drained
	})
}

// Dropped reports how many events never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
