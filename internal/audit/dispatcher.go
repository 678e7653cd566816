package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering and event enrichment.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// SinkTimeout bounds one delivery to the sink. Zero leaves it unbounded.
	SinkTimeout time.Duration

	// Now stamps events emitted without a timestamp. Defaults to time.Now.
	Now func() time.Time

	// RequestID extracts the pipeline request id from the emitting context.
	// It is consulted only when the event carries none.
	RequestID func(context.Context) string

	// OnDrop observes every event discarded because the buffer was full.
	OnDrop func(Event)
}

// Dispatcher enriches client events and forwards them to a sink from a
// single goroutine, so request paths never wait on sink I/O.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	dropped   atomic.Uint64
	timedOut  atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			// drain what was accepted before Close
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	if d.cfg.SinkTimeout <= 0 {
		d.sink.Emit(context.Background(), event)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SinkTimeout)
	defer cancel()
	d.sink.Emit(ctx, event)
	if ctx.Err() != nil {
		d.timedOut.Add(1)
	}
}

func (d *Dispatcher) enrich(ctx context.Context, event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.cfg.Now()
	}
	if event.RequestID == "" && d.cfg.RequestID != nil {
		event.RequestID = d.cfg.RequestID(ctx)
	}
	return event
}

// Emit queues event. With DropIfFull a full buffer discards the event;
// otherwise Emit waits for room until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event = d.enrich(ctx, event)

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event)
	case <-d.done:
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(event)
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events that never reached the sink queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// TimedOut counts deliveries that outlived SinkTimeout.
func (d *Dispatcher) TimedOut() uint64 {
	if d == nil {
		return 0
	}
	return d.timedOut.Load()
}
