package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// OtherEventType collects drops for event types not named in Config.EventTypes.
const OtherEventType = "other"

// Config controls dispatcher buffering.
type Config struct {
	BufferSize int
	// DropIfFull makes Emit discard instead of waiting when the queue is full.
	DropIfFull bool
	// EventTypes are the event names drops are tallied under.
	EventTypes []string
	// OnDrop is called synchronously for every discarded event.
	OnDrop func(Event)
	// OnSinkPanic is called from the worker when the sink panics on an event.
	OnSinkPanic func(Event, any)
}

// Dispatcher delivers events to a sink from one worker goroutine, in the
// order Emit accepted them.
type Dispatcher struct {
	sink        Sink
	queue       chan Event
	dropIfFull  bool
	onDrop      func(Event)
	onSinkPanic func(Event, any)

	// mu guards closed; Emit holds it shared while enqueueing so Close never
	// closes the queue under a sender.
	mu     sync.RWMutex
	closed bool
	worker sync.WaitGroup

	drops       map[string]*atomic.Uint64
	otherDrops  atomic.Uint64
	sinkPanics  atomic.Uint64
	delivered   atomic.Uint64
	typesInDrop []string
}

// NewDispatcher starts the worker. A nil sink discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:        sink,
		queue:       make(chan Event, cfg.BufferSize),
		dropIfFull:  cfg.DropIfFull,
		onDrop:      cfg.OnDrop,
		onSinkPanic: cfg.OnSinkPanic,
		drops:       make(map[string]*atomic.Uint64, len(cfg.EventTypes)),
	}
	for _, name := range cfg.EventTypes {
		if _, dup := d.drops[name]; dup || name == "" {
			continue
		}
		d.drops[name] = new(atomic.Uint64)
		d.typesInDrop = append(d.typesInDrop, name)
	}

	d.worker.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.worker.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.sinkPanics.Add(1)
			if d.onSinkPanic != nil {
				d.onSinkPanic(event, r)
			}
		}
	}()
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit queues event and reports whether it was accepted. With DropIfFull it
// never blocks; otherwise it waits for room or for ctx.
func (d *Dispatcher) Emit(ctx context.Context, event Event) bool {
	if d == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
			return true
		default:
			d.recordDrop(event)
			return false
		}
	}

	select {
	case d.queue <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) recordDrop(event Event) {
	if c, ok := d.drops[event.EventType]; ok {
		c.Add(1)
	} else {
		d.otherDrops.Add(1)
	}
	if d.onDrop != nil {
		d.onDrop(event)
	}
}

// Close stops accepting events, delivers everything already queued and waits
// for the worker. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.worker.Wait()
}

// Dropped is the total number of discarded events.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	total := d.otherDrops.Load()
	for _, c := range d.drops {
		total += c.Load()
	}
	return total
}

// DroppedByType returns discard counts keyed by event type. Every configured
// type is present, zero or not; OtherEventType appears only once non-zero.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return nil
	}
	out := make(map[string]uint64, len(d.typesInDrop)+1)
	for _, name := range d.typesInDrop {
		out[name] = d.drops[name].Load()
	}
	if n := d.otherDrops.Load(); n > 0 {
		out[OtherEventType] = n
	}
	return out
}

// Delivered counts events the sink returned from without panicking.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// SinkPanics counts events lost to a panicking sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.sinkPanics.Load()
}
