package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering behavior.
// With DropIfFull unset, Emit blocks until the event is queued or ctx ends.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// DeliveryTimeout bounds each sink call. Zero means no bound.
	DeliveryTimeout time.Duration

	// Critical marks events that are never dropped. When the queue is full
	// they are delivered on the caller's goroutine instead, so the sink must
	// tolerate concurrent Emit calls.
	Critical func(Event) bool

	Logger *zap.Logger
}

// Dispatcher relays audit events to a sink from a single goroutine so that
// request handlers do not wait on the audit store. Lockout and bot events
// can be marked Critical so a burst of traffic cannot push them out.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger

	queue     chan Event
	stop      chan struct{}
	finished  sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool

	dropped atomic.Uint64
	inline  atomic.Uint64
	panics  atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher accepts and discards events.
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
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
	}
	d.finished.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.finished.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event only.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("audit sink panicked",
				zap.String("action", event.Action),
				zap.Any("panic", r),
			)
		}
	}()

	ctx := context.Background()
	if d.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, event)
}

func (d *Dispatcher) critical(event Event) bool {
	return d.cfg.Critical != nil && d.cfg.Critical(event)
}

// Emit queues event for delivery. Events emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case d.queue <- event:
		return
	default:
	}

	// Queue is full.
	if d.critical(event) {
		d.inline.Add(1)
		d.deliver(event)
		return
	}
	if d.cfg.DropIfFull {
		if n := d.dropped.Add(1); n == 1 || n%1000 == 0 {
			d.logger.Warn("audit queue full, dropping events",
				zap.String("action", event.Action),
				zap.Uint64("dropped_total", n),
			)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops accepting events and blocks until the queue is drained into the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.finished.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DeliveredInline is the number of critical events delivered on the caller's
// goroutine because the queue was full.
func (d *Dispatcher) DeliveredInline() uint64 {
	if d == nil {
		return 0
	}
	return d.inline.Load()
}

// SinkPanics is the number of events lost to a panicking sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.panics.Load()
}
