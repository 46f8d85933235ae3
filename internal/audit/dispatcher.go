package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the request when the
	// buffer is full.
	DropIfFull bool
}

// envelope pairs an event with the logger of the request that raised it, so
// sink failures are logged with the request id.
type envelope struct {
	event  Event
	logger *zerolog.Logger
}

// Dispatcher delivers session events (logout, eviction, expiry, CSRF
// rejection) to a [Sink] off the request path, in emit order. Login outcomes
// do not pass through it: the engine writes those synchronously.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	idle   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when
// cfg.Enabled is false; every method of a nil dispatcher is a no-op.
func NewDispatcher(cfg Config, sink Sink, logger zerolog.Logger) *Dispatcher {
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
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		now:    time.Now,
		queue:  make(chan envelope, cfg.BufferSize),
		idle:   make(chan struct{}),
	}
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer close(d.idle)

	for env := range d.queue {
		d.deliver(env)
	}
}

func (d *Dispatcher) deliver(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			env.logger.Error().
				Err(fmt.Errorf("panic: %v", r)).
				Str("event_type", env.event.EventType).
				Msg("audit sink panicked")
		}
	}()

	d.sink.Emit(env.logger.WithContext(context.Background()), env.event)
	d.delivered.Add(1)
}

// Emit stamps event and queues it. With DropIfFull a full buffer drops the
// event; otherwise Emit waits for room until ctx is done. Events emitted
// after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event.Normalize(d.now())

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &d.logger
	}
	env := envelope{event: event, logger: logger}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- env:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.queue <- env:
	case <-ctx.Done():
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
		d.logger.Warn().
			Uint64("dropped", n).
			Str("event_type", event.EventType).
			Msg("audit buffer full, dropping events")
	}
}

// Close stops accepting events and returns once every queued event was
// handed to the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	<-d.idle
}

// Delivered returns the number of events handed to the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Dropped returns the number of events lost to a full buffer or a cancelled
// emitter.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
