// Package events delivers lifecycle signals to an integrator one at a time.
//
// The Dispatcher owns a single worker. Signals are queued in arrival order
// and deduplicated by kind; a signal whose handler calls Defer is delivered
// again after an exponential backoff, so delivery is at least once.
package events

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/canonical/kafkacl/pkg/integrator"
	"github.com/canonical/kafkacl/pkg/logger"
	"go.uber.org/zap"
)

// Handler reacts to a delivered signal.
type Handler interface {
	Handle(ctx context.Context, ev integrator.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev integrator.Event) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, ev integrator.Event) error { return f(ctx, ev) }

// Config configures the redelivery backoff.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// RandomizeFactor spreads each delay by up to this fraction.
	RandomizeFactor float64
}

// DefaultConfig returns the default backoff.
func DefaultConfig() Config {
	return Config{
		InitialBackoff:  5 * time.Second,
		MaxBackoff:      5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// delay returns the backoff before redelivery number attempt (0-based).
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.RandomizeFactor > 0 {
		spread := d * c.RandomizeFactor
		d += spread*2*rand.Float64() - spread //nolint:gosec // jitter only
	}
	return time.Duration(d)
}

// envelope is the Event handed to the handler.
type envelope struct {
	item
	deferred bool
}

func (e *envelope) Signal() integrator.Signal { return e.signal }
func (e *envelope) Defer()                    { e.deferred = true }

// Dispatcher delivers signals to a Handler from a single worker.
type Dispatcher struct {
	handler Handler
	config  Config
	logger  *zap.Logger
	queue   *queue

	mu      sync.Mutex
	running bool
}

// NewDispatcher creates a dispatcher for handler
func NewDispatcher(handler Handler, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if log == nil {
		log = logger.Get()
	}
	return &Dispatcher{
		handler: handler,
		config:  cfg,
		logger:  log.With(zap.String("component", "dispatcher")),
		queue:   newQueue(),
	}
}

// Submit queues a signal. A pending redelivery of the same signal is
// replaced by this one.
func (d *Dispatcher) Submit(sig integrator.Signal) {
	d.queue.submit(sig)
}

// Len returns the number of signals waiting for the worker
func (d *Dispatcher) Len() int { return d.queue.len() }

// Pending returns the number of deferred signals waiting for their backoff.
func (d *Dispatcher) Pending() int { return d.queue.pending() }

// Run delivers signals until ctx is done. It returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.mu.Unlock()

	defer d.queue.shutdown()

	d.logger.Info("dispatcher started")
	for {
		it, ok := d.queue.get(ctx)
		if !ok {
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		}
		d.deliver(ctx, it)
		d.queue.done(it)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, it item) {
	log := d.logger.With(zap.String("signal", string(it.signal)), zap.Int("attempt", it.attempt))
	ev := &envelope{item: it}

	if err := d.handler.Handle(ctx, ev); err != nil {
		log.Error("signal handler failed", zap.Error(err))
	}

	if !ev.deferred || ctx.Err() != nil {
		return
	}
	delay := d.config.delay(it.attempt)
	log.Debug("signal deferred", zap.Duration("delay", delay))
	d.queue.addAfter(item{signal: it.signal, attempt: it.attempt + 1}, delay)
}
