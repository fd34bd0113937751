package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
	"github.com/himo777777/Ortokompanion-sub000/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// Routes bus events to named handlers with a timeout, retries, middleware and
// a dead letter queue for events that never succeed.
// ══════════════════════════════════════════════════════════════════════════════

// Handler processes one event. ctx carries the registration's timeout.
type Handler func(ctx context.Context, event shared.Event) error

// Middleware wraps handler execution.
type Middleware func(name string, next Handler) Handler

// HandlerRegistration contains handler metadata.
type HandlerRegistration struct {
	Name    string
	Handler Handler

	// MaxAttempts includes the first run; zero uses the dispatcher default.
	MaxAttempts int
	Timeout     time.Duration
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	EventBus shared.EventBus

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration

	// DeadLetterQueueSize bounds the DLQ; zero disables it.
	DeadLetterQueueSize int

	Logger *logger.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig(bus shared.EventBus) DispatcherConfig {
	return DispatcherConfig{
		EventBus:            bus,
		MaxAttempts:         3,
		InitialBackoff:      100 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		Timeout:             30 * time.Second,
		DeadLetterQueueSize: 1000,
	}
}

// Dispatcher owns the handler registrations for one bus.
type Dispatcher struct {
	config      DispatcherConfig
	handlers    map[shared.EventType][]HandlerRegistration
	middlewares []Middleware
	deadLetterQ *DeadLetterQueue
	log         *logger.Logger
	mu          sync.RWMutex
	started     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		config:   config,
		handlers: make(map[shared.EventType][]HandlerRegistration),
		log:      config.Logger.With(logger.Component("dispatcher")),
		ctx:      ctx,
		cancel:   cancel,
	}
	if config.DeadLetterQueueSize > 0 {
		d.deadLetterQ = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// RegisterHandler registers a handler for an event type. Registration is
// closed once Start has run.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Handler == nil {
		return errors.New("handler cannot be nil")
	}
	if reg.Name == "" {
		return errors.New("handler name is required")
	}
	if reg.MaxAttempts <= 0 {
		reg.MaxAttempts = d.config.MaxAttempts
	}
	if reg.Timeout <= 0 {
		reg.Timeout = d.config.Timeout
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	return nil
}

// Register registers handler under name with default retry settings.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler Handler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{Name: name, Handler: handler})
}

// Use adds middleware. The first added runs outermost.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// RecoveryMiddleware turns handler panics into errors.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(name string, next Handler) Handler {
		return func(ctx context.Context, event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						logger.String("handler", name),
						logger.String("event_type", string(event.EventType())),
						logger.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, event)
		}
	}
}

// LoggingMiddleware logs every handler run.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(name string, next Handler) Handler {
		return func(ctx context.Context, event shared.Event) error {
			start := time.Now()
			err := next(ctx, event)
			fields := []logger.Field{
				logger.String("handler", name),
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Latency(time.Since(start)),
			}
			if err != nil {
				log.Warn("handler failed", append(fields, logger.Err(err))...)
			} else {
				log.Debug("handler completed", fields...)
			}
			return err
		}
	}
}

// Start subscribes the registered event types on the bus.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	types := make([]shared.EventType, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	d.mu.Unlock()

	for _, t := range types {
		if err := d.config.EventBus.Subscribe(t, d.Dispatch); err != nil {
			return fmt.Errorf("dispatcher: failed to subscribe %s: %w", t, err)
		}
	}
	d.log.Info("dispatcher started", logger.Int("event_types", len(types)))
	return nil
}

// Dispatch runs every handler registered for the event's type in order.
// A failing handler does not stop the ones after it.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType()]
	middlewares := d.middlewares
	d.mu.RUnlock()

	var errs []error
	for _, reg := range handlers {
		if err := d.execute(event, reg, middlewares); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", reg.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) execute(event shared.Event, reg HandlerRegistration, middlewares []Middleware) error {
	handler := reg.Handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](reg.Name, handler)
	}

	attempts := 0
	retrier := retry.New(
		retry.WithMaxAttempts(reg.MaxAttempts),
		retry.WithInitialDelay(d.config.InitialBackoff),
		retry.WithMaxDelay(d.config.MaxBackoff),
		retry.WithRetryIf(func(err error) bool { return !shared.IsValidation(err) && !shared.IsNotFound(err) }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			d.log.Warn("handler failed, retrying",
				logger.String("handler", reg.Name),
				logger.String("event_type", string(event.EventType())),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
	err := retrier.Do(d.ctx, func(ctx context.Context) error {
		attempts++
		ctx, cancel := context.WithTimeout(ctx, reg.Timeout)
		defer cancel()
		return handler(ctx, event)
	})
	if err == nil {
		return nil
	}

	if d.deadLetterQ != nil {
		d.deadLetterQ.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.Name,
			Error:       err.Error(),
			Attempts:    attempts,
			FailedAt:    time.Now(),
		})
	}
	d.log.Error("handler gave up",
		logger.String("handler", reg.Name),
		logger.String("event_type", string(event.EventType())),
		logger.Int("attempts", attempts),
		logger.Err(err),
	)
	return err
}

// Stop cancels pending retries.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// DeadLetterQueue returns the DLQ, nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event whose handler exhausted its attempts.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       string
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue keeps the most recent failures, dropping the oldest.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of the queue, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetterEntry(nil), q.entries...)
}

// Size returns the number of entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
