// Package messaging implements the event bus used to fan domain events out to
// handlers, in-process or across instances through Redis Pub/Sub.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/pkg/logger"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers in the background instead of on the
	// publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize bounds how many async handlers run at once.
	WorkerPoolSize int

	Logger *logger.Logger
}

// DefaultInMemoryEventBusConfig runs handlers asynchronously, ten at a time.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// BusStats counts what a bus has done since it was created.
type BusStats struct {
	Published int64
	Delivered int64
	Failed    int64
}

// InMemoryEventBus delivers events to handlers registered in this process.
// Handler errors and panics are logged and counted; they never reach the
// publisher.
type InMemoryEventBus struct {
	async bool
	slots *semaphore.Weighted
	log   *logger.Logger

	mu     sync.RWMutex
	routes map[shared.EventType][]shared.EventHandler
	global []shared.EventHandler
	closed bool

	inflight sync.WaitGroup

	published, delivered, failed atomic.Int64
}

// NewInMemoryEventBus creates a bus ready for subscriptions.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	return &InMemoryEventBus{
		async:  config.AsyncMode,
		slots:  semaphore.NewWeighted(int64(config.WorkerPoolSize)),
		log:    config.Logger.With(logger.Component("eventbus")),
		routes: make(map[shared.EventType][]shared.EventHandler),
	}
}

// Subscribe routes events of one type to handler.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(handler, func() {
		b.routes[eventType] = append(b.routes[eventType], handler)
		b.log.Debug("subscribed handler", logger.String("event_type", string(eventType)))
	})
}

// SubscribeAll routes every event to handler.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(handler, func() { b.global = append(b.global, handler) })
}

func (b *InMemoryEventBus) register(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish hands event to every matching handler, typed routes first.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.routes[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.global))
	targets = append(append(targets, typed...), b.global...)
	// Counted under the read lock so Close cannot start waiting first.
	if b.async {
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, h := range targets {
		if b.async {
			go b.deliverAsync(event, h)
		} else {
			b.deliver(event, h)
		}
	}
	return nil
}

func (b *InMemoryEventBus) deliverAsync(event shared.Event, h shared.EventHandler) {
	defer b.inflight.Done()
	// Background never expires, so Acquire only returns once a slot is free.
	_ = b.slots.Acquire(context.Background(), 1)
	defer b.slots.Release(1)
	b.deliver(event, h)
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	stack, err := runHandler(event, h)
	if err == nil {
		b.delivered.Add(1)
		return
	}
	b.failed.Add(1)
	if stack != nil {
		b.log.Error("event handler panicked", logger.String("event_type", string(event.EventType())), logger.Err(err), logger.String("stack", string(stack)))
		return
	}
	b.log.Error("event handler failed", logger.String("event_type", string(event.EventType())), logger.Err(err))
}

// runHandler returns the stack alongside the error when h panicked.
func runHandler(event shared.Event, h shared.EventHandler) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack, err = debug.Stack(), fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return nil, h(event)
}

// Stats returns the bus counters.
func (b *InMemoryEventBus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// Close rejects further use and waits until every accepted delivery has run.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()

	s := b.Stats()
	b.log.Info("event bus closed",
		logger.Int64("published", s.Published),
		logger.Int64("delivered", s.Delivered),
		logger.Int64("failed", s.Failed),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultEventChannel is the Pub/Sub channel used when none is configured.
const DefaultEventChannel = "ortokompanion:events"

// RedisClient is the slice of Pub/Sub the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received from a channel.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures a RedisEventBus.
type RedisEventBusConfig struct {
	Client      RedisClient
	ChannelName string

	// InstanceID tags outgoing messages so the bus can skip its own echo.
	// A random one is used when empty.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *logger.Logger
}

// RedisEventBus mirrors every published event onto a Redis channel and feeds
// events published by other instances to its local handlers. The API and the
// worker share invalidations this way.
type RedisEventBus struct {
	*InMemoryEventBus

	client   RedisClient
	channel  string
	instance string
	log      *logger.Logger

	ctx      context.Context
	stop     context.CancelFunc
	listener sync.WaitGroup
	closing  atomic.Bool
}

// NewRedisEventBus subscribes to the channel and starts listening.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultEventChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	inbox, err := config.Client.Subscribe(ctx, config.ChannelName)
	if err != nil {
		stop()
		return nil, fmt.Errorf("start subscriber: %w", err)
	}

	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(config.LocalBusConfig),
		client:           config.Client,
		channel:          config.ChannelName,
		instance:         config.InstanceID,
		log:              config.Logger.With(logger.Component("redis_eventbus"), logger.String("instance", config.InstanceID)),
		ctx:              ctx,
		stop:             stop,
	}
	b.listener.Add(1)
	go b.listen(inbox)
	return b, nil
}

// Publish sends event to Redis, then to local handlers. Local delivery
// happens even when Redis is unreachable.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.closing.Load() {
		return ErrEventBusClosed
	}

	payload, err := encodeEnvelope(b.instance, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, payload); err != nil {
		b.log.Error("failed to publish to redis", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
	return b.InMemoryEventBus.Publish(event)
}

func (b *RedisEventBus) listen(inbox <-chan RedisMessage) {
	defer b.listener.Done()
	for {
		var msg RedisMessage
		var ok bool
		select {
		case <-b.ctx.Done():
			return
		case msg, ok = <-inbox:
		}
		if !ok {
			return
		}
		if msg.Err != nil {
			b.log.Error("redis subscription error", logger.Err(msg.Err))
			continue
		}

		event, from, err := decodeEnvelope(msg.Payload)
		switch {
		case err != nil:
			b.log.Error("dropping malformed event", logger.Err(err))
		case from == b.instance:
		default:
			if err := b.InMemoryEventBus.Publish(event); err != nil {
				b.log.Error("failed to deliver remote event", logger.Err(err))
			}
		}
	}
}

// Close stops listening, drains local handlers and closes the client.
func (b *RedisEventBus) Close() error {
	if !b.closing.CompareAndSwap(false, true) {
		return nil
	}
	b.stop()
	b.listener.Wait()

	if err := b.InMemoryEventBus.Close(); err != nil {
		b.log.Error("failed to close local bus", logger.Err(err))
	}
	return b.client.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type eventEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

func encodeEnvelope(instance string, event shared.Event) (string, error) {
	data, err := json.Marshal(eventEnvelope{
		InstanceID:  instance,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal %s event: %w", event.EventType(), err)
	}
	return string(data), nil
}

func decodeEnvelope(payload string) (*RemoteEvent, string, error) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, "", fmt.Errorf("unmarshal event: %w", err)
	}
	if env.EventType == "" {
		return nil, "", errors.New("event type missing")
	}
	return &RemoteEvent{
		eventType:   env.EventType,
		aggregateID: env.AggregateID,
		occurredAt:  env.OccurredAt,
		payload:     env.Payload,
	}, env.InstanceID, nil
}

// RemoteEvent is an event published by another instance. Only the Event
// interface survives the trip, so handlers must not type-assert concrete
// events.
type RemoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

func (e *RemoteEvent) EventType() shared.EventType     { return e.eventType }
func (e *RemoteEvent) AggregateID() string             { return e.aggregateID }
func (e *RemoteEvent) OccurredAt() time.Time           { return e.occurredAt }
func (e *RemoteEvent) Payload() map[string]interface{} { return e.payload }
