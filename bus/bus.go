// Package bus provides the in-process implementation of core.Bus: a typed
// multi-producer / multi-consumer publish/subscribe channel with explicit
// construction and teardown. The bus is always injected, never looked up
// through a package-level singleton, so every test can own a private
// instance.
//
// Delivery is best-effort within the process: a subscriber that cannot keep
// up has events dropped rather than blocking publishers. Cross-process
// delivery is deliberately unsupported; correlation across horizontally
// scaled instances would need a durable transport and remains an open design
// question.
package bus

import (
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Options configures a Bus instance.
type Options struct {
	// BufferSize sets the channel buffer for each subscription. Larger
	// buffers reduce drops under bursts but increase memory usage.
	BufferSize int
	// Logger records dropped deliveries and lifecycle transitions.
	Logger logging.Logger
}

type subscriber struct {
	id     int
	ch     chan core.Event
	topics map[core.Topic]struct{}
	once   sync.Once
}

// Bus is the process-wide event bus. The zero value is not usable; construct
// with New. All methods are safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	closed     bool
	nextID     int
	subs       map[int]*subscriber
	byTopic    map[core.Topic]map[int]*subscriber
	bufferSize int
	logger     logging.Logger
}

// New constructs a Bus with optional overrides.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		BufferSize: 64,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bus{
		subs:       make(map[int]*subscriber),
		byTopic:    make(map[core.Topic]map[int]*subscriber),
		bufferSize: opts.BufferSize,
		logger:     logging.OrNoOp(opts.Logger),
	}
}

// Publish delivers ev to every current subscriber of ev.Topic. A subscriber
// whose buffer is full misses the event; publishers never block on slow
// consumers. Publishing after Close is a no-op.
func (b *Bus) Publish(ev core.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.byTopic[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("bus.event.dropped",
				"topic", string(ev.Topic),
				"event_id", ev.ID,
				"correlation_id", ev.CorrelationID,
			)
		}
	}
}

// Subscribe registers a subscription covering the given topics. The returned
// cancel function is idempotent; it removes the subscription and closes the
// channel. Subscribing to a closed bus returns an already-closed channel.
func (b *Bus) Subscribe(topics ...core.Topic) (<-chan core.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan core.Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: ch, topics: make(map[core.Topic]struct{}, len(topics))}
	b.subs[sub.id] = sub
	for _, t := range topics {
		sub.topics[t] = struct{}{}
		if b.byTopic[t] == nil {
			b.byTopic[t] = make(map[int]*subscriber)
		}
		b.byTopic[t][sub.id] = sub
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(sub)
	}
	return ch, cancel
}

// removeLocked detaches the subscriber and closes its channel exactly once.
// Caller must hold the write lock.
func (b *Bus) removeLocked(sub *subscriber) {
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	for t := range sub.topics {
		delete(b.byTopic[t], sub.id)
		if len(b.byTopic[t]) == 0 {
			delete(b.byTopic, t)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Close tears the bus down: all subscriber channels are closed and further
// publishes become no-ops. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = make(map[int]*subscriber)
	b.byTopic = make(map[core.Topic]map[int]*subscriber)
}
