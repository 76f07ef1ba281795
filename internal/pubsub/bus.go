// Package pubsub is the in-process notification bus used to push change
// events to live GraphQL subscriptions.
package pubsub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TopicBookAdded carries every successfully created book.
const TopicBookAdded = "BOOK_ADDED"

// Bus fans published payloads out to every subscription registered on a
// topic. One Bus is created at server start and shared by all requests.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	closed bool
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger, topics: make(map[string]map[string]*Subscription)}
}

// Publish hands payload to every current subscriber of topic. It only
// enqueues and never waits for a subscriber to read.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	subs := b.topics[topic]
	for _, s := range subs {
		s.enqueue(payload)
	}
	b.logger.Debug("published", zap.String("topic", topic), zap.Int("subscribers", len(subs)))
}

// Subscribe registers a new subscription on topic. The caller must Close it
// when done; nothing unregisters it implicitly.
func (b *Bus) Subscribe(topic string) *Subscription {
	s := newSubscription(b, topic)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.shutdown()
		return s
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*Subscription)
	}
	b.topics[topic][s.id] = s
	b.logger.Debug("subscribed", zap.String("topic", topic), zap.String("subscription", s.id))
	return s
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription. Later publishes are dropped and later
// subscriptions start closed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]map[string]*Subscription)
	b.mu.Unlock()

	for _, subs := range topics {
		for _, s := range subs {
			s.shutdown()
		}
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
	b.logger.Debug("unsubscribed", zap.String("topic", s.topic), zap.String("subscription", s.id))
}

// Subscription is one client's view of a topic. Payloads are queued without
// bound and delivered on C in publish order.
type Subscription struct {
	id    string
	topic string
	bus   *Bus
	out   chan any

	mu      sync.Mutex
	queue   []any
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	once    sync.Once
}

func newSubscription(bus *Bus, topic string) *Subscription {
	s := &Subscription{
		id:    uuid.NewString(),
		topic: topic,
		bus:   bus,
		out:   make(chan any),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go s.pump()
	return s
}

// C delivers payloads. It is closed once the subscription ends.
func (s *Subscription) C() <-chan any { return s.out }

// Close unregisters the subscription and releases its queue.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.shutdown()
}

func (s *Subscription) enqueue(payload any) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
