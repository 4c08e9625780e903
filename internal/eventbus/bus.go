package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultQueueSize bounds each subscription's backlog.
const DefaultQueueSize = 1000

var ErrClosed = errors.New("subscription closed")

type callback func(Event)

// Bus fans published events out to named subscriptions.
type Bus struct {
	subs   sync.Map // name -> callback
	mu     sync.Mutex
	active map[string]*Subscription
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Bus {
	return &Bus{
		active: make(map[string]*Subscription),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// Publish hands ev to every registered subscription without blocking.
func (b *Bus) Publish(ev Event) {
	b.subs.Range(func(_, fn any) bool {
		fn.(callback)(ev)
		return true
	})
}

// Subscribe registers a named queue. An empty name gets a random one.
func (b *Bus) Subscribe(name string) (*Subscription, error) {
	return b.SubscribeSize(name, DefaultQueueSize)
}

func (b *Bus) SubscribeSize(name string, size int) (*Subscription, error) {
	if name == "" {
		name = uuid.NewString()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	sub := &Subscription{
		name:  name,
		queue: make(chan Event, size),
		stop:  make(chan struct{}),
		bus:   b,
	}
	if _, exists := b.subs.LoadOrStore(name, callback(sub.enqueue)); exists {
		return nil, fmt.Errorf("subscription %q already exists", name)
	}
	b.mu.Lock()
	b.active[name] = sub
	b.mu.Unlock()
	return sub, nil
}

// Close stops every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.active))
	for _, s := range b.active {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (b *Bus) remove(name string) {
	b.subs.Delete(name)
	b.mu.Lock()
	delete(b.active, name)
	b.mu.Unlock()
}

// Subscription is a bounded FIFO of events for one consumer.
type Subscription struct {
	name  string
	queue chan Event
	stop  chan struct{}
	once  sync.Once
	bus   *Bus
}

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) enqueue(ev Event) {
	select {
	case s.queue <- ev:
	default:
		s.bus.logger.Warn().Str("subscription", s.name).Msgf("queue full, dropping %T", ev)
	}
}

// Next blocks until an event arrives, ctx is done, or the subscription
// closes (ErrClosed).
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	// Events still queued at Close are discarded.
	select {
	case <-s.stop:
		return nil, ErrClosed
	default:
	}
	select {
	case ev := <-s.queue:
		if _, ok := ev.(closed); ok {
			return nil, ErrClosed
		}
		return ev, nil
	case <-s.stop:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unregisters the subscription and wakes its consumer.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.name)
		select {
		case s.queue <- closed{}:
		default:
		}
		close(s.stop)
	})
}
