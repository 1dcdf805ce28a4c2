// Package eventbus fans typed events out to isolated subscribers. Each
// subscriber owns a bounded queue and a goroutine, so a slow or panicking
// handler never affects the publisher or other subscribers.
package eventbus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
)

const DefaultQueueSize = 256

var (
	ErrQueueFull = errors.New("listener queue full")
	ErrClosed    = errors.New("event bus closed")
)

// DrainTimeout bounds how long Close waits for subscribers to empty their queues.
var DrainTimeout = 2 * time.Second

type Handler[T any] func(T)

// ListenerID identifies a subscription. Zero is never a valid id.
type ListenerID uint64

type Bus[T any] struct {
	name      string
	queueSize int
	log       *slog.Logger

	mu     sync.RWMutex
	subs   map[ListenerID]*subscriber[T]
	closed bool
	nextID atomic.Uint64
}

func New[T any](name string, queueSize int) *Bus[T] {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus[T]{
		name:      name,
		queueSize: queueSize,
		log:       logger.Component("eventbus").With("bus", name),
		subs:      make(map[ListenerID]*subscriber[T]),
	}
}

// Subscribe registers h and returns its id. It returns 0 once the bus is closed.
func (b *Bus[T]) Subscribe(h Handler[T]) ListenerID {
	if h == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	id := ListenerID(b.nextID.Add(1))
	s := &subscriber[T]{
		id:      id,
		bus:     b.name,
		handler: h,
		queue:   make(chan T, b.queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     b.log,
	}
	b.subs[id] = s
	go s.run()
	return id
}

// Unsubscribe removes the subscriber. Events still queued for it are discarded.
func (b *Bus[T]) Unsubscribe(id ListenerID) bool {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	close(s.stop)
	return true
}

// Publish hands ev to every subscriber without blocking. A full queue drops
// the event for that subscriber only.
func (b *Bus[T]) Publish(ev T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	var dropped int
	for _, s := range b.subs {
		select {
		case s.queue <- ev:
		default:
			dropped++
			metrics.ListenerDrops.WithLabelValues(b.name).Inc()
		}
	}
	if dropped > 0 {
		b.log.Warn("listener queue full, event dropped", "listeners", dropped)
		return fmt.Errorf("%w: %d listener(s)", ErrQueueFull, dropped)
	}
	return nil
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops accepting events, lets subscribers drain what is already
// queued for up to DrainTimeout, and clears all subscriptions. Idempotent.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber[T], 0, len(b.subs))
	for id, s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.drain = true
		close(s.stop)
	}
	deadline := time.After(DrainTimeout)
	for _, s := range subs {
		select {
		case <-s.done:
		case <-deadline:
			b.log.Warn("listeners did not drain before timeout")
			return
		}
	}
}

type subscriber[T any] struct {
	id      ListenerID
	bus     string
	handler Handler[T]
	queue   chan T
	stop    chan struct{}
	done    chan struct{}
	drain   bool
	log     *slog.Logger
}

func (s *subscriber[T]) run() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.queue:
			s.deliver(ev)
		case <-s.stop:
			if !s.drain {
				return
			}
			for {
				select {
				case ev := <-s.queue:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *subscriber[T]) deliver(ev T) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerPanics.WithLabelValues(s.bus).Inc()
			s.log.Error("listener panic recovered", "listener", uint64(s.id), "panic", fmt.Sprint(r))
		}
	}()
	s.handler(ev)
}
