package stream

import (
	"context"
	"sync"
)

// Stream fan-outs values to all active subscribers. It replaces the reactive
// sinks of earlier connector generations with plain channels: one ordered
// stream per publisher, any number of consumers.
type Stream[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
	buf  int
}

// New initialises an empty stream. Subscriber channels are buffered with
// bufSize entries; values beyond that are dropped for the slow subscriber
// rather than blocking the publisher.
func New[T any](bufSize int) *Stream[T] {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Stream[T]{subs: make(map[int]chan T), buf: bufSize}
}

// Subscribe registers a subscriber and returns a channel which will receive
// published values. The channel is closed when the provided context ends.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, s.buf)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the value to all subscribers.
func (s *Stream[T]) Publish(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Stream[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
