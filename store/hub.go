package store

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

type subscriber[T any] struct {
	ch chan T
}

// hub fans values out to subscribers by key. A full subscriber drops its
// oldest pending value so publishers never block; every consumer of the
// store treats deliveries as "re-read the latest state" hints.
type hub[T any] struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber[T]]struct{}
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[string]map[*subscriber[T]]struct{})}
}

func (h *hub[T]) subscribe(ctx context.Context, key string, initial ...T) <-chan T {
	s := &subscriber[T]{ch: make(chan T, subscriberBuffer)}
	for _, v := range initial {
		s.ch <- v
	}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscriber[T]]struct{})
	}
	h.subs[key][s] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[key], s)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
		close(s.ch)
		h.mu.Unlock()
	}()
	return s.ch
}

func (h *hub[T]) publish(key string, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[key] {
		offer(s.ch, v)
	}
}

func (h *hub[T]) count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
