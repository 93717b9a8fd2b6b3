package bus

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("bus: closed")

// Memory is an in-process bus. Publish delivers synchronously to every
// subscriber of the topic on the caller's goroutine.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	bus   *Memory
	topic string
	h     Handler
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.topic], s)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{bus: m, topic: topic, h: h}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySub]struct{})
	}
	m.subs[topic][sub] = struct{}{}
	return sub, nil
}

func (m *Memory) Publish(ctx context.Context, topic string, msg []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(m.subs[topic]))
	for sub := range m.subs[topic] {
		handlers = append(handlers, sub.h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(append([]float64(nil), msg...))
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[*memorySub]struct{})
	return nil
}
