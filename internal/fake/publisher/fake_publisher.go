package publisher

import (
	"context"
	"sync"
)

type Message struct {
	Topic string
	Msg   []float64
}

// FakePublisher records every publish. When Err is set it is returned and
// nothing is recorded.
type FakePublisher struct {
	mu       sync.Mutex
	Err      error
	messages []Message
}

func New() *FakePublisher {
	return &FakePublisher{}
}

func (p *FakePublisher) Publish(ctx context.Context, topic string, msg []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, Message{Topic: topic, Msg: append([]float64(nil), msg...)})
	return nil
}

func (p *FakePublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Values returns the first element of every message sent to topic.
func (p *FakePublisher) Values(topic string) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []float64
	for _, m := range p.messages {
		if m.Topic == topic && len(m.Msg) > 0 {
			out = append(out, m.Msg[0])
		}
	}
	return out
}
