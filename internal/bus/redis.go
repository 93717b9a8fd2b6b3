package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis carries messages over Redis PUBLISH/SUBSCRIBE as JSON float arrays.
// Delivery is fire-and-forget; messages published while nobody listens are
// lost, matching the latest-value semantics of the torque stream.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, msg []float64) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := r.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, topic)

	// Wait for the subscription to be acknowledged so that messages published
	// right after Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSub{ps: ps}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for m := range ps.Channel() {
			var msg []float64
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.WithFields(logrus.Fields{"topic": topic}).Warnf("dropping malformed message: %v", err)
				continue
			}
			h(msg)
		}
	}()
	return sub, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ps *redis.PubSub
	wg sync.WaitGroup
}

func (s *redisSub) Close() error {
	err := s.ps.Close()
	s.wg.Wait()
	return err
}
