// Package bus carries float array messages between the sweep driver and the
// robot node: torque samples in, the swept parameter out.
package bus

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/autosim/internal/config"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "bus",
})

// Handler receives one message. The slice is owned by the handler.
type Handler func(msg []float64)

type Publisher interface {
	Publish(ctx context.Context, topic string, msg []float64) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
}

type Subscription interface {
	Close() error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Open builds the bus named by cfg.Kind.
func Open(ctx context.Context, cfg config.BusConfig) (Bus, error) {
	switch cfg.Kind {
	case "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown bus: %s", cfg.Kind)
	}
}
