package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/redisx"
)

// RedisChannel carries messages between processes over redis pub/sub, one
// channel per order.
type RedisChannel struct {
	RDB redis.UniversalClient
	Log *zap.Logger
}

func (c *RedisChannel) Publish(ctx context.Context, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.RDB.Publish(ctx, fmt.Sprintf(redisx.KeyOrderChannel, m.OrderID), b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe returns once redis has confirmed the subscription, so a message
// published after it returns is not missed.
func (c *RedisChannel) Subscribe(ctx context.Context, orderID string) (Subscription, error) {
	ps := c.RDB.Subscribe(ctx, fmt.Sprintf(redisx.KeyOrderChannel, orderID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &redisSub{ps: ps, out: make(chan Message, subscriptionBuffer), done: make(chan struct{})}
	go s.pump(c.logger())
	return s, nil
}

func (c *RedisChannel) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSub) pump(log *zap.Logger) {
	defer close(s.out)
	for rm := range s.ps.Channel() {
		var m Message
		if err := json.Unmarshal([]byte(rm.Payload), &m); err != nil {
			log.Warn("drop malformed lifecycle message", zap.String("channel", rm.Channel), zap.Error(err))
			continue
		}
		select {
		case s.out <- m:
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) C() <-chan Message { return s.out }

func (s *redisSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
