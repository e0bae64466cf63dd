package lifecycle

import (
	"context"
	"sync"
)

const subscriptionBuffer = 16

// MemoryChannel connects contexts inside one process.
type MemoryChannel struct {
	mu   sync.Mutex
	subs map[string]map[*memorySub]struct{}
	drop func(Message) bool
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{subs: make(map[string]map[*memorySub]struct{})}
}

// SetDrop installs a filter consulted for every published message; a message
// it returns true for is discarded. It may be called while subscribers are
// active. The filter must not publish on c.
func (c *MemoryChannel) SetDrop(fn func(Message) bool) {
	c.mu.Lock()
	c.drop = fn
	c.mu.Unlock()
}

func (c *MemoryChannel) Publish(_ context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drop != nil && c.drop(m) {
		return nil
	}
	for s := range c.subs[m.OrderID] {
		select {
		case s.ch <- m:
		default: // slow subscriber loses the message
		}
	}
	return nil
}

func (c *MemoryChannel) Subscribe(_ context.Context, orderID string) (Subscription, error) {
	s := &memorySub{parent: c, orderID: orderID, ch: make(chan Message, subscriptionBuffer)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[orderID] == nil {
		c.subs[orderID] = make(map[*memorySub]struct{})
	}
	c.subs[orderID][s] = struct{}{}
	return s, nil
}

type memorySub struct {
	parent  *MemoryChannel
	orderID string
	ch      chan Message
	once    sync.Once
}

func (s *memorySub) C() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.parent.mu.Lock()
		defer s.parent.mu.Unlock()
		delete(s.parent.subs[s.orderID], s)
		if len(s.parent.subs[s.orderID]) == 0 {
			delete(s.parent.subs, s.orderID)
		}
		close(s.ch)
	})
	return nil
}
