package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 300 * time.Millisecond}

// Terminal is the context that builds carts and turns them into orders.
type Terminal struct {
	Orders  OrderCreator
	Channel Channel
	Log     *zap.Logger
	Retry   RetryPolicy
	// NewKey generates the idempotency key for a checkout attempt.
	NewKey func() string
}

// Checkout persists the cart under a fresh idempotency key. Transient
// failures are retried with the same key, so a request that reached the
// server before the connection dropped cannot create a second order.
func (t *Terminal) Checkout(ctx context.Context, req OrderRequest) (*Session, error) {
	log := t.logger()
	newKey := t.NewKey
	if newKey == nil {
		newKey = uuid.NewString
	}
	retry := t.Retry
	if retry.Attempts <= 0 {
		retry = DefaultRetry
	}
	req.IdempotencyKey = newKey()

	tracker := NewTracker()
	attempt := 0
	create := func() (orders.CreateResult, error) {
		attempt++
		res, err := t.Orders.CreateOrder(ctx, req)
		if err != nil && !errors.Is(err, orders.ErrTransient) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("create order failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retry.Backoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retry.Attempts-1)), ctx)

	res, err := backoff.RetryNotifyWithData(create, policy, notify)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if err := tracker.Advance(StateCreated); err != nil {
		return nil, err
	}

	sub, err := t.Channel.Subscribe(ctx, res.OrderID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := t.Channel.Publish(ctx, newMessage(MsgCreated, res.OrderID, SourceTerminal)); err != nil {
		log.Warn("announce created", zap.String("order_id", res.OrderID), zap.Error(err))
	}

	log.Info("order created",
		zap.String("order_id", res.OrderID),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Bool("already_existed", res.AlreadyExisted))

	return &Session{
		OrderID:        res.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		tracker:        tracker,
		channel:        t.Channel,
		sub:            sub,
		log:            log.With(zap.String("order_id", res.OrderID)),
		completed:      make(chan struct{}),
	}, nil
}

func (t *Terminal) logger() *zap.Logger {
	if t.Log == nil {
		return zap.NewNop()
	}
	return t.Log
}

// Session is the terminal's view of one created order.
type Session struct {
	OrderID        string
	IdempotencyKey string

	tracker   *Tracker
	channel   Channel
	sub       Subscription
	log       *zap.Logger
	completed chan struct{}
	once      sync.Once
}

func (s *Session) State() State { return s.tracker.State() }

// OpenPayment records that the payment window is showing this order.
func (s *Session) OpenPayment() error {
	return s.tracker.Advance(StateAwaitingPayment)
}

// Completed is closed once any context reports the order finalized.
func (s *Session) Completed() <-chan struct{} { return s.completed }

// Serve processes channel messages until ctx ends. A Printed notice that
// arrives after completion is answered with Completed, so a late receipt
// window does not fall back needlessly.
func (s *Session) Serve(ctx context.Context) error {
	defer s.sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-s.sub.C():
			if !ok {
				return nil
			}
			s.handle(ctx, m)
		}
	}
}

func (s *Session) handle(ctx context.Context, m Message) {
	switch m.Type {
	case MsgCompleted:
		if m.Source == SourceTerminal {
			return
		}
		if err := s.tracker.Advance(StateCompleted); err != nil {
			s.log.Warn("unexpected completion", zap.Error(err))
			return
		}
		s.once.Do(func() { close(s.completed) })
		s.log.Info("order completed", zap.String("source", m.Source))
	case MsgPrinted:
		if s.tracker.State() != StateCompleted {
			return
		}
		if err := s.channel.Publish(ctx, newMessage(MsgCompleted, s.OrderID, SourceTerminal)); err != nil {
			s.log.Warn("acknowledge printed", zap.Error(err))
		}
	}
}
