package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type ProductReader interface {
	ProductsByID(ctx context.Context, ids []int64) ([]orders.Product, error)
}

type Deduper interface {
	FirstSeen(ctx context.Context, service, id string) (bool, error)
	Forget(ctx context.Context, service, id string) error
}

type Emitter interface {
	Emit(ctx context.Context, eventType, producer, traceID, orderID string, payload any) error
}

// Service raises stock.low alerts for products a completed order left at or
// below Threshold.
type Service struct {
	Products    ProductReader
	Dedup       Deduper
	Alerts      Emitter
	Threshold   int
	ServiceName string
	Log         *zap.Logger

	// MaxRetries and RetryInterval bound the in-handler retry of lookups and
	// publishes. Zero values use the defaults below.
	MaxRetries    int
	RetryInterval time.Duration
}

const (
	defaultMaxRetries    = 4
	defaultRetryInterval = 200 * time.Millisecond
)

// HandleOrderCompleted is installed as the order.completed consumer handler.
// Malformed and foreign events are skipped. Lookup and publish failures are
// retried here with backoff: the consumer commits later offsets of the same
// partition regardless, so a returned error is not redelivered before a
// restart. The dedup mark is released on error.
func (s *Service) HandleOrderCompleted(ctx context.Context, m kafkago.Message) (err error) {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.Log.Warn("skip malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderCompleted {
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if !first {
		return nil
	}
	defer func() {
		if err != nil {
			if fErr := s.Dedup.Forget(ctx, s.ServiceName, env.EventID); fErr != nil {
				s.Log.Warn("release dedup mark", zap.String("event_id", env.EventID), zap.Error(fErr))
			}
		}
	}()

	p, err := kafkax.UnwrapPayload[orders.OrderCompletedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("skip malformed payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	ids := lo.Uniq(lo.Map(p.Items, func(it orders.ItemQty, _ int) int64 { return it.ProductID }))
	if len(ids) == 0 {
		return nil
	}
	var products []orders.Product
	err = s.retry(ctx, "load products", func() error {
		var lErr error
		products, lErr = s.Products.ProductsByID(ctx, ids)
		return lErr
	})
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}

	for _, prod := range products {
		if prod.Stock > s.Threshold {
			continue
		}
		alert := orders.StockLowPayload{
			ProductID: prod.ID,
			Name:      prod.Name,
			Stock:     prod.Stock,
			Threshold: s.Threshold,
		}
		err := s.retry(ctx, "publish stock low", func() error {
			return s.Alerts.Emit(ctx, orders.EventStockLow, s.ServiceName, env.TraceID, p.OrderID, alert)
		})
		if err != nil {
			return fmt.Errorf("publish stock low %d: %w", prod.ID, err)
		}
		s.Log.Info("stock low",
			zap.String("order_id", p.OrderID),
			zap.Int64("product_id", prod.ID),
			zap.Int("stock", prod.Stock))
	}
	return nil
}

func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.RetryInterval
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = defaultRetryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
	return backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		s.Log.Warn(op+" failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
}
