package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache holds the shortcuts kept in front of postgres. Postgres stays the
// source of truth; a miss or a redis error only costs a database round trip.
type Cache struct {
	RDB redis.UniversalClient
}

type cachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RememberOrder maps an idempotency key to the order it created.
func (c *Cache) RememberOrder(ctx context.Context, idemKey, orderID string) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, idemKey), orderID, TTLIdempotency).Err()
}

func (c *Cache) LookupOrder(ctx context.Context, idemKey string) (string, bool, error) {
	id, err := c.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, idemKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *Cache) SetStatus(ctx context.Context, orderID, status string) error {
	b, err := json.Marshal(cachedStatus{Status: status, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

func (c *Cache) Status(ctx context.Context, orderID string) (string, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var s cachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return "", false, fmt.Errorf("decode cached status: %w", err)
	}
	return s.Status, true, nil
}

// FirstSeen records id for service and reports whether this call was the
// first to do so within TTLDedup.
func (c *Cache) FirstSeen(ctx context.Context, service, id string) (bool, error) {
	return c.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
}

// Forget drops a dedup mark so a failed handler can be retried.
func (c *Cache) Forget(ctx context.Context, service, id string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}
