package cartstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

const (
	defaultTTL        = 72 * time.Hour
	maxWatchRetries   = 5
	redisKeyNamespace = "cart"
)

// ErrConcurrentUpdate is returned when optimistic updates keep colliding.
var ErrConcurrentUpdate = errors.New("cartstore: concurrent update")

// Redis stores carts as JSON documents keyed by session.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis returns a Redis-backed cart provider. A non-positive ttl uses the default.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// CartFor returns the cart bound to the session.
func (r *Redis) CartFor(sessionID string) *RedisCart {
	return &RedisCart{client: r.client, key: cartKey(sessionID), ttl: r.ttl}
}

// Drop deletes the session's cart.
func (r *Redis) Drop(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisCart is a single session's cart stored under cart:{sessionID}.
type RedisCart struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// Items returns the cart lines in insertion order.
func (c *RedisCart) Items(ctx context.Context) ([]domain.CartLine, error) {
	return c.load(ctx, c.client)
}

// Add appends the line, or merges its quantity into an existing line with the same ID. The
// resulting quantity must stay within [1, ceiling].
func (c *RedisCart) Add(ctx context.Context, line domain.CartLine, ceiling int) error {
	return c.mutate(ctx, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		return addLine(lines, line, ceiling)
	})
}

// UpdateQuantity sets the quantity of an existing line, rejecting values outside [1, ceiling].
func (c *RedisCart) UpdateQuantity(ctx context.Context, itemID string, quantity, ceiling int) error {
	return c.mutate(ctx, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		return lines, setQuantity(lines, itemID, quantity, ceiling)
	})
}

// Remove deletes the line with the given ID.
func (c *RedisCart) Remove(ctx context.Context, itemID string) error {
	return c.mutate(ctx, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		return removeLine(lines, itemID)
	})
}

// Clear empties the cart.
func (c *RedisCart) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// mutate applies fn under WATCH so concurrent writers to the same cart do not lose updates.
func (c *RedisCart) mutate(ctx context.Context, fn func([]domain.CartLine) ([]domain.CartLine, error)) error {
	txf := func(tx *redis.Tx) error {
		lines, err := c.load(ctx, tx)
		if err != nil {
			return err
		}
		updated, err := fn(lines)
		if err != nil {
			return err
		}
		payload, err := encodeLines(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(updated) == 0 {
				pipe.Del(ctx, c.key)
				return nil
			}
			pipe.Set(ctx, c.key, payload, c.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := c.client.Watch(ctx, txf, c.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConcurrentUpdate
}

func (c *RedisCart) load(ctx context.Context, cmd redis.Cmdable) ([]domain.CartLine, error) {
	data, err := cmd.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeLines(data)
}

type storedLine struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	ImageURL string          `json:"image_url,omitempty"`
}

func encodeLines(lines []domain.CartLine) ([]byte, error) {
	stored := make([]storedLine, 0, len(lines))
	for _, line := range lines {
		stored = append(stored, storedLine(line))
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal cart failed: %w", err)
	}
	return data, nil
}

func decodeLines(data []byte) ([]domain.CartLine, error) {
	var stored []storedLine
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	lines := make([]domain.CartLine, 0, len(stored))
	for _, s := range stored {
		lines = append(lines, domain.CartLine(s))
	}
	return lines, nil
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", redisKeyNamespace, sessionID)
}
