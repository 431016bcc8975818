package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketplace-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/set_availability.lua
var setAvailabilityScript string

//go:embed scripts/evict_availability.lua
var evictAvailabilityScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb         *redis.Client
	setScript   *redis.Script
	evictScript *redis.Script
	lockScript  *redis.Script
	cacheTTL    time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, cacheTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		setScript:   redis.NewScript(setAvailabilityScript),
		evictScript: redis.NewScript(evictAvailabilityScript),
		lockScript:  redis.NewScript(releaseLockScript),
		cacheTTL:    cacheTTL,
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func availabilityKey(productID int64) string {
	return fmt.Sprintf("availability:%d", productID)
}

// SetAvailability caches a snapshot unless a newer version is already cached.
// It reports whether the snapshot was written.
func (c *Client) SetAvailability(ctx context.Context, a models.Availability) (bool, error) {
	sold := 0
	if a.IsSold {
		sold = 1
	}

	result, err := c.setScript.Run(ctx, c.rdb, []string{availabilityKey(a.ProductID)},
		a.Quantity, sold, a.Version, int64(c.cacheTTL/time.Second)).Int64()
	if err != nil {
		return false, fmt.Errorf("set availability script failed: %w", err)
	}
	return result == 1, nil
}

// EvictAvailability drops a product from the cache and leaves a tombstone at version
func (c *Client) EvictAvailability(ctx context.Context, productID int64, version int64) error {
	_, err := c.evictScript.Run(ctx, c.rdb, []string{availabilityKey(productID)},
		version, int64(c.cacheTTL/time.Second)).Result()
	if err != nil {
		return fmt.Errorf("evict availability script failed: %w", err)
	}
	return nil
}

// GetAvailability returns the cached snapshot, or nil when nothing usable is cached
func (c *Client) GetAvailability(ctx context.Context, productID int64) (*models.Availability, error) {
	result, err := c.rdb.HGetAll(ctx, availabilityKey(productID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || result["deleted"] == "1" {
		return nil, nil
	}

	quantity, err := strconv.Atoi(result["quantity"])
	if err != nil {
		return nil, fmt.Errorf("corrupt cached quantity for product %d: %w", productID, err)
	}
	version, err := strconv.ParseInt(result["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cached version for product %d: %w", productID, err)
	}

	return &models.Availability{
		ProductID: productID,
		Quantity:  quantity,
		IsSold:    result["is_sold"] == "1",
		Version:   version,
	}, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored for key and whether it exists
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// AcquireLock acquires a distributed lock and returns the token that owns it
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it. A lock that
// expired and was taken by another holder is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if err := c.lockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
