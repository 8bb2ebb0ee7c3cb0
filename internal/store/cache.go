package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/metrics"
	"github.com/swaplane/swaplane-backend/internal/order"
)

// Cache holds short-lived escrow validation results and fans order status
// changes out to websocket subscribers. Redis backs both when available; a
// single-node in-memory fallback keeps development runs working without it.
type Cache struct {
	client *redis.Client

	// In-memory mode, used when client is nil.
	mem *memCache
	hub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

var ErrCacheMiss = fmt.Errorf("cache miss")

// Cache key prefixes and channels.
const (
	keyValidation      = "swl:escrow:validation"
	ChannelOrderEvents = "swl:orders:events"
)

// ValidationTTL bounds how stale a reused escrow validation may be.
const ValidationTTL = 30 * time.Second

func NewCache(addr string, logger *zap.SugaredLogger, m *metrics.Metrics) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache and pubsub", "error", err)
		}
		return &Cache{
			mem:     newMemCache(),
			hub:     NewPubSubHub(),
			logger:  logger,
			metrics: m,
		}, nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: m,
	}, nil
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte

	if c.client != nil {
		val, err := c.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				if c.metrics != nil {
					c.metrics.RecordCacheMiss(ctx, key)
				}
				return ErrCacheMiss
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		data = []byte(val)
	} else {
		var ok bool
		data, ok = c.mem.get(key)
		if !ok {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(ctx, key)
			}
			return ErrCacheMiss
		}
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	c.mem.set(key, data, ttl)
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	c.mem.del(keys...)
	return nil
}

func validationKey(chainID order.ChainID, escrowAddr string) string {
	return fmt.Sprintf("%s:%s:%s", keyValidation, chainID, escrowAddr)
}

// GetValidation returns a cached escrow validation, or ErrCacheMiss.
func (c *Cache) GetValidation(ctx context.Context, chainID order.ChainID, escrowAddr string) (*escrow.ValidationResult, error) {
	var result escrow.ValidationResult
	if err := c.Get(ctx, validationKey(chainID, escrowAddr), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetValidation caches an escrow validation for ValidationTTL. Only valid
// results are worth reusing; failures are kept briefly to absorb hot retries.
func (c *Cache) SetValidation(ctx context.Context, result escrow.ValidationResult) error {
	ttl := ValidationTTL
	if !result.Valid {
		ttl = 5 * time.Second
	}
	return c.Set(ctx, validationKey(result.ChainID, result.EscrowAddress), result, ttl)
}

// OrderEvent is the payload published on every order status change.
type OrderEvent struct {
	OrderHash string       `json:"orderHash"`
	Status    order.Status `json:"status"`
	Taker     string       `json:"taker,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// PublishOrderEvent fans an order status change out to subscribers.
func (c *Cache) PublishOrderEvent(ctx context.Context, evt OrderEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Publish(ctx, ChannelOrderEvents, data).Err(); err != nil {
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}
	c.hub.Publish(ChannelOrderEvents, string(data))
	return nil
}

// Subscribe returns the redis subscription for the given channels, or nil in
// in-memory mode; callers then use SubscribeLocal.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if c.client != nil {
		return c.client.Subscribe(ctx, channels...)
	}
	return nil
}

// SubscribeLocal subscribes through the in-memory hub.
func (c *Cache) SubscribeLocal(ctx context.Context, channels ...string) *LocalPubSub {
	if c.hub != nil {
		return c.hub.Subscribe(ctx, channels...)
	}
	return nil
}

// IsInMemoryMode reports whether the cache runs without Redis.
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// memCache is a TTL map standing in for Redis strings.
type memCache struct {
	mu    sync.RWMutex
	items map[string]memItem
}

type memItem struct {
	data      []byte
	expiresAt time.Time
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string]memItem)}
}

func (m *memCache) get(key string) ([]byte, bool) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false
	}
	return item.data, true
}

func (m *memCache) set(key string, data []byte, ttl time.Duration) {
	item := memItem{data: data}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
}

func (m *memCache) del(keys ...string) {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.items, k)
	}
	m.mu.Unlock()
}
