package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
)

// newTestCache builds a cache in in-memory mode by pointing it at an address
// nothing listens on.
func newTestCache(t *testing.T) *Cache {
	t.Helper()

	cache, err := NewCache("invalid:6379", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	require.True(t, cache.IsInMemoryMode())
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheSetGetDelete(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}

	require.NoError(t, cache.Set(ctx, "swl:test:key", payload{Message: "hello", Count: 3}, time.Minute))

	var got payload
	require.NoError(t, cache.Get(ctx, "swl:test:key", &got))
	assert.Equal(t, payload{Message: "hello", Count: 3}, got)

	require.NoError(t, cache.Delete(ctx, "swl:test:key"))
	assert.ErrorIs(t, cache.Get(ctx, "swl:test:key", &got), ErrCacheMiss)

	assert.ErrorIs(t, cache.Get(ctx, "swl:test:never-set", &got), ErrCacheMiss)
}

func TestCacheEntriesExpire(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "swl:test:short", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	var got string
	assert.ErrorIs(t, cache.Get(ctx, "swl:test:short", &got), ErrCacheMiss)
}

func TestCacheValidationRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	result := escrow.ValidationResult{
		Valid:         true,
		Balance:       decimal.NewFromInt(1_000_000),
		ChainID:       order.ChainID("ethereum"),
		EscrowAddress: "0x00000000000000000000000000000000000000aa",
	}
	require.NoError(t, cache.SetValidation(ctx, result))

	got, err := cache.GetValidation(ctx, result.ChainID, result.EscrowAddress)
	require.NoError(t, err)
	assert.True(t, got.Valid)
	assert.Equal(t, result.EscrowAddress, got.EscrowAddress)
	assert.True(t, result.Balance.Equal(got.Balance))

	_, err = cache.GetValidation(ctx, result.ChainID, "0x00000000000000000000000000000000000000bb")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCachePublishOrderEventLocal(t *testing.T) {
	cache := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := cache.SubscribeLocal(ctx, ChannelOrderEvents)
	require.NotNil(t, sub)
	defer sub.Close()

	evt := OrderEvent{
		OrderHash: "0x01",
		Status:    order.StatusActive,
		Taker:     "0x00000000000000000000000000000000000000cc",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, cache.PublishOrderEvent(ctx, evt))

	select {
	case msg := <-sub.Channel():
		require.NotNil(t, msg)
		assert.Equal(t, ChannelOrderEvents, msg.Channel)

		var got OrderEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, evt.OrderHash, got.OrderHash)
		assert.Equal(t, evt.Status, got.Status)
		assert.Equal(t, evt.Taker, got.Taker)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order event")
	}
}

func TestLocalPubSubIgnoresOtherChannels(t *testing.T) {
	hub := NewPubSubHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := hub.Subscribe(ctx, "swl:test:wanted")
	defer sub.Close()

	hub.Publish("swl:test:other", "ignored")
	hub.Publish("swl:test:wanted", "delivered")

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "swl:test:wanted", msg.Channel)
		assert.Equal(t, "delivered", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestLocalPubSubCloseStopsDelivery(t *testing.T) {
	hub := NewPubSubHub()
	sub := hub.Subscribe(context.Background(), "swl:test:ch")

	require.NoError(t, sub.Close())
	hub.Publish("swl:test:ch", "late")

	// A closed subscription's channel is closed rather than left dangling.
	_, ok := <-sub.Channel()
	assert.False(t, ok)
}
