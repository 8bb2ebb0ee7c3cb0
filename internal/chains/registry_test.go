package chains

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
)

type stubAdapter struct {
	healthy bool
	initErr error
}

func (s *stubAdapter) Initialize(ctx context.Context, cfg Config) error { return s.initErr }

func (s *stubAdapter) ValidateEscrow(ctx context.Context, address string, rec *order.Record) escrow.ValidationResult {
	return escrow.ValidationResult{Valid: true, EscrowAddress: address}
}

func (s *stubAdapter) EscrowBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s *stubAdapter) VerifyEscrowParameters(ctx context.Context, address string, expected escrow.Immutables) (bool, error) {
	return true, nil
}

func (s *stubAdapter) EscrowEvents(ctx context.Context, address string) ([]Event, error) {
	return nil, nil
}

func (s *stubAdapter) Healthy(ctx context.Context) bool { return s.healthy }

func TestRegistryLoadFromConfig(t *testing.T) {
	reg := NewRegistry(zap.NewNop().Sugar())
	reg.RegisterFactory("mock", func(cfg Config, logger *zap.SugaredLogger) (Adapter, error) {
		return &stubAdapter{healthy: true}, nil
	})

	cfgs := []Config{
		{ChainID: "ethereum", Kind: "mock"},
		{ChainID: "sui", Kind: "mock"},
	}
	require.NoError(t, reg.LoadFromConfig(context.Background(), cfgs))

	a, err := reg.Adapter("ethereum")
	require.NoError(t, err)
	assert.NotNil(t, a)

	cfg, err := reg.Config("sui")
	require.NoError(t, err)
	assert.Equal(t, order.ChainID("sui"), cfg.ChainID)

	_, err = reg.Adapter("unknown")
	assert.ErrorIs(t, err, ErrUnknownChain)
}

func TestRegistryUnknownKind(t *testing.T) {
	reg := NewRegistry(zap.NewNop().Sugar())
	err := reg.LoadFromConfig(context.Background(), []Config{{ChainID: "x", Kind: "nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter kind")
}

func TestRegistryFailedInitializeIsUnhealthyNotFatal(t *testing.T) {
	reg := NewRegistry(zap.NewNop().Sugar())
	reg.RegisterFactory("mock", func(cfg Config, logger *zap.SugaredLogger) (Adapter, error) {
		return &stubAdapter{initErr: errors.New("dial failed")}, nil
	})

	require.NoError(t, reg.LoadFromConfig(context.Background(), []Config{{ChainID: "ethereum", Kind: "mock"}}))

	statuses := reg.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, HealthUnhealthy, statuses[0].Health)

	// The adapter is still resolvable; callers see failures per request.
	_, err := reg.Adapter("ethereum")
	assert.NoError(t, err)
}

func TestRegistryExecutorRequiresWriteSurface(t *testing.T) {
	reg := NewRegistry(zap.NewNop().Sugar())
	reg.Register(Config{ChainID: "ethereum", Kind: "mock"}, &stubAdapter{healthy: true})

	_, err := reg.Executor("ethereum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot submit transactions")
}

func TestRegistryCheckHealth(t *testing.T) {
	reg := NewRegistry(zap.NewNop().Sugar())
	reg.Register(Config{ChainID: "up", Kind: "mock"}, &stubAdapter{healthy: true})
	reg.Register(Config{ChainID: "down", Kind: "mock"}, &stubAdapter{healthy: false})

	statuses := reg.CheckHealth(context.Background())
	require.Len(t, statuses, 2)

	byID := map[order.ChainID]Health{}
	for _, s := range statuses {
		byID[s.ChainID] = s.Health
	}
	assert.Equal(t, HealthHealthy, byID["up"])
	assert.Equal(t, HealthUnhealthy, byID["down"])
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	cfg := Config{RetryBudget: 5, BlockTime: time.Millisecond}

	calls := 0
	out, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	cfg := Config{RetryBudget: 3, BlockTime: time.Millisecond}

	calls := 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "retry budget")
	assert.Contains(t, err.Error(), "persistent")
}

func TestWithRetryHonorsContext(t *testing.T) {
	cfg := Config{RetryBudget: 100, BlockTime: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := WithRetry(ctx, cfg, func(ctx context.Context) (int, error) {
		return 0, errors.New("always")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
