package sui

import (
	"testing"

	"github.com/pattonkan/sui-go/sui"
	"github.com/pattonkan/sui-go/suiclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/chains"
)

var _ chains.Factory = Factory

func TestFactoryBuildsUninitializedAdapter(t *testing.T) {
	a, err := Factory(chains.Config{ChainID: "sui-testnet", Kind: "sui"}, zap.NewNop().Sugar())
	require.NoError(t, err)

	adapter, ok := a.(*Adapter)
	require.True(t, ok)
	assert.NotNil(t, adapter.journal)
}

func testCoins(balances ...uint64) suiclient.Coins {
	coins := make(suiclient.Coins, 0, len(balances))
	for _, b := range balances {
		coins = append(coins, &suiclient.Coin{Balance: sui.NewBigInt(b)})
	}
	return coins
}

func TestCoinsToLock(t *testing.T) {
	coins := testCoins(5, 5, 5)

	// An exact sum stops the prefix; no coin is consumed beyond the target.
	assert.Len(t, coinsToLock(coins, 10), 2)
	assert.Len(t, coinsToLock(coins, 11), 3)
	assert.Len(t, coinsToLock(coins, 4), 1)
	assert.Len(t, coinsToLock(coins, 5), 1)

	// Shortfalls are the caller's problem; every coin is offered.
	assert.Len(t, coinsToLock(coins, 40), 3)
}
