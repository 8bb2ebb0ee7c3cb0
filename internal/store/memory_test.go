package store

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaplane/swaplane-backend/internal/order"
)

func testRecord(orderHash, maker string, status order.Status) *order.Record {
	return &order.Record{
		OrderHash: orderHash,
		Order: order.Order{
			Maker:        maker,
			MakerAsset:   "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
			TakerAsset:   "0x2::sui::SUI",
			MakingAmount: big.NewInt(1000),
			TakingAmount: big.NewInt(2000),
			Receiver:     "0xabc",
			Hashlock:     "0x66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925",
			Salt:         big.NewInt(1),
			SrcChainID:   "ethereum",
			DstChainID:   "sui",
		},
		Status: status,
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := testRecord("0x01", "0xmaker", order.StatusActive)
	require.NoError(t, m.CreateOrder(ctx, rec))

	got, err := m.GetOrder(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	// Same hash again is a duplicate.
	assert.ErrorIs(t, m.CreateOrder(ctx, rec), order.ErrDuplicate)

	_, err = m.GetOrder(ctx, "0x02")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, testRecord("0x01", "0xmaker", order.StatusActive)))

	got, err := m.GetOrder(ctx, "0x01")
	require.NoError(t, err)
	got.Status = order.StatusCancelled

	again, err := m.GetOrder(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, again.Status)
}

func TestMemorySetStatusCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, testRecord("0x01", "0xmaker", order.StatusActive)))

	// Illegal transition is refused before touching the record.
	err := m.SetStatus(ctx, "0x01", order.StatusCompleted, order.StatusActive)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	// Stale expectation conflicts.
	err = m.SetStatus(ctx, "0x01", order.StatusPending, order.StatusCancelled)
	assert.ErrorIs(t, err, order.ErrStatusConflict)

	require.NoError(t, m.SetStatus(ctx, "0x01", order.StatusActive, order.StatusCompleted))

	// Terminal states never move again.
	err = m.SetStatus(ctx, "0x01", order.StatusCompleted, order.StatusCancelled)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	got, _ := m.GetOrder(ctx, "0x01")
	assert.Equal(t, order.StatusCompleted, got.Status)
}

func TestMemorySetStatusConcurrentExactlyOneWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, testRecord("0x01", "0xmaker", order.StatusActive)))

	const n = 32
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			wins <- m.SetStatus(ctx, "0x01", order.StatusActive, order.StatusCompleted) == nil
		}()
	}

	winners := 0
	for i := 0; i < n; i++ {
		if <-wins {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestMemoryCompleteWithSecret(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, testRecord("0x01", "0xmaker", order.StatusActive)))

	require.NoError(t, m.CompleteWithSecret(ctx, "0x01", "0xsecret"))

	got, _ := m.GetOrder(ctx, "0x01")
	assert.Equal(t, order.StatusCompleted, got.Status)
	assert.Equal(t, "0xsecret", got.Secret)

	// Already completed; a second attempt conflicts.
	assert.ErrorIs(t, m.CompleteWithSecret(ctx, "0x01", "0xother"), order.ErrStatusConflict)
	assert.ErrorIs(t, m.CompleteWithSecret(ctx, "0x99", "0xsecret"), order.ErrNotFound)
}

func TestMemorySetEscrowsKeepsExistingOnEmpty(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, testRecord("0x01", "0xmaker", order.StatusActive)))

	require.NoError(t, m.SetEscrows(ctx, "0x01", "0xsrc", "0xdst"))
	require.NoError(t, m.SetEscrows(ctx, "0x01", "", "0xdst2"))

	got, _ := m.GetOrder(ctx, "0x01")
	assert.Equal(t, "0xsrc", got.Order.SrcEscrowAddr)
	assert.Equal(t, "0xdst2", got.Order.DstEscrowAddr)
}

func TestMemoryListOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("0x0%d", i), "0xalice", order.StatusActive)
		if i >= 3 {
			rec.Status = order.StatusCompleted
		}
		require.NoError(t, m.CreateOrder(ctx, rec))
	}
	require.NoError(t, m.CreateOrder(ctx, testRecord("0x99", "0xbob", order.StatusActive)))

	page, err := m.ListOrders(ctx, OrderFilter{Statuses: []order.Status{order.StatusActive}})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Orders, 4)
	assert.False(t, page.HasMore)

	page, err = m.ListOrders(ctx, OrderFilter{Maker: "0xALICE"})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total, "maker filter is case-insensitive")

	page, err = m.ListOrders(ctx, OrderFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Len(t, page.Orders, 2)
	assert.True(t, page.HasMore)

	page, err = m.ListOrders(ctx, OrderFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
	assert.False(t, page.HasMore)

	page, err = m.ListOrders(ctx, OrderFilter{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Equal(t, 6, page.Total)

	page, err = m.ListOrders(ctx, OrderFilter{SrcChainID: "base"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	page, err = m.ListOrders(ctx, OrderFilter{Asset: "0x2::SUI::sui"})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total, "asset filter matches either side, case-insensitive")

	page, err = m.ListOrders(ctx, OrderFilter{Asset: "0xdead"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestMemoryExecutionStates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetExecution(ctx, "0x01")
	assert.ErrorIs(t, err, order.ErrNotFound)

	require.NoError(t, m.SaveExecution(ctx, &ExecutionState{OrderHash: "0x01", Step: "pending"}))
	require.NoError(t, m.SaveExecution(ctx, &ExecutionState{OrderHash: "0x02", Step: "completed"}))
	require.NoError(t, m.SaveExecution(ctx, &ExecutionState{OrderHash: "0x03", Step: "dest_created", Attempts: 2}))

	st, err := m.GetExecution(ctx, "0x03")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Attempts)
	assert.False(t, st.UpdatedAt.IsZero())

	// Upsert overwrites.
	require.NoError(t, m.SaveExecution(ctx, &ExecutionState{OrderHash: "0x01", Step: "source_filled"}))
	st, err = m.GetExecution(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, "source_filled", st.Step)

	unfinished, err := m.ListUnfinished(ctx, []string{"completed", "failed"})
	require.NoError(t, err)
	hashes := make([]string, 0, len(unfinished))
	for _, u := range unfinished {
		hashes = append(hashes, u.OrderHash)
	}
	assert.ElementsMatch(t, []string{"0x01", "0x03"}, hashes)
}
