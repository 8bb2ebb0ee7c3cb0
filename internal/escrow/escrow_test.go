package escrow

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaplane/swaplane-backend/internal/secret"
)

const (
	depositor = "0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2"
	recipient = "0x4B20993Bc481177ec7E8f571ceCaE8A9e22C02db"
	taker     = "0x78731D3Ca6b7E34aC0F824c42a7cC18A495cabaB"
	stranger  = "0x617F2E2fD72FD9D5503197092aC168c91465E7f2"
)

func testSecret(t *testing.T) (string, string) {
	t.Helper()
	s, err := secret.Generate()
	require.NoError(t, err)
	h, err := secret.Hash(s)
	require.NoError(t, err)
	return s, h
}

func sourceEscrow(t *testing.T, hashlock string, createdAt time.Time) *Escrow {
	t.Helper()
	tl, err := NewTimelocks(SideSource, 10*time.Second, time.Minute, 10*time.Minute, time.Hour)
	require.NoError(t, err)
	return New(SideSource, Immutables{
		OrderHash:     "0x66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925",
		Hashlock:      hashlock,
		Depositor:     depositor,
		Recipient:     recipient,
		Asset:         "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		Amount:        big.NewInt(1000),
		SafetyDeposit: big.NewInt(50),
		CreatedAt:     createdAt,
		Timelocks:     tl,
	})
}

func destEscrow(t *testing.T, hashlock string, createdAt time.Time) *Escrow {
	t.Helper()
	tl, err := NewTimelocks(SideDestination, 10*time.Second, time.Minute, 10*time.Minute, 0)
	require.NoError(t, err)
	return New(SideDestination, Immutables{
		Hashlock:      hashlock,
		Depositor:     taker,
		Recipient:     recipient,
		Amount:        big.NewInt(2000),
		SafetyDeposit: big.NewInt(50),
		CreatedAt:     createdAt,
		Timelocks:     tl,
	})
}

func TestNewTimelocksOrdering(t *testing.T) {
	tests := []struct {
		name         string
		side         Side
		w, pw, c, pc time.Duration
		wantErr      bool
	}{
		{"valid source", SideSource, 1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, false},
		{"valid destination", SideDestination, 1 * time.Second, 2 * time.Second, 3 * time.Second, 0, false},
		{"public withdrawal before withdrawal", SideSource, 5 * time.Second, 2 * time.Second, 10 * time.Second, 20 * time.Second, true},
		{"cancellation before public withdrawal", SideSource, 1 * time.Second, 5 * time.Second, 2 * time.Second, 20 * time.Second, true},
		{"public cancellation before cancellation", SideSource, 1 * time.Second, 2 * time.Second, 10 * time.Second, 5 * time.Second, true},
		{"destination with public cancellation", SideDestination, 1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, true},
		{"negative withdrawal", SideSource, -time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTimelocks(tt.side, tt.w, tt.pw, tt.c, tt.pc)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSourceWithdrawFlow(t *testing.T) {
	s, h := testSecret(t)
	created := time.Now()
	e := sourceEscrow(t, h, created)

	// Unclaimed source escrows cannot pay out.
	_, err := e.Withdraw(taker, s, created.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotClaimed)

	require.NoError(t, e.Claim(taker))

	// Before the window.
	_, err = e.Withdraw(taker, s, created.Add(time.Second))
	assert.ErrorIs(t, err, ErrTooEarly)

	// Wrong secret inside the window.
	wrong, _ := testSecret(t)
	_, err = e.Withdraw(taker, wrong, created.Add(time.Minute))
	assert.ErrorIs(t, err, ErrWrongSecret)

	// Only the claimed taker may withdraw privately.
	_, err = e.Withdraw(stranger, s, created.Add(time.Minute))
	assert.ErrorIs(t, err, ErrWrongCaller)

	payout, err := e.Withdraw(taker, s, created.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, taker, payout.PrincipalTo)
	assert.Equal(t, int64(1000), payout.Principal.Int64())
	assert.Equal(t, StateWithdrawn, e.State())

	// Terminal states never pay twice.
	_, err = e.Withdraw(taker, s, created.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrFinalized)
	_, err = e.Cancel(depositor, created.Add(time.Hour))
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestDestinationWithdrawGoesToRecipient(t *testing.T) {
	s, h := testSecret(t)
	created := time.Now()
	e := destEscrow(t, h, created)

	// Destination escrows are bound at creation; only the depositor (the
	// taker) triggers the private withdrawal, and funds go to the maker's
	// receiver.
	_, err := e.Withdraw(stranger, s, created.Add(time.Minute))
	assert.ErrorIs(t, err, ErrWrongCaller)

	payout, err := e.Withdraw(taker, s, created.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, recipient, payout.PrincipalTo)
	assert.Equal(t, StateWithdrawn, e.State())
}

func TestPublicWithdrawPaysCallerTheDeposit(t *testing.T) {
	s, h := testSecret(t)
	created := time.Now()
	e := destEscrow(t, h, created)

	// Private window open, public window not yet.
	_, err := e.PublicWithdraw(stranger, s, created.Add(30*time.Second))
	assert.ErrorIs(t, err, ErrTooEarly)

	payout, err := e.PublicWithdraw(stranger, s, created.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, recipient, payout.PrincipalTo)
	assert.Equal(t, stranger, payout.RewardTo)
	assert.Equal(t, int64(50), payout.Reward.Int64())
	assert.Equal(t, StatePubliclyWithdrawn, e.State())
}

func TestCancelReturnsFundsToDepositor(t *testing.T) {
	_, h := testSecret(t)
	created := time.Now()
	e := destEscrow(t, h, created)

	_, err := e.Cancel(taker, created.Add(time.Minute))
	assert.ErrorIs(t, err, ErrTooEarly)

	_, err = e.Cancel(stranger, created.Add(11*time.Minute))
	assert.ErrorIs(t, err, ErrWrongCaller)

	payout, err := e.Cancel(taker, created.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, taker, payout.PrincipalTo)
	assert.Equal(t, StateCancelled, e.State())
}

func TestPublicCancelIsSourceOnly(t *testing.T) {
	s, h := testSecret(t)
	created := time.Now()

	dst := destEscrow(t, h, created)
	_, err := dst.PublicCancel(stranger, created.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrWrongCaller)

	src := sourceEscrow(t, h, created)
	require.NoError(t, src.Claim(taker))

	_, err = src.PublicCancel(stranger, created.Add(30*time.Minute))
	assert.ErrorIs(t, err, ErrTooEarly)

	payout, err := src.PublicCancel(stranger, created.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, depositor, payout.PrincipalTo)
	assert.Equal(t, stranger, payout.RewardTo)
	assert.Equal(t, StatePubliclyCancelled, src.State())

	// The revealed secret is useless after cancellation.
	_, err = src.Withdraw(taker, s, created.Add(3*time.Hour))
	assert.ErrorIs(t, err, ErrFinalized)
}
