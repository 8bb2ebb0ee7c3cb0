// Package mock provides an in-memory chain adapter for development runs and
// end-to-end tests. Escrows exist only in process memory; fills and
// withdrawals succeed immediately.
package mock

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
)

// Factory builds a mock adapter. The registry wires it for chain configs with
// kind "mock".
func Factory(cfg chains.Config, logger *zap.SugaredLogger) (chains.Adapter, error) {
	return &Adapter{
		chainID: cfg.ChainID,
		logger:  logger,
		escrows: make(map[string]*escrowRecord),
	}, nil
}

type escrowRecord struct {
	orderHash string
	balance   decimal.Decimal
	events    []chains.Event
}

// Adapter simulates one ledger. It satisfies both the read surface the gate
// uses and the write surface the resolver uses.
type Adapter struct {
	chainID order.ChainID
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	escrows map[string]*escrowRecord
}

var _ chains.Adapter = (*Adapter)(nil)
var _ chains.Executor = (*Adapter)(nil)

func (a *Adapter) Initialize(ctx context.Context, cfg chains.Config) error { return nil }

func (a *Adapter) ValidateEscrow(ctx context.Context, address string, rec *order.Record) escrow.ValidationResult {
	a.mu.Lock()
	e, ok := a.escrows[address]
	a.mu.Unlock()

	if !ok {
		return escrow.Invalid(a.chainID, address, "escrow does not exist")
	}
	if e.orderHash != rec.OrderHash {
		return escrow.Invalid(a.chainID, address, "escrow belongs to a different order")
	}
	return escrow.ValidationResult{
		Valid:         true,
		Balance:       e.balance,
		ChainID:       a.chainID,
		EscrowAddress: address,
	}
}

func (a *Adapter) EscrowBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.escrows[address]
	if !ok {
		return decimal.Zero, fmt.Errorf("escrow %s does not exist", address)
	}
	return e.balance, nil
}

func (a *Adapter) VerifyEscrowParameters(ctx context.Context, address string, expected escrow.Immutables) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.escrows[address]
	return ok, nil
}

func (a *Adapter) EscrowEvents(ctx context.Context, address string) ([]chains.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.escrows[address]
	if !ok {
		return nil, fmt.Errorf("escrow %s does not exist", address)
	}
	return append([]chains.Event(nil), e.events...), nil
}

func (a *Adapter) Healthy(ctx context.Context) bool { return true }

func (a *Adapter) FillOrder(ctx context.Context, rec *order.Record, taker string) (*chains.TxReceipt, error) {
	amount := decimal.Zero
	if rec.Order.MakingAmount != nil {
		amount = decimal.NewFromBigInt(rec.Order.MakingAmount, 0)
	}
	return a.deploy(rec.OrderHash, "src", amount, "source_filled"), nil
}

func (a *Adapter) CreateEscrow(ctx context.Context, rec *order.Record, safetyDeposit *big.Int) (*chains.TxReceipt, error) {
	amount := decimal.Zero
	if rec.Order.TakingAmount != nil {
		amount = decimal.NewFromBigInt(rec.Order.TakingAmount, 0)
	}
	if safetyDeposit != nil {
		amount = amount.Add(decimal.NewFromBigInt(safetyDeposit, 0))
	}
	return a.deploy(rec.OrderHash, "dst", amount, "escrow_created"), nil
}

func (a *Adapter) Withdraw(ctx context.Context, address, secretHex string) (*chains.TxReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.escrows[address]
	if !ok {
		return nil, fmt.Errorf("escrow %s does not exist", address)
	}
	e.balance = decimal.Zero
	e.events = append(e.events, chains.Event{
		Type:       "withdrawn",
		OrderHash:  e.orderHash,
		EscrowAddr: address,
		TxHash:     txHash(address, "withdraw"),
		Secret:     secretHex,
		Timestamp:  time.Now().UTC(),
	})
	return &chains.TxReceipt{TxHash: txHash(address, "withdraw"), EscrowAddr: address, BlockNumber: 1}, nil
}

func (a *Adapter) Cancel(ctx context.Context, address string) (*chains.TxReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.escrows[address]
	if !ok {
		return nil, fmt.Errorf("escrow %s does not exist", address)
	}
	e.balance = decimal.Zero
	e.events = append(e.events, chains.Event{
		Type:       "cancelled",
		OrderHash:  e.orderHash,
		EscrowAddr: address,
		TxHash:     txHash(address, "cancel"),
		Timestamp:  time.Now().UTC(),
	})
	return &chains.TxReceipt{TxHash: txHash(address, "cancel"), EscrowAddr: address, BlockNumber: 1}, nil
}

func (a *Adapter) deploy(orderHash, side string, balance decimal.Decimal, eventType string) *chains.TxReceipt {
	addr := escrowAddr(a.chainID, orderHash, side)

	a.mu.Lock()
	a.escrows[addr] = &escrowRecord{
		orderHash: orderHash,
		balance:   balance,
		events: []chains.Event{{
			Type:       eventType,
			OrderHash:  orderHash,
			EscrowAddr: addr,
			TxHash:     txHash(addr, side),
			Timestamp:  time.Now().UTC(),
		}},
	}
	a.mu.Unlock()

	return &chains.TxReceipt{TxHash: txHash(addr, side), EscrowAddr: addr, BlockNumber: 1}
}

// escrowAddr derives a deterministic address so restarted dev runs resolve
// the same escrows for the same order.
func escrowAddr(chainID order.ChainID, orderHash, side string) string {
	sum := crypto.Keccak256([]byte(string(chainID) + ":" + orderHash + ":" + side))
	return fmt.Sprintf("0x%x", sum[:20])
}

func txHash(addr, action string) string {
	sum := crypto.Keccak256([]byte(addr + ":" + action))
	return fmt.Sprintf("0x%x", sum)
}
