// Package chains defines the pluggable adapter boundary between the swap
// protocol and any one ledger, plus the registry that holds configured
// adapters. The gate and resolver only ever talk to this interface; adding a
// chain means implementing it, nothing more.
package chains

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
)

// Config is the static per-chain adapter configuration.
type Config struct {
	ChainID       order.ChainID `json:"chainId" mapstructure:"chain_id"`
	Kind          string        `json:"kind" mapstructure:"kind"` // "evm", "sui", "mock"
	Endpoint      string        `json:"endpoint" mapstructure:"endpoint"`
	EscrowFactory string        `json:"escrowFactory" mapstructure:"escrow_factory"`
	BlockTime     time.Duration `json:"blockTime" mapstructure:"block_time"`
	Confirmations uint64        `json:"confirmations" mapstructure:"confirmations"`
	CallTimeout   time.Duration `json:"callTimeout" mapstructure:"call_timeout"`
	RetryBudget   int           `json:"retryBudget" mapstructure:"retry_budget"`

	// EVM-only extras.
	NumericChainID int64  `json:"numericChainId,omitempty" mapstructure:"numeric_chain_id"`
	PrivateKeyHex  string `json:"-" mapstructure:"private_key"`

	// Sui-only extras. WsEndpoint feeds the event subscription; Mnemonic
	// funds the executor signer.
	WsEndpoint string `json:"wsEndpoint,omitempty" mapstructure:"ws_endpoint"`
	Mnemonic   string `json:"-" mapstructure:"mnemonic"`
}

// Event is a normalized escrow contract event.
type Event struct {
	Type        string    `json:"type"`
	OrderHash   string    `json:"orderHash,omitempty"`
	EscrowAddr  string    `json:"escrowAddress"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	Secret      string    `json:"secret,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Adapter is the uniform read/validate surface over one ledger's escrows.
type Adapter interface {
	// Initialize dials the endpoint and verifies the configuration. It must be
	// called before any other method.
	Initialize(ctx context.Context, cfg Config) error

	// ValidateEscrow checks a deployed escrow against the stored order's
	// expected asset, amount, hashlock, and participants. Infrastructure
	// problems surface inside the result, not as an error.
	ValidateEscrow(ctx context.Context, address string, rec *order.Record) escrow.ValidationResult

	// EscrowBalance returns the value currently held by the escrow, in the
	// asset's base units.
	EscrowBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// VerifyEscrowParameters compares the escrow's immutable creation
	// parameters with the expected ones.
	VerifyEscrowParameters(ctx context.Context, address string, expected escrow.Immutables) (bool, error)

	// EscrowEvents returns the escrow's contract events, oldest first.
	EscrowEvents(ctx context.Context, address string) ([]Event, error)

	// Healthy reports whether the chain endpoint is reachable and synced
	// enough to serve queries.
	Healthy(ctx context.Context) bool
}

// TxReceipt captures the on-chain artifacts of a submitted escrow action.
type TxReceipt struct {
	TxHash      string
	EscrowAddr  string
	BlockNumber uint64
}

// Executor is the write surface a resolver needs. Calls block until the
// configured confirmation depth; they are not idempotent and must not be
// resubmitted once a receipt is returned.
type Executor interface {
	// FillOrder locks the maker's funds into a fresh source escrow using the
	// record's maker signature and opaque extension data.
	FillOrder(ctx context.Context, rec *order.Record, taker string) (*TxReceipt, error)

	// CreateEscrow deploys and funds a destination escrow for the order's
	// receiver out of the resolver's own funds.
	CreateEscrow(ctx context.Context, rec *order.Record, safetyDeposit *big.Int) (*TxReceipt, error)

	// Withdraw reveals the secret to the escrow and collects the principal.
	Withdraw(ctx context.Context, address, secretHex string) (*TxReceipt, error)

	// Cancel triggers the escrow's cancellation path once its window is open.
	Cancel(ctx context.Context, address string) (*TxReceipt, error)
}
