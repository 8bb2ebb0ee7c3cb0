package order

import (
	"encoding/json"
	"math/big"
	"time"
)

// ChainID names a configured ledger (e.g. "ethereum", "base-sepolia", "sui").
type ChainID string

// Status is the lifecycle state of a stored order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// Completed and cancelled are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Order holds the maker-signed terms of a cross-chain swap. Amounts are in the
// asset's base units. Receiver is an address on the destination chain and is
// treated as opaque here; the destination adapter interprets it.
type Order struct {
	Maker         string   `json:"maker"`
	MakerAsset    string   `json:"makerAsset"`
	TakerAsset    string   `json:"takerAsset"`
	MakingAmount  *big.Int `json:"makingAmount"`
	TakingAmount  *big.Int `json:"takingAmount"`
	Receiver      string   `json:"receiver"`
	Hashlock      string   `json:"hashlock"`
	Salt          *big.Int `json:"salt"`
	SrcChainID    ChainID  `json:"srcChainId"`
	DstChainID    ChainID  `json:"dstChainId"`
	SrcEscrowAddr string   `json:"srcEscrowAddress,omitempty"`
	DstEscrowAddr string   `json:"dstEscrowAddress,omitempty"`
}

// Record is the persisted form of an order. Orders are never deleted; the
// record accumulates escrow addresses and the (optionally encrypted) secret as
// the swap progresses.
type Record struct {
	OrderHash string `json:"orderHash"`
	Order     Order  `json:"order"`
	Status    Status `json:"status"`

	Taker string `json:"taker,omitempty"`

	// Secret is empty until provisioned. A value with the keeper's encryption
	// prefix is ciphertext; anything else is the plain hex secret.
	Secret string `json:"secret,omitempty"`

	// Extension carries opaque settlement data passed through to the source
	// chain fill; the relayer never interprets it.
	Extension json.RawMessage `json:"extension,omitempty"`

	Signature string `json:"signature,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
