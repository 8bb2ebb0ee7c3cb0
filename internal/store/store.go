// Package store persists orders, resolver execution state, and the validation
// cache. Postgres is the system of record; an in-memory implementation backs
// tests and single-node development.
package store

import (
	"context"
	"time"

	"github.com/swaplane/swaplane-backend/internal/order"
)

// OrderFilter narrows ListOrders. Zero fields mean no constraint; Limit 0
// falls back to DefaultPageLimit. Asset matches either side of the swap.
type OrderFilter struct {
	Statuses   []order.Status
	Maker      string
	Asset      string
	SrcChainID order.ChainID
	DstChainID order.ChainID
	Limit      int
	Offset     int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page is one window of a ListOrders result. Total counts every row the
// filter matches; HasMore reports whether rows exist past Offset+len(Orders).
type Page struct {
	Orders  []*order.Record
	Total   int
	HasMore bool
}

// OrderStore is the order book's persistence boundary. Status moves only
// through compare-and-set operations so that concurrent writers cannot skip
// states.
type OrderStore interface {
	// CreateOrder inserts a new record. A record with the same order hash
	// returns order.ErrDuplicate.
	CreateOrder(ctx context.Context, rec *order.Record) error

	// GetOrder returns the record, or order.ErrNotFound.
	GetOrder(ctx context.Context, orderHash string) (*order.Record, error)

	// ListOrders returns one page, newest first.
	ListOrders(ctx context.Context, f OrderFilter) (*Page, error)

	// SetStatus moves the order from one status to another. The transition
	// applies only if the stored status still equals from; a mismatch returns
	// order.ErrStatusConflict without touching the row.
	SetStatus(ctx context.Context, orderHash string, from, to order.Status) error

	// SetTaker records which resolver filled the order.
	SetTaker(ctx context.Context, orderHash, taker string) error

	// SetEscrows records the deployed escrow addresses. Empty strings leave
	// the stored value untouched.
	SetEscrows(ctx context.Context, orderHash, srcEscrow, dstEscrow string) error

	// CompleteWithSecret stores the revealed secret and moves Active to
	// Completed in a single atomic step. Losing the race returns
	// order.ErrStatusConflict; the caller then re-reads the record to see
	// whether another writer already completed it.
	CompleteWithSecret(ctx context.Context, orderHash, secret string) error

	// Ping reports backend reachability.
	Ping(ctx context.Context) error
}

// ExecutionState is a resolver's persisted progress on one order. The
// resolver writes a row after every completed step so a restart resumes
// instead of re-running steps that already hit the chain.
type ExecutionState struct {
	OrderHash string    `json:"orderHash"`
	LeaseID   string    `json:"leaseId"`
	Step      string    `json:"step"`
	Taker     string    `json:"taker"`
	SrcEscrow string    `json:"srcEscrow,omitempty"`
	DstEscrow string    `json:"dstEscrow,omitempty"`
	SrcTxHash string    `json:"srcTxHash,omitempty"`
	DstTxHash string    `json:"dstTxHash,omitempty"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExecutionStore persists resolver checkpoints.
type ExecutionStore interface {
	// SaveExecution upserts the order's execution row.
	SaveExecution(ctx context.Context, st *ExecutionState) error

	// GetExecution returns the order's execution row, or order.ErrNotFound.
	GetExecution(ctx context.Context, orderHash string) (*ExecutionState, error)

	// ListUnfinished returns every execution row whose step is not terminal,
	// for resumption at startup.
	ListUnfinished(ctx context.Context, terminalSteps []string) ([]*ExecutionState, error)
}

// Store is the combined persistence surface the service wires up once.
type Store interface {
	OrderStore
	ExecutionStore
}
