package escrow

import (
	"github.com/shopspring/decimal"
	"github.com/swaplane/swaplane-backend/internal/order"
)

// ValidationResult is one chain adapter's verdict on one escrow: whether the
// deployed escrow matches the stored order's asset, amount, hashlock, and
// participants, and how much value it actually holds.
type ValidationResult struct {
	Valid         bool            `json:"valid"`
	Balance       decimal.Decimal `json:"balance"`
	Error         string          `json:"error,omitempty"`
	ChainID       order.ChainID   `json:"chainId"`
	EscrowAddress string          `json:"escrowAddress"`
}

// Invalid builds a failed result carrying the reason.
func Invalid(chainID order.ChainID, address, reason string) ValidationResult {
	return ValidationResult{
		Valid:         false,
		ChainID:       chainID,
		EscrowAddress: address,
		Error:         reason,
	}
}
