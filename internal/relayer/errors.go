package relayer

import (
	"errors"
	"fmt"

	"github.com/swaplane/swaplane-backend/internal/escrow"
)

var (
	// ErrNotActive rejects a secret request for an order outside Active.
	ErrNotActive = errors.New("order is not active")

	// ErrAlreadyCompleted rejects a repeat secret request. The secret is
	// disclosed at most once through the gate; after that the requester is on
	// its own.
	ErrAlreadyCompleted = errors.New("order already completed")

	// ErrSecretMissing means the order carries no stored secret to release.
	ErrSecretMissing = errors.New("order has no stored secret")
)

// GateError is a refused secret release, carrying both escrow verdicts so the
// caller can see which side failed and why.
type GateError struct {
	Src escrow.ValidationResult
	Dst escrow.ValidationResult
}

func (e *GateError) Error() string {
	return fmt.Sprintf("escrow validation failed: src{valid=%t err=%q} dst{valid=%t err=%q}",
		e.Src.Valid, e.Src.Error, e.Dst.Valid, e.Dst.Error)
}
