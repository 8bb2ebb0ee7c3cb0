// Package escrow models the hashlock/timelock escrow contract each chain
// enforces. The relayer and resolver never execute these transitions
// themselves; they reason about them to decide when on-chain calls are valid.
package escrow

import (
	"errors"
	"fmt"
	"time"
)

// Side distinguishes the two escrows of a swap. The source escrow holds the
// maker's funds, the destination escrow the resolver's.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

var ErrTimelockOrder = errors.New("timelock offsets must be monotonically increasing")

// Timelocks is the window schedule fixed at escrow creation. Offsets are
// durations from the escrow's creation time after which the corresponding
// action becomes permitted. Private windows favor the intended party; public
// windows let anyone finish or unwind the swap for the safety deposit.
type Timelocks struct {
	Withdrawal         time.Duration `json:"withdrawal"`
	PublicWithdrawal   time.Duration `json:"publicWithdrawal"`
	Cancellation       time.Duration `json:"cancellation"`
	PublicCancellation time.Duration `json:"publicCancellation"`
}

// NewTimelocks validates a schedule for the given side. Source escrows carry
// all four windows; destination escrows have no public cancellation, their
// cancellation returns funds straight to the depositor.
func NewTimelocks(side Side, withdrawal, publicWithdrawal, cancellation, publicCancellation time.Duration) (Timelocks, error) {
	if withdrawal < 0 {
		return Timelocks{}, fmt.Errorf("%w: withdrawal offset is negative", ErrTimelockOrder)
	}
	if publicWithdrawal < withdrawal || cancellation < publicWithdrawal {
		return Timelocks{}, fmt.Errorf("%w: withdrawal=%s publicWithdrawal=%s cancellation=%s",
			ErrTimelockOrder, withdrawal, publicWithdrawal, cancellation)
	}

	tl := Timelocks{
		Withdrawal:       withdrawal,
		PublicWithdrawal: publicWithdrawal,
		Cancellation:     cancellation,
	}

	switch side {
	case SideSource:
		if publicCancellation < cancellation {
			return Timelocks{}, fmt.Errorf("%w: cancellation=%s publicCancellation=%s",
				ErrTimelockOrder, cancellation, publicCancellation)
		}
		tl.PublicCancellation = publicCancellation
	case SideDestination:
		if publicCancellation != 0 {
			return Timelocks{}, fmt.Errorf("destination escrows have no public cancellation window")
		}
	default:
		return Timelocks{}, fmt.Errorf("unknown escrow side %q", side)
	}

	return tl, nil
}

// Opened reports whether a window offset has passed at the given instant,
// relative to the escrow creation time.
func (tl Timelocks) opened(offset time.Duration, createdAt, now time.Time) bool {
	return !now.Before(createdAt.Add(offset))
}
