package escrow

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/swaplane/swaplane-backend/internal/secret"
)

// State is the lifecycle position of one escrow instance. The four terminal
// states destroy the escrow and release its held value exactly once.
type State string

const (
	StateCreated           State = "created"
	StateClaimed           State = "claimed"
	StateWithdrawn         State = "withdrawn"
	StatePubliclyWithdrawn State = "publicly_withdrawn"
	StateCancelled         State = "cancelled"
	StatePubliclyCancelled State = "publicly_cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateWithdrawn, StatePubliclyWithdrawn, StateCancelled, StatePubliclyCancelled:
		return true
	}
	return false
}

var (
	ErrTooEarly    = errors.New("timelock window not yet open")
	ErrWrongSecret = errors.New("secret does not match hashlock")
	ErrFinalized   = errors.New("escrow already destroyed")
	ErrNotClaimed  = errors.New("source escrow has no claimed counterparty")
	ErrWrongCaller = errors.New("caller not permitted for this transition")
)

// Immutables are the creation parameters an escrow can never change.
type Immutables struct {
	OrderHash     string
	Hashlock      string
	Depositor     string
	Recipient     string
	Asset         string
	Amount        *big.Int
	SafetyDeposit *big.Int
	CreatedAt     time.Time
	Timelocks     Timelocks
}

// Payout describes the single value release of a terminal transition.
type Payout struct {
	Principal   *big.Int
	PrincipalTo string
	Reward      *big.Int
	RewardTo    string
}

// Escrow is the off-chain model of one chain-enforced escrow. Transitions
// mirror what the contract would accept: any call before its window, with a
// wrong secret, or after destruction fails with no state change.
type Escrow struct {
	side      Side
	imm       Immutables
	state     State
	claimedBy string
}

func New(side Side, imm Immutables) *Escrow {
	return &Escrow{side: side, imm: imm, state: StateCreated}
}

func (e *Escrow) State() State { return e.state }
func (e *Escrow) Side() Side { return e.side }
func (e *Escrow) Immutables() Immutables { return e.imm }

// Claim binds a specific counterparty to a source escrow. Destination escrows
// are created already bound to the order's receiver.
func (e *Escrow) Claim(taker string) error {
	if e.side != SideSource {
		return ErrWrongCaller
	}
	if e.state != StateCreated {
		return ErrFinalized
	}
	e.claimedBy = taker
	e.state = StateClaimed
	return nil
}

// Withdraw releases the principal to the rightful party once the private
// withdrawal window is open and the revealed secret matches the hashlock.
func (e *Escrow) Withdraw(caller, secretHex string, now time.Time) (*Payout, error) {
	if e.state.Terminal() {
		return nil, ErrFinalized
	}
	if !e.imm.Timelocks.opened(e.imm.Timelocks.Withdrawal, e.imm.CreatedAt, now) {
		return nil, ErrTooEarly
	}

	recipient, err := e.withdrawRecipient(caller)
	if err != nil {
		return nil, err
	}
	if !secret.Verify(secretHex, e.imm.Hashlock) {
		return nil, ErrWrongSecret
	}

	e.state = StateWithdrawn
	return &Payout{Principal: e.imm.Amount, PrincipalTo: recipient}, nil
}

// PublicWithdraw is Withdraw callable by anyone once the public window opens;
// the caller earns the safety deposit for completing the swap.
func (e *Escrow) PublicWithdraw(caller, secretHex string, now time.Time) (*Payout, error) {
	if e.state.Terminal() {
		return nil, ErrFinalized
	}
	if !e.imm.Timelocks.opened(e.imm.Timelocks.PublicWithdrawal, e.imm.CreatedAt, now) {
		return nil, ErrTooEarly
	}

	recipient, err := e.principalRecipient()
	if err != nil {
		return nil, err
	}
	if !secret.Verify(secretHex, e.imm.Hashlock) {
		return nil, ErrWrongSecret
	}

	e.state = StatePubliclyWithdrawn
	return &Payout{
		Principal:   e.imm.Amount,
		PrincipalTo: recipient,
		Reward:      e.imm.SafetyDeposit,
		RewardTo:    caller,
	}, nil
}

// Cancel returns the principal to the depositor once the cancellation window
// opens. Only the depositor may cancel privately.
func (e *Escrow) Cancel(caller string, now time.Time) (*Payout, error) {
	if e.state.Terminal() {
		return nil, ErrFinalized
	}
	if !e.imm.Timelocks.opened(e.imm.Timelocks.Cancellation, e.imm.CreatedAt, now) {
		return nil, ErrTooEarly
	}
	if !strings.EqualFold(caller, e.imm.Depositor) {
		return nil, ErrWrongCaller
	}

	e.state = StateCancelled
	return &Payout{Principal: e.imm.Amount, PrincipalTo: e.imm.Depositor}, nil
}

// PublicCancel unwinds a source escrow on behalf of a vanished depositor; the
// caller earns the safety deposit. Destination escrows have no such window.
func (e *Escrow) PublicCancel(caller string, now time.Time) (*Payout, error) {
	if e.side != SideSource {
		return nil, ErrWrongCaller
	}
	if e.state.Terminal() {
		return nil, ErrFinalized
	}
	if !e.imm.Timelocks.opened(e.imm.Timelocks.PublicCancellation, e.imm.CreatedAt, now) {
		return nil, ErrTooEarly
	}

	e.state = StatePubliclyCancelled
	return &Payout{
		Principal:   e.imm.Amount,
		PrincipalTo: e.imm.Depositor,
		Reward:      e.imm.SafetyDeposit,
		RewardTo:    caller,
	}, nil
}

func (e *Escrow) withdrawRecipient(caller string) (string, error) {
	switch e.side {
	case SideSource:
		if e.state != StateClaimed || e.claimedBy == "" {
			return "", ErrNotClaimed
		}
		if !strings.EqualFold(caller, e.claimedBy) {
			return "", ErrWrongCaller
		}
		return e.claimedBy, nil
	default:
		if !strings.EqualFold(caller, e.imm.Depositor) {
			return "", ErrWrongCaller
		}
		return e.imm.Recipient, nil
	}
}

func (e *Escrow) principalRecipient() (string, error) {
	if e.side == SideSource {
		if e.state != StateClaimed || e.claimedBy == "" {
			return "", ErrNotClaimed
		}
		return e.claimedBy, nil
	}
	return e.imm.Recipient, nil
}
