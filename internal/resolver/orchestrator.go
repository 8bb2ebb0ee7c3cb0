// Package resolver drives accepted orders through settlement on behalf of the
// liquidity-providing counterparty: fill the source escrow, fund the
// destination escrow, pass the trust gate, then withdraw both sides.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/relayer"
	"github.com/swaplane/swaplane-backend/internal/store"
)

// ErrOrderBusy means another worker currently owns the order.
var ErrOrderBusy = errors.New("order already being executed")

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithSafetyDeposit sets the bonus locked into each destination escrow for
// whoever completes a public-window action.
func WithSafetyDeposit(amount *big.Int) Option {
	return func(o *Orchestrator) {
		o.safetyDeposit = amount
	}
}

// WithMaxConcurrent bounds how many orders execute at once.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = make(chan struct{}, n)
		}
	}
}

// WithMaxAttempts bounds how many times one order's execution is resumed
// before it is parked as failed.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithGateRetry sets how often and how long the orchestrator re-asks the gate
// while escrow confirmations settle.
func WithGateRetry(interval time.Duration, budget int) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.gateInterval = interval
		}
		if budget > 0 {
			o.gateBudget = budget
		}
	}
}

// Orchestrator runs one worker per order, strictly sequential within an
// order, concurrent across orders. A lease keyed by order hash keeps a given
// order from ever being owned by two workers.
type Orchestrator struct {
	store    store.Store
	gate     *relayer.Gate
	registry *chains.Registry
	taker    string
	logger   *zap.SugaredLogger

	safetyDeposit *big.Int
	maxAttempts   int
	gateInterval  time.Duration
	gateBudget    int

	sem chan struct{}

	mu     sync.Mutex
	leases map[string]string // orderHash -> lease id
	wg     sync.WaitGroup
}

func New(st store.Store, gate *relayer.Gate, registry *chains.Registry, taker string, logger *zap.SugaredLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         st,
		gate:          gate,
		registry:      registry,
		taker:         taker,
		logger:        logger,
		safetyDeposit: big.NewInt(0),
		maxAttempts:   5,
		gateInterval:  5 * time.Second,
		gateBudget:    24,
		sem:           make(chan struct{}, 8),
		leases:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start resumes every unfinished execution found in the store. Call once
// during application startup.
func (o *Orchestrator) Start(ctx context.Context) error {
	unfinished, err := o.store.ListUnfinished(ctx, TerminalSteps)
	if err != nil {
		return fmt.Errorf("list unfinished executions: %w", err)
	}
	for _, st := range unfinished {
		o.logger.Infow("Resuming execution", "orderHash", st.OrderHash, "step", st.Step, "attempts", st.Attempts)
		if err := o.launch(ctx, st); err != nil {
			o.logger.Warnw("Failed to resume execution", "orderHash", st.OrderHash, "error", err)
		}
	}
	return nil
}

// Execute begins (or resumes) settlement of one order in the background and
// returns the lease id owning the run.
func (o *Orchestrator) Execute(ctx context.Context, orderHash string) (string, error) {
	if err := order.CheckOrderHash(orderHash); err != nil {
		return "", err
	}

	st, err := o.store.GetExecution(ctx, orderHash)
	if errors.Is(err, order.ErrNotFound) {
		st = &store.ExecutionState{
			OrderHash: orderHash,
			Step:      StepPending,
			Taker:     o.taker,
		}
	} else if err != nil {
		return "", err
	}
	if st.Step == StepCompleted || st.Step == StepFailed {
		return "", fmt.Errorf("execution for %s already finished at %s", orderHash, st.Step)
	}

	if err := o.launch(ctx, st); err != nil {
		return "", err
	}
	return st.LeaseID, nil
}

// Wait blocks until every in-flight worker returns. Used during shutdown and
// in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) launch(ctx context.Context, st *store.ExecutionState) error {
	leaseID := uuid.NewString()

	o.mu.Lock()
	if _, held := o.leases[st.OrderHash]; held {
		o.mu.Unlock()
		return ErrOrderBusy
	}
	o.leases[st.OrderHash] = leaseID
	o.mu.Unlock()

	st.LeaseID = leaseID

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.leases, st.OrderHash)
			o.mu.Unlock()
		}()

		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			return
		}

		if err := o.run(ctx, st); err != nil {
			o.logger.Errorw("Execution halted", "orderHash", st.OrderHash, "step", st.Step, "error", err)
		}
	}()
	return nil
}

// run advances one order step by step, checkpointing after each on-chain
// action. Any error stops the run; the checkpoint row keeps it resumable.
func (o *Orchestrator) run(ctx context.Context, st *store.ExecutionState) error {
	rec, err := o.store.GetOrder(ctx, st.OrderHash)
	if err != nil {
		return o.halt(ctx, st, err)
	}

	// The secret lives only in this frame. It is never checkpointed; once the
	// destination withdrawal lands it is public chain data anyway.
	var secretHex string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch st.Step {
		case StepPending:
			exec, err := o.registry.Executor(rec.Order.SrcChainID)
			if err != nil {
				return o.halt(ctx, st, err)
			}
			receipt, err := exec.FillOrder(ctx, rec, o.taker)
			if err != nil {
				return o.halt(ctx, st, fmt.Errorf("fill source order: %w", err))
			}
			st.SrcEscrow = receipt.EscrowAddr
			st.SrcTxHash = receipt.TxHash
			if err := o.checkpoint(ctx, st, StepSourceFilled); err != nil {
				return err
			}
			if err := o.store.SetTaker(ctx, st.OrderHash, o.taker); err != nil {
				o.logger.Warnw("Failed to record taker", "orderHash", st.OrderHash, "error", err)
			}
			o.recordEscrows(ctx, st)

		case StepSourceFilled:
			exec, err := o.registry.Executor(rec.Order.DstChainID)
			if err != nil {
				return o.halt(ctx, st, err)
			}
			receipt, err := exec.CreateEscrow(ctx, rec, o.safetyDeposit)
			if err != nil {
				return o.halt(ctx, st, fmt.Errorf("create destination escrow: %w", err))
			}
			st.DstEscrow = receipt.EscrowAddr
			st.DstTxHash = receipt.TxHash
			if err := o.checkpoint(ctx, st, StepDestCreated); err != nil {
				return err
			}
			o.recordEscrows(ctx, st)

		case StepDestCreated:
			secretHex, err = o.obtainSecret(ctx, rec, st)
			if err != nil {
				return o.halt(ctx, st, err)
			}
			exec, err := o.registry.Executor(rec.Order.DstChainID)
			if err != nil {
				return o.halt(ctx, st, err)
			}
			receipt, err := exec.Withdraw(ctx, st.DstEscrow, secretHex)
			if err != nil {
				return o.halt(ctx, st, fmt.Errorf("withdraw destination escrow: %w", err))
			}
			st.DstTxHash = receipt.TxHash
			if err := o.checkpoint(ctx, st, StepDstWithdrawn); err != nil {
				return err
			}

		case StepDstWithdrawn:
			if secretHex == "" {
				// Resumed run: the destination withdrawal already revealed the
				// secret on-chain, so read it back from the escrow's events.
				secretHex, err = o.secretFromEvents(ctx, rec.Order.DstChainID, st.DstEscrow)
				if err != nil {
					return o.halt(ctx, st, err)
				}
				// The gate may never have released for this order. The secret
				// is public on-chain now, so record it and close the order;
				// a conflict means the gate got there first.
				if err := o.store.CompleteWithSecret(ctx, st.OrderHash, secretHex); err != nil && !errors.Is(err, order.ErrStatusConflict) {
					o.logger.Warnw("Failed to record recovered secret", "orderHash", st.OrderHash, "error", err)
				}
			}
			exec, err := o.registry.Executor(rec.Order.SrcChainID)
			if err != nil {
				return o.halt(ctx, st, err)
			}
			receipt, err := exec.Withdraw(ctx, st.SrcEscrow, secretHex)
			if err != nil {
				return o.halt(ctx, st, fmt.Errorf("withdraw source escrow: %w", err))
			}
			st.SrcTxHash = receipt.TxHash
			if err := o.checkpoint(ctx, st, StepCompleted); err != nil {
				return err
			}

		case StepCompleted:
			o.logger.Infow("Order settled",
				"orderHash", st.OrderHash,
				"srcEscrow", st.SrcEscrow,
				"dstEscrow", st.DstEscrow,
			)
			return nil

		case StepFailed:
			return fmt.Errorf("execution for %s is parked as failed: %s", st.OrderHash, st.LastError)

		default:
			return o.halt(ctx, st, fmt.Errorf("unknown execution step %q", st.Step))
		}
	}
}

// obtainSecret asks the gate, retrying while confirmations settle. When the
// gate reports the order already completed (a resumed run that lost its
// in-memory secret after release), it falls back to the destination escrow's
// events before giving up.
func (o *Orchestrator) obtainSecret(ctx context.Context, rec *order.Record, st *store.ExecutionState) (string, error) {
	req := relayer.SecretRequest{
		OrderHash:     st.OrderHash,
		SrcEscrowAddr: st.SrcEscrow,
		DstEscrowAddr: st.DstEscrow,
		SrcChainID:    rec.Order.SrcChainID,
		DstChainID:    rec.Order.DstChainID,
	}

	var gateErr *relayer.GateError
	for attempt := 0; attempt < o.gateBudget; attempt++ {
		resp, err := o.gate.RequestSecret(ctx, req)
		if err == nil {
			return resp.Secret, nil
		}
		if errors.Is(err, relayer.ErrAlreadyCompleted) {
			secret, evErr := o.secretFromEvents(ctx, rec.Order.DstChainID, st.DstEscrow)
			if evErr != nil {
				return "", fmt.Errorf("order completed but secret unrecoverable: %w", err)
			}
			return secret, nil
		}
		if !errors.As(err, &gateErr) {
			return "", err
		}

		// Escrow not confirmed-funded yet; wait a beat and ask again.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.gateInterval):
		}
	}
	return "", fmt.Errorf("gate refused after %d attempts: %w", o.gateBudget, gateErr)
}

func (o *Orchestrator) secretFromEvents(ctx context.Context, chainID order.ChainID, escrowAddr string) (string, error) {
	adapter, err := o.registry.Adapter(chainID)
	if err != nil {
		return "", err
	}
	events, err := adapter.EscrowEvents(ctx, escrowAddr)
	if err != nil {
		return "", fmt.Errorf("read escrow events: %w", err)
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Secret != "" {
			return events[i].Secret, nil
		}
	}
	return "", fmt.Errorf("no revealed secret in events of escrow %s", escrowAddr)
}

func (o *Orchestrator) checkpoint(ctx context.Context, st *store.ExecutionState, step string) error {
	st.Step = step
	st.LastError = ""
	if err := o.store.SaveExecution(ctx, st); err != nil {
		// The on-chain action already happened; losing the checkpoint is the
		// one failure that genuinely needs operator eyes.
		o.logger.Errorw("CHECKPOINT LOST after on-chain action",
			"orderHash", st.OrderHash, "step", step, "error", err)
		return fmt.Errorf("persist checkpoint %s: %w", step, err)
	}
	o.logger.Infow("Execution advanced", "orderHash", st.OrderHash, "step", step)
	return nil
}

// halt records the failure on the checkpoint row. The step itself is left
// unchanged so a later resume retries the same action, until the attempt
// budget parks the order as failed.
func (o *Orchestrator) halt(ctx context.Context, st *store.ExecutionState, cause error) error {
	st.Attempts++
	st.LastError = cause.Error()
	if st.Attempts >= o.maxAttempts {
		st.Step = StepFailed
	}
	if err := o.store.SaveExecution(ctx, st); err != nil {
		o.logger.Errorw("Failed to record execution failure", "orderHash", st.OrderHash, "error", err)
	}
	return cause
}

func (o *Orchestrator) recordEscrows(ctx context.Context, st *store.ExecutionState) {
	if err := o.store.SetEscrows(ctx, st.OrderHash, st.SrcEscrow, st.DstEscrow); err != nil {
		o.logger.Warnw("Failed to record escrow addresses", "orderHash", st.OrderHash, "error", err)
	}
}
