package relayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/secret"
	"github.com/swaplane/swaplane-backend/internal/store"
	"github.com/swaplane/swaplane-backend/internal/util"
)

// Gate decides when the swap secret may be disclosed. It refuses until both
// escrows are independently confirmed funded and parameter-matched, and it
// releases at most once per order: the Active→Completed transition and the
// disclosure are one atomic step against the order store.
type Gate struct {
	store    store.OrderStore
	cache    *store.Cache
	registry *chains.Registry
	keeper   *secret.Keeper
	logger   *zap.SugaredLogger

	// inflight collapses concurrent validations of the same escrow into one
	// adapter call.
	inflight util.Group
}

func NewGate(st store.OrderStore, cache *store.Cache, registry *chains.Registry, keeper *secret.Keeper, logger *zap.SugaredLogger) *Gate {
	return &Gate{
		store:    st,
		cache:    cache,
		registry: registry,
		keeper:   keeper,
		logger:   logger,
	}
}

// SecretRequest names the order and the two escrows the requester claims are
// funded. Chain ids are explicit so the gate validates exactly what the
// requester points at, not what the record happens to hold.
type SecretRequest struct {
	OrderHash     string        `json:"orderHash"`
	SrcEscrowAddr string        `json:"srcEscrowAddress"`
	DstEscrowAddr string        `json:"dstEscrowAddress"`
	SrcChainID    order.ChainID `json:"srcChainId"`
	DstChainID    order.ChainID `json:"dstChainId"`
}

// SecretResponse is a successful release.
type SecretResponse struct {
	OrderHash     string                  `json:"orderHash"`
	Secret        string                  `json:"secret"`
	SrcValidation escrow.ValidationResult `json:"srcValidation"`
	DstValidation escrow.ValidationResult `json:"dstValidation"`
	ReleasedAt    time.Time               `json:"releasedAt"`
}

// RequestSecret runs the trust gate for one order.
//
// Concurrent requests race on the store's compare-and-set: exactly one wins
// the Active→Completed transition and receives the secret; every other
// request gets a conflict and must not proceed with any secret it may have
// seen elsewhere.
func (g *Gate) RequestSecret(ctx context.Context, req SecretRequest) (*SecretResponse, error) {
	if err := order.CheckOrderHash(req.OrderHash); err != nil {
		return nil, err
	}
	if req.SrcEscrowAddr == "" || req.DstEscrowAddr == "" {
		return nil, fmt.Errorf("%w: both escrow addresses are required", order.ErrInvalidRequest)
	}

	rec, err := g.store.GetOrder(ctx, req.OrderHash)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case order.StatusActive:
	case order.StatusCompleted:
		return nil, ErrAlreadyCompleted
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotActive, rec.Status)
	}
	if rec.Secret == "" {
		return nil, ErrSecretMissing
	}

	srcRes := g.validate(ctx, req.SrcChainID, req.SrcEscrowAddr, rec)
	dstRes := g.validate(ctx, req.DstChainID, req.DstEscrowAddr, rec)
	if !srcRes.Valid || !dstRes.Valid {
		g.logger.Warnw("Secret release refused",
			"orderHash", req.OrderHash,
			"srcValid", srcRes.Valid, "srcError", srcRes.Error,
			"dstValid", dstRes.Valid, "dstError", dstRes.Error,
		)
		return nil, &GateError{Src: srcRes, Dst: dstRes}
	}

	plain, err := g.keeper.Open(rec.Secret)
	if err != nil {
		return nil, fmt.Errorf("unseal stored secret: %w", err)
	}
	// The stored secret is never trusted blindly, even against our own row.
	if !secret.Verify(plain, rec.Order.Hashlock) {
		return nil, fmt.Errorf("stored secret does not match order hashlock for %s", req.OrderHash)
	}

	if err := g.store.SetStatus(ctx, req.OrderHash, order.StatusActive, order.StatusCompleted); err != nil {
		if errors.Is(err, order.ErrStatusConflict) {
			// Lost the race. The winner got the secret; this caller gets a
			// conflict, never a second disclosure.
			return nil, fmt.Errorf("%w: %v", ErrAlreadyCompleted, err)
		}
		return nil, err
	}

	// Escrow addresses from a successful release are worth keeping: the
	// record may predate their discovery.
	if err := g.store.SetEscrows(ctx, req.OrderHash, req.SrcEscrowAddr, req.DstEscrowAddr); err != nil {
		g.logger.Warnw("Failed to record escrow addresses", "orderHash", req.OrderHash, "error", err)
	}

	g.publish(ctx, store.OrderEvent{
		OrderHash: req.OrderHash,
		Status:    order.StatusCompleted,
		Taker:     rec.Taker,
		Timestamp: time.Now().UTC(),
	})

	g.logger.Infow("Secret released",
		"orderHash", req.OrderHash,
		"srcChain", req.SrcChainID,
		"dstChain", req.DstChainID,
	)

	return &SecretResponse{
		OrderHash:     req.OrderHash,
		Secret:        plain,
		SrcValidation: srcRes,
		DstValidation: dstRes,
		ReleasedAt:    time.Now().UTC(),
	}, nil
}

// validate checks one escrow through its chain adapter, reusing a recent
// cached verdict for the same (chain, escrow) pair. Adapter trouble becomes an
// invalid result, never a panic or a crash of the request.
func (g *Gate) validate(ctx context.Context, chainID order.ChainID, escrowAddr string, rec *order.Record) escrow.ValidationResult {
	if g.cache != nil {
		if cached, err := g.cache.GetValidation(ctx, chainID, escrowAddr); err == nil && cached.Valid {
			return *cached
		}
	}

	key := string(chainID) + ":" + escrowAddr
	v, err, _ := g.inflight.Do(key, func() (interface{}, error) {
		adapter, err := g.registry.Adapter(chainID)
		if err != nil {
			return escrow.Invalid(chainID, escrowAddr, err.Error()), nil
		}
		result := adapter.ValidateEscrow(ctx, escrowAddr, rec)

		if g.cache != nil {
			if err := g.cache.SetValidation(ctx, result); err != nil {
				g.logger.Warnw("Failed to cache validation", "chain", chainID, "escrow", escrowAddr, "error", err)
			}
		}
		return result, nil
	})
	if err != nil {
		return escrow.Invalid(chainID, escrowAddr, err.Error())
	}
	return v.(escrow.ValidationResult)
}

func (g *Gate) publish(ctx context.Context, evt store.OrderEvent) {
	if g.cache == nil {
		return
	}
	if err := g.cache.PublishOrderEvent(ctx, evt); err != nil {
		g.logger.Warnw("Failed to publish order event", "orderHash", evt.OrderHash, "error", err)
	}
}
