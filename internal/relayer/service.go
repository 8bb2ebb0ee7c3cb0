// Package relayer holds the order intake service and the secret distribution
// gate: the trust boundary between makers who sign swap terms and resolvers
// who fund escrows against them.
package relayer

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/secret"
	"github.com/swaplane/swaplane-backend/internal/store"
)

// Service owns the order lifecycle outside the gate: intake, queries, and
// explicit status transitions.
type Service struct {
	store     store.OrderStore
	cache     *store.Cache
	validator *order.Validator
	domain    order.Domain
	keeper    *secret.Keeper
	logger    *zap.SugaredLogger
}

func NewService(st store.OrderStore, cache *store.Cache, validator *order.Validator, domain order.Domain, keeper *secret.Keeper, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:     st,
		cache:     cache,
		validator: validator,
		domain:    domain,
		keeper:    keeper,
		logger:    logger,
	}
}

// OrderData is a canonical order ready for the maker's signature. The secret
// is returned to the maker and not retained; the maker hands it back through
// CreateCompleteOrder once signed.
type OrderData struct {
	Order      order.Order `json:"order"`
	OrderHash  string      `json:"orderHash"`
	Secret     string      `json:"secret"`
	SecretHash string      `json:"secretHash"`
}

// GenerateOrderData fills in a fresh hashlock and salt for unsigned terms and
// returns the order hash the maker will sign over.
func (s *Service) GenerateOrderData(ctx context.Context, o order.Order) (*OrderData, error) {
	plain, err := secret.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	hashlock, err := secret.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	salt, err := randomSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	o.Hashlock = hashlock
	o.Salt = salt

	orderHash, err := order.Hash(&o, s.domain)
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}

	return &OrderData{
		Order:      o,
		OrderHash:  orderHash,
		Secret:     plain,
		SecretHash: hashlock,
	}, nil
}

// CreateOrder validates a signed order and persists it as Active. The secret
// arrives later, or not at all if the maker keeps it until settlement.
func (s *Service) CreateOrder(ctx context.Context, o order.Order, signature string) (*order.Record, error) {
	canonical, orderHash, err := s.validator.Validate(o, signature)
	if err != nil {
		return nil, err
	}

	rec := &order.Record{
		OrderHash: orderHash,
		Order:     *canonical,
		Status:    order.StatusActive,
		Signature: signature,
	}
	if err := s.store.CreateOrder(ctx, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, store.OrderEvent{
		OrderHash: orderHash,
		Status:    order.StatusActive,
		Timestamp: time.Now().UTC(),
	})
	s.logger.Infow("Order created",
		"orderHash", orderHash,
		"maker", canonical.Maker,
		"srcChain", canonical.SrcChainID,
		"dstChain", canonical.DstChainID,
	)
	return s.store.GetOrder(ctx, orderHash)
}

// CreateCompleteOrder is CreateOrder plus the maker-supplied secret. The
// secret must hash to both the submitted secretHash and the order's hashlock
// before anything is stored.
func (s *Service) CreateCompleteOrder(ctx context.Context, o order.Order, extension json.RawMessage, signature, secretHex, secretHash string) (*order.Record, error) {
	canonical, orderHash, err := s.validator.Validate(o, signature)
	if err != nil {
		return nil, err
	}

	if !secret.Verify(secretHex, secretHash) {
		return nil, fmt.Errorf("%w: secret does not hash to secretHash", order.ErrInvalidRequest)
	}
	if !strings.EqualFold(secretHash, canonical.Hashlock) {
		return nil, fmt.Errorf("%w: secretHash does not match order hashlock", order.ErrInvalidRequest)
	}

	sealed, err := s.keeper.Seal(secretHex)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	rec := &order.Record{
		OrderHash: orderHash,
		Order:     *canonical,
		Status:    order.StatusActive,
		Secret:    sealed,
		Extension: extension,
		Signature: signature,
	}
	if err := s.store.CreateOrder(ctx, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, store.OrderEvent{
		OrderHash: orderHash,
		Status:    order.StatusActive,
		Timestamp: time.Now().UTC(),
	})
	s.logger.Infow("Complete order created", "orderHash", orderHash, "maker", canonical.Maker)
	return s.store.GetOrder(ctx, orderHash)
}

func (s *Service) GetOrder(ctx context.Context, orderHash string) (*order.Record, error) {
	if err := order.CheckOrderHash(orderHash); err != nil {
		return nil, err
	}
	return s.store.GetOrder(ctx, orderHash)
}

func (s *Service) ListOrders(ctx context.Context, f store.OrderFilter) (*store.Page, error) {
	return s.store.ListOrders(ctx, f)
}

// UpdateStatus applies an explicit transition. The reason is logged, not
// stored; the audit trail is the chain.
func (s *Service) UpdateStatus(ctx context.Context, orderHash string, to order.Status, reason string) (*order.Record, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", order.ErrInvalidRequest, to)
	}
	rec, err := s.GetOrder(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetStatus(ctx, orderHash, rec.Status, to); err != nil {
		return nil, err
	}

	s.publish(ctx, store.OrderEvent{
		OrderHash: orderHash,
		Status:    to,
		Taker:     rec.Taker,
		Timestamp: time.Now().UTC(),
	})
	s.logger.Infow("Order status updated",
		"orderHash", orderHash,
		"from", rec.Status,
		"to", to,
		"reason", reason,
	)
	return s.store.GetOrder(ctx, orderHash)
}

func (s *Service) publish(ctx context.Context, evt store.OrderEvent) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PublishOrderEvent(ctx, evt); err != nil {
		s.logger.Warnw("Failed to publish order event", "orderHash", evt.OrderHash, "error", err)
	}
}

// randomSalt draws a uniform nonzero 256-bit salt.
func randomSalt() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	for {
		salt, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, err
		}
		if salt.Sign() > 0 {
			return salt, nil
		}
	}
}
