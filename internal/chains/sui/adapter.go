// Package sui implements the chain adapter for Sui-based escrows. The escrow
// lives as a shared Move object created by the configured package; reads go
// through GetObject with BCS decoding, writes through programmable
// transaction blocks signed by the resolver's key.
package sui

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/fardream/go-bcs/bcs"
	"github.com/pattonkan/sui-go/sui"
	"github.com/pattonkan/sui-go/sui/movebcs"
	"github.com/pattonkan/sui-go/suiclient"
	"github.com/pattonkan/sui-go/suisigner"
	"github.com/pattonkan/sui-go/suisigner/suicrypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
)

const escrowModule = "escrow"

// moveEscrow mirrors the on-chain escrow::Escrow struct, BCS field order
// included.
type moveEscrow struct {
	Id            *sui.ObjectId
	OrderHash     []byte
	Hashlock      []byte
	Depositor     *sui.Address
	Recipient     *sui.Address
	Balance       *movebcs.MoveBalance
	SafetyDeposit uint64
	CreatedAtMs   uint64
}

// Adapter reads and validates escrows on one Sui network. It keeps a journal
// of escrow events fed by a websocket subscription so that EscrowEvents can
// answer without a historical query.
type Adapter struct {
	cfg       chains.Config
	client    *suiclient.ClientImpl
	packageId *sui.PackageId
	signer    *suisigner.Signer
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	journal map[string][]chains.Event // escrow object id -> events, oldest first
}

// New returns an uninitialized adapter.
func New(logger *zap.SugaredLogger) *Adapter {
	return &Adapter{
		logger:  logger,
		journal: make(map[string][]chains.Event),
	}
}

// Factory is the registry constructor for the "sui" kind. Configuration is
// applied later in Initialize.
func Factory(cfg chains.Config, logger *zap.SugaredLogger) (chains.Adapter, error) {
	return New(logger), nil
}

func (a *Adapter) Initialize(ctx context.Context, cfg chains.Config) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("chain %s: missing rpc endpoint", cfg.ChainID)
	}
	pkg, err := sui.PackageIdFromHex(cfg.EscrowFactory)
	if err != nil {
		return fmt.Errorf("chain %s: invalid escrow package id %q: %w", cfg.ChainID, cfg.EscrowFactory, err)
	}

	a.cfg = cfg
	a.packageId = pkg
	a.client = suiclient.NewClient(cfg.Endpoint)

	if cfg.Mnemonic != "" {
		signer, err := suisigner.NewSignerWithMnemonic(cfg.Mnemonic, suicrypto.KeySchemeFlagEd25519)
		if err != nil {
			return fmt.Errorf("chain %s: derive signer: %w", cfg.ChainID, err)
		}
		a.signer = signer
	}

	if cfg.WsEndpoint != "" {
		if err := a.subscribeEvents(ctx, cfg.WsEndpoint); err != nil {
			return err
		}
	} else {
		a.logger.Warnw("No websocket endpoint, escrow event journal disabled", "chain", cfg.ChainID)
	}

	if !a.Healthy(ctx) {
		return fmt.Errorf("chain %s: endpoint %s not reachable", cfg.ChainID, cfg.Endpoint)
	}
	return nil
}

func (a *Adapter) ValidateEscrow(ctx context.Context, address string, rec *order.Record) escrow.ValidationResult {
	obj, err := a.fetchEscrow(ctx, address)
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, err.Error())
	}

	wantHash, err := hexBytes(rec.OrderHash)
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("stored order hash unreadable: %v", err))
	}
	if !bytes.Equal(obj.OrderHash, wantHash) {
		return escrow.Invalid(a.cfg.ChainID, address, "escrow order hash does not match order")
	}

	wantLock, err := hexBytes(rec.Order.Hashlock)
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("stored hashlock unreadable: %v", err))
	}
	if !bytes.Equal(obj.Hashlock, wantLock) {
		return escrow.Invalid(a.cfg.ChainID, address, "escrow hashlock does not match order")
	}

	// Sui only serves as the taker-side leg, so the escrow must hold the
	// taking amount for the order's receiver.
	if obj.Recipient == nil || !strings.EqualFold(obj.Recipient.String(), rec.Order.Receiver) {
		return escrow.Invalid(a.cfg.ChainID, address, "escrow recipient does not match order receiver")
	}

	balance := decimal.NewFromBigInt(new(big.Int).SetUint64(obj.Balance.Value), 0)
	want := decimal.NewFromBigInt(rec.Order.TakingAmount, 0)
	if balance.LessThan(want) {
		return escrow.ValidationResult{
			Valid:         false,
			Balance:       balance,
			ChainID:       a.cfg.ChainID,
			EscrowAddress: address,
			Error:         fmt.Sprintf("escrow underfunded: holds %s, order requires %s", balance, want),
		}
	}

	return escrow.ValidationResult{
		Valid:         true,
		Balance:       balance,
		ChainID:       a.cfg.ChainID,
		EscrowAddress: address,
	}
}

func (a *Adapter) EscrowBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	obj, err := a.fetchEscrow(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(obj.Balance.Value), 0), nil
}

func (a *Adapter) VerifyEscrowParameters(ctx context.Context, address string, expected escrow.Immutables) (bool, error) {
	obj, err := a.fetchEscrow(ctx, address)
	if err != nil {
		return false, err
	}

	wantHash, err := hexBytes(expected.OrderHash)
	if err != nil {
		return false, fmt.Errorf("expected order hash unreadable: %w", err)
	}
	wantLock, err := hexBytes(expected.Hashlock)
	if err != nil {
		return false, fmt.Errorf("expected hashlock unreadable: %w", err)
	}

	switch {
	case !bytes.Equal(obj.OrderHash, wantHash):
		return false, nil
	case !bytes.Equal(obj.Hashlock, wantLock):
		return false, nil
	case obj.Depositor == nil || !strings.EqualFold(obj.Depositor.String(), expected.Depositor):
		return false, nil
	case obj.Recipient == nil || !strings.EqualFold(obj.Recipient.String(), expected.Recipient):
		return false, nil
	case expected.Amount != nil && decimal.NewFromBigInt(new(big.Int).SetUint64(obj.Balance.Value), 0).Cmp(decimal.NewFromBigInt(expected.Amount, 0)) < 0:
		return false, nil
	}
	return true, nil
}

// EscrowEvents returns the journaled events for one escrow, oldest first. The
// journal only covers events observed since Initialize; escrows created before
// the relayer started report what has happened since.
func (a *Adapter) EscrowEvents(ctx context.Context, address string) ([]chains.Event, error) {
	id, err := sui.ObjectIdFromHex(address)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow object id %q: %w", address, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	evts := a.journal[id.String()]
	out := make([]chains.Event, len(evts))
	copy(out, evts)
	return out, nil
}

func (a *Adapter) Healthy(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	_, err := chains.WithRetry(ctx, a.cfg, func(ctx context.Context) (struct{}, error) {
		_, err := a.client.GetObject(ctx, &suiclient.GetObjectRequest{
			ObjectId: (*sui.ObjectId)(a.packageId),
		})
		return struct{}{}, err
	})
	if err != nil {
		a.logger.Warnw("Sui endpoint probe failed", "chain", a.cfg.ChainID, "error", err)
		return false
	}
	return true
}

func (a *Adapter) fetchEscrow(ctx context.Context, address string) (*moveEscrow, error) {
	id, err := sui.ObjectIdFromHex(address)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow object id %q: %w", address, err)
	}
	return chains.WithRetry(ctx, a.cfg, func(ctx context.Context) (*moveEscrow, error) {
		res, err := a.client.GetObject(ctx, &suiclient.GetObjectRequest{
			ObjectId: id,
			Options: &suiclient.SuiObjectDataOptions{
				ShowBcs:   true,
				ShowOwner: true,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("get escrow object %s: %w", address, err)
		}
		if res.Data == nil || res.Data.Bcs == nil || res.Data.Bcs.Data.MoveObject == nil {
			return nil, fmt.Errorf("no escrow object at %s", address)
		}

		var obj moveEscrow
		if _, err := bcs.Unmarshal(res.Data.Bcs.Data.MoveObject.BcsBytes, &obj); err != nil {
			return nil, fmt.Errorf("decode escrow object %s: %w", address, err)
		}
		if obj.Balance == nil {
			return nil, fmt.Errorf("escrow object %s has no balance field", address)
		}
		return &obj, nil
	})
}

// subscribeEvents opens the websocket and tails the package's escrow events
// into the journal for the adapter's lifetime.
func (a *Adapter) subscribeEvents(ctx context.Context, wsURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connect sui websocket %s: %v", wsURL, r)
		}
	}()
	a.client.WithWebsocket(context.Background(), wsURL)

	names := []string{"EscrowCreated", "EscrowWithdrawal", "EscrowCancelled"}
	filters := make([]suiclient.EventFilter, 0, len(names))
	for _, name := range names {
		tag, err := sui.StructTagFromString(fmt.Sprintf("%s::%s::%s", a.packageId, escrowModule, name))
		if err != nil {
			return fmt.Errorf("parse event type %s: %w", name, err)
		}
		filters = append(filters, suiclient.EventFilter{MoveEventType: tag})
	}

	ch := make(chan suiclient.Event, 32)
	if err := a.client.SubscribeEvent(ctx, &suiclient.EventFilter{Any: &filters}, ch); err != nil {
		return fmt.Errorf("subscribe escrow events: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				a.record(evt)
			}
		}
	}()
	return nil
}

// escrowEventPayload is the ParsedJson shape shared by the three escrow
// events.
type escrowEventPayload struct {
	EscrowId  string `json:"escrow_id"`
	OrderHash string `json:"order_hash"`
	Secret    string `json:"secret"`
}

func (a *Adapter) record(evt suiclient.Event) {
	if evt.Type == nil {
		return
	}
	raw, err := json.Marshal(evt.ParsedJson)
	if err != nil {
		a.logger.Warnw("Escrow event payload not marshalable", "eventType", evt.Type, "error", err)
		return
	}
	var payload escrowEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.EscrowId == "" {
		a.logger.Warnw("Escrow event payload malformed", "eventType", evt.Type, "error", err)
		return
	}
	id, err := sui.ObjectIdFromHex(payload.EscrowId)
	if err != nil {
		a.logger.Warnw("Escrow event carries bad escrow id", "escrowId", payload.EscrowId, "error", err)
		return
	}

	out := chains.Event{
		Type:       evt.Type.Name,
		OrderHash:  payload.OrderHash,
		EscrowAddr: id.String(),
		TxHash:     evt.Id.TxDigest.String(),
		Secret:     payload.Secret,
		Timestamp:  time.Now().UTC(),
	}

	a.mu.Lock()
	a.journal[id.String()] = append(a.journal[id.String()], out)
	a.mu.Unlock()
}

func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
}
