// Package evm implements the chain adapter for account-based EVM chains using
// go-ethereum. One adapter instance serves one configured chain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
)

// Adapter talks to one EVM chain's escrow factory and escrows.
type Adapter struct {
	cfg        chains.Config
	client     *ethclient.Client
	escrowABI  abi.ABI
	factoryABI abi.ABI
	erc20      abi.ABI
	factory    common.Address
	chainID    *big.Int
	key        *ecdsa.PrivateKey
	txOpts     *bind.TransactOpts
	logger     *zap.SugaredLogger
}

func New(cfg chains.Config, logger *zap.SugaredLogger) (*Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("evm adapter %s: endpoint is required", cfg.ChainID)
	}
	if !common.IsHexAddress(cfg.EscrowFactory) {
		return nil, fmt.Errorf("evm adapter %s: escrow factory %q is not an address", cfg.ChainID, cfg.EscrowFactory)
	}
	return &Adapter{cfg: cfg, logger: logger}, nil
}

// Factory is the registry constructor for the "evm" kind.
func Factory(cfg chains.Config, logger *zap.SugaredLogger) (chains.Adapter, error) {
	return New(cfg, logger)
}

func (a *Adapter) Initialize(ctx context.Context, cfg chains.Config) error {
	a.cfg = cfg

	cli, err := ethclient.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}
	if cfg.NumericChainID != 0 && chainID.Int64() != cfg.NumericChainID {
		return fmt.Errorf("endpoint reports chain id %d, config says %d", chainID.Int64(), cfg.NumericChainID)
	}

	if a.escrowABI, err = abi.JSON(strings.NewReader(EscrowABI)); err != nil {
		return fmt.Errorf("parse escrow abi: %w", err)
	}
	if a.factoryABI, err = abi.JSON(strings.NewReader(FactoryABI)); err != nil {
		return fmt.Errorf("parse factory abi: %w", err)
	}
	if a.erc20, err = abi.JSON(strings.NewReader(erc20ABI)); err != nil {
		return fmt.Errorf("parse erc20 abi: %w", err)
	}

	a.client = cli
	a.chainID = chainID
	a.factory = common.HexToAddress(cfg.EscrowFactory)

	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}
		txOpts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return fmt.Errorf("transactor: %w", err)
		}
		a.key = key
		a.txOpts = txOpts
	}

	return nil
}

func (a *Adapter) ValidateEscrow(ctx context.Context, address string, rec *order.Record) escrow.ValidationResult {
	ord := &rec.Order
	if !common.IsHexAddress(address) {
		return escrow.Invalid(a.cfg.ChainID, address, "escrow address is not a valid EVM address")
	}
	addr := common.HexToAddress(address)

	code, err := a.retryBytes(ctx, func(ctx context.Context) ([]byte, error) {
		return a.client.CodeAt(ctx, addr, nil)
	})
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("code lookup failed: %v", err))
	}
	if len(code) == 0 {
		return escrow.Invalid(a.cfg.ChainID, address, "no contract deployed at escrow address")
	}

	onchainHash, err := a.viewBytes32(ctx, addr, "orderHash")
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("read orderHash: %v", err))
	}
	onchainLock, err := a.viewBytes32(ctx, addr, "hashlock")
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("read hashlock: %v", err))
	}
	onchainToken, err := a.viewAddress(ctx, addr, "token")
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("read token: %v", err))
	}
	onchainAmount, err := a.viewUint256(ctx, addr, "amount")
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("read amount: %v", err))
	}

	isSource := ord.SrcChainID == a.cfg.ChainID
	expectedAmount := ord.TakingAmount
	expectedAsset := ord.TakerAsset
	if isSource {
		expectedAmount = ord.MakingAmount
		expectedAsset = ord.MakerAsset
	}

	switch {
	case !strings.EqualFold(hexutil.Encode(onchainHash[:]), rec.OrderHash):
		return escrow.Invalid(a.cfg.ChainID, address, "escrow order hash does not match order")
	case !strings.EqualFold(hexutil.Encode(onchainLock[:]), ord.Hashlock):
		return escrow.Invalid(a.cfg.ChainID, address, "escrow hashlock does not match order")
	case common.IsHexAddress(expectedAsset) && onchainToken != common.HexToAddress(expectedAsset):
		return escrow.Invalid(a.cfg.ChainID, address, "escrow token does not match order asset")
	case onchainAmount.Cmp(expectedAmount) != 0:
		return escrow.Invalid(a.cfg.ChainID, address,
			fmt.Sprintf("escrow amount %s does not match order amount %s", onchainAmount, expectedAmount))
	}

	balance, err := a.EscrowBalance(ctx, address)
	if err != nil {
		return escrow.Invalid(a.cfg.ChainID, address, fmt.Sprintf("read balance: %v", err))
	}
	if balance.LessThan(decimal.NewFromBigInt(expectedAmount, 0)) {
		return escrow.ValidationResult{
			Valid:         false,
			Balance:       balance,
			ChainID:       a.cfg.ChainID,
			EscrowAddress: address,
			Error:         "escrow is underfunded",
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
	addr := common.HexToAddress(address)
	token, err := a.viewAddress(ctx, addr, "token")
	if err != nil {
		return decimal.Zero, fmt.Errorf("read token: %w", err)
	}

	if token == (common.Address{}) {
		bal, err := a.retryBig(ctx, func(ctx context.Context) (*big.Int, error) {
			return a.client.BalanceAt(ctx, addr, nil)
		})
		if err != nil {
			return decimal.Zero, fmt.Errorf("native balance: %w", err)
		}
		return decimal.NewFromBigInt(bal, 0), nil
	}

	bound := bind.NewBoundContract(token, a.erc20, a.client, a.client, a.client)
	bal, err := a.retryBig(ctx, func(ctx context.Context) (*big.Int, error) {
		var out []interface{}
		if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", addr); err != nil {
			return nil, err
		}
		return out[0].(*big.Int), nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("token balance: %w", err)
	}
	return decimal.NewFromBigInt(bal, 0), nil
}

func (a *Adapter) VerifyEscrowParameters(ctx context.Context, address string, expected escrow.Immutables) (bool, error) {
	addr := common.HexToAddress(address)

	lock, err := a.viewBytes32(ctx, addr, "hashlock")
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(hexutil.Encode(lock[:]), expected.Hashlock) {
		return false, nil
	}

	amount, err := a.viewUint256(ctx, addr, "amount")
	if err != nil {
		return false, err
	}
	if expected.Amount != nil && amount.Cmp(expected.Amount) != 0 {
		return false, nil
	}

	depositor, err := a.viewAddress(ctx, addr, "depositor")
	if err != nil {
		return false, err
	}
	if expected.Depositor != "" && depositor != common.HexToAddress(expected.Depositor) {
		return false, nil
	}

	return true, nil
}

func (a *Adapter) EscrowEvents(ctx context.Context, address string) ([]chains.Event, error) {
	addr := common.HexToAddress(address)
	logs, err := chains.WithRetry(ctx, a.cfg, func(ctx context.Context) ([]types.Log, error) {
		return a.client.FilterLogs(ctx, ethereum.FilterQuery{Addresses: []common.Address{addr}})
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	events := make([]chains.Event, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		ev, err := a.escrowABI.EventByID(lg.Topics[0])
		if err != nil {
			continue // not an escrow event
		}

		out := chains.Event{
			Type:        ev.Name,
			EscrowAddr:  address,
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
		}
		if ev.Name == "EscrowWithdrawal" {
			decoded := map[string]interface{}{}
			if err := a.escrowABI.UnpackIntoMap(decoded, ev.Name, lg.Data); err == nil {
				if s, ok := decoded["secret"].([32]byte); ok {
					out.Secret = hexutil.Encode(s[:])
				}
			}
		}
		events = append(events, out)
	}
	return events, nil
}

func (a *Adapter) Healthy(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout())
	defer cancel()
	_, err := a.client.BlockNumber(callCtx)
	return err == nil
}

func (a *Adapter) callTimeout() time.Duration {
	if a.cfg.CallTimeout > 0 {
		return a.cfg.CallTimeout
	}
	return 10 * time.Second
}
