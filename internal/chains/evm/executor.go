package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/order"
)

var _ chains.Executor = (*Adapter)(nil)

// FillOrder locks the maker's funds into a new source escrow via the factory.
// Blocks until the configured confirmation depth.
func (a *Adapter) FillOrder(ctx context.Context, rec *order.Record, taker string) (*chains.TxReceipt, error) {
	if a.txOpts == nil {
		return nil, fmt.Errorf("chain %s: no signing key configured", a.cfg.ChainID)
	}

	ord := &rec.Order
	sig, err := hexutil.Decode(rec.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	tx, err := a.transact(ctx, a.factoryContract(), "fillOrder",
		toBytes32(rec.OrderHash),
		common.HexToAddress(ord.Maker),
		common.HexToAddress(ord.MakerAsset),
		ord.MakingAmount,
		toBytes32(ord.Hashlock),
		sig,
		[]byte(rec.Extension),
	)
	if err != nil {
		return nil, fmt.Errorf("fill order: %w", err)
	}

	receipt, err := a.waitConfirmed(ctx, tx)
	if err != nil {
		return nil, err
	}

	escrowAddr, err := a.escrowFromReceipt(receipt)
	if err != nil {
		return nil, err
	}
	return &chains.TxReceipt{
		TxHash:      tx.Hash().Hex(),
		EscrowAddr:  escrowAddr,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// CreateEscrow deploys and funds a destination escrow for the order receiver.
func (a *Adapter) CreateEscrow(ctx context.Context, rec *order.Record, safetyDeposit *big.Int) (*chains.TxReceipt, error) {
	if a.txOpts == nil {
		return nil, fmt.Errorf("chain %s: no signing key configured", a.cfg.ChainID)
	}

	ord := &rec.Order
	if safetyDeposit == nil {
		safetyDeposit = big.NewInt(0)
	}

	token := common.Address{}
	if common.IsHexAddress(ord.TakerAsset) {
		token = common.HexToAddress(ord.TakerAsset)
	}

	tx, err := a.transact(ctx, a.factoryContract(), "createDstEscrow",
		toBytes32(rec.OrderHash),
		token,
		ord.TakingAmount,
		toBytes32(ord.Hashlock),
		common.HexToAddress(ord.Receiver),
		safetyDeposit,
	)
	if err != nil {
		return nil, fmt.Errorf("create destination escrow: %w", err)
	}

	receipt, err := a.waitConfirmed(ctx, tx)
	if err != nil {
		return nil, err
	}

	escrowAddr, err := a.escrowFromReceipt(receipt)
	if err != nil {
		return nil, err
	}
	return &chains.TxReceipt{
		TxHash:      tx.Hash().Hex(),
		EscrowAddr:  escrowAddr,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// Withdraw reveals the secret to the escrow and collects the principal.
func (a *Adapter) Withdraw(ctx context.Context, address, secretHex string) (*chains.TxReceipt, error) {
	if a.txOpts == nil {
		return nil, fmt.Errorf("chain %s: no signing key configured", a.cfg.ChainID)
	}

	tx, err := a.transact(ctx, a.escrowContract(common.HexToAddress(address)), "withdraw", toBytes32(secretHex))
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	receipt, err := a.waitConfirmed(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &chains.TxReceipt{
		TxHash:      tx.Hash().Hex(),
		EscrowAddr:  address,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// Cancel triggers the escrow's cancellation path.
func (a *Adapter) Cancel(ctx context.Context, address string) (*chains.TxReceipt, error) {
	if a.txOpts == nil {
		return nil, fmt.Errorf("chain %s: no signing key configured", a.cfg.ChainID)
	}

	tx, err := a.transact(ctx, a.escrowContract(common.HexToAddress(address)), "cancel")
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	receipt, err := a.waitConfirmed(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &chains.TxReceipt{
		TxHash:      tx.Hash().Hex(),
		EscrowAddr:  address,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func (a *Adapter) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (*types.Transaction, error) {
	opts := *a.txOpts
	opts.Context = ctx
	return contract.Transact(&opts, method, args...)
}

// waitConfirmed blocks until the transaction is mined and buried under the
// configured confirmation count. This is the dominant latency of every
// resolver step, so it polls at the chain's block time.
func (a *Adapter) waitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, a.client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}

	interval := a.cfg.BlockTime
	if interval <= 0 {
		interval = time.Second
	}
	for {
		head, err := a.client.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("head block: %w", err)
		}
		if head >= receipt.BlockNumber.Uint64()+a.cfg.Confirmations {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// escrowFromReceipt pulls the created escrow address out of the factory's
// EscrowCreated event.
func (a *Adapter) escrowFromReceipt(receipt *types.Receipt) (string, error) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 {
			continue
		}
		ev, err := a.factoryABI.EventByID(lg.Topics[0])
		if err != nil || ev.Name != "EscrowCreated" {
			continue
		}
		decoded := map[string]interface{}{}
		if err := a.factoryABI.UnpackIntoMap(decoded, ev.Name, lg.Data); err != nil {
			return "", fmt.Errorf("decode EscrowCreated: %w", err)
		}
		if addr, ok := decoded["escrow"].(common.Address); ok {
			return addr.Hex(), nil
		}
	}
	return "", fmt.Errorf("no EscrowCreated event in receipt %s", receipt.TxHash.Hex())
}

func toBytes32(hex string) [32]byte {
	var out [32]byte
	copy(out[:], common.FromHex(hex))
	return out
}
