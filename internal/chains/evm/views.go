package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/swaplane/swaplane-backend/internal/chains"
)

func (a *Adapter) escrowContract(addr common.Address) *bind.BoundContract {
	return bind.NewBoundContract(addr, a.escrowABI, a.client, a.client, a.client)
}

func (a *Adapter) factoryContract() *bind.BoundContract {
	return bind.NewBoundContract(a.factory, a.factoryABI, a.client, a.client, a.client)
}

func (a *Adapter) viewBytes32(ctx context.Context, addr common.Address, method string) ([32]byte, error) {
	return chains.WithRetry(ctx, a.cfg, func(ctx context.Context) ([32]byte, error) {
		var out []interface{}
		if err := a.escrowContract(addr).Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
			return [32]byte{}, err
		}
		return out[0].([32]byte), nil
	})
}

func (a *Adapter) viewAddress(ctx context.Context, addr common.Address, method string) (common.Address, error) {
	return chains.WithRetry(ctx, a.cfg, func(ctx context.Context) (common.Address, error) {
		var out []interface{}
		if err := a.escrowContract(addr).Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
			return common.Address{}, err
		}
		return out[0].(common.Address), nil
	})
}

func (a *Adapter) viewUint256(ctx context.Context, addr common.Address, method string) (*big.Int, error) {
	return chains.WithRetry(ctx, a.cfg, func(ctx context.Context) (*big.Int, error) {
		var out []interface{}
		if err := a.escrowContract(addr).Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
			return nil, err
		}
		return out[0].(*big.Int), nil
	})
}

func (a *Adapter) retryBig(ctx context.Context, fn func(ctx context.Context) (*big.Int, error)) (*big.Int, error) {
	return chains.WithRetry(ctx, a.cfg, fn)
}

func (a *Adapter) retryBytes(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return chains.WithRetry(ctx, a.cfg, fn)
}
