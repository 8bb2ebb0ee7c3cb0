package sui

import (
	"context"
	"fmt"
	"math/big"

	"github.com/fardream/go-bcs/bcs"
	"github.com/pattonkan/sui-go/sui"
	"github.com/pattonkan/sui-go/suiclient"
	"github.com/pattonkan/sui-go/sui/suiptb"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/order"
)

var _ chains.Executor = (*Adapter)(nil)

// FillOrder is not available on Sui. Orders are signed with an EVM typed-data
// signature that Move contracts cannot verify, so only the destination leg of
// a swap runs here.
func (a *Adapter) FillOrder(ctx context.Context, rec *order.Record, taker string) (*chains.TxReceipt, error) {
	return nil, fmt.Errorf("chain %s: source-side fills are not supported on sui", a.cfg.ChainID)
}

// CreateEscrow locks the taking amount plus the safety deposit into a fresh
// shared escrow object for the order's receiver.
func (a *Adapter) CreateEscrow(ctx context.Context, rec *order.Record, safetyDeposit *big.Int) (*chains.TxReceipt, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("chain %s: no signer configured", a.cfg.ChainID)
	}
	if !rec.Order.TakingAmount.IsUint64() {
		return nil, fmt.Errorf("taking amount %s exceeds u64", rec.Order.TakingAmount)
	}
	deposit := uint64(0)
	if safetyDeposit != nil {
		if !safetyDeposit.IsUint64() {
			return nil, fmt.Errorf("safety deposit %s exceeds u64", safetyDeposit)
		}
		deposit = safetyDeposit.Uint64()
	}
	recipient, err := sui.AddressFromHex(rec.Order.Receiver)
	if err != nil {
		return nil, fmt.Errorf("invalid receiver %q: %w", rec.Order.Receiver, err)
	}
	orderHash, err := hexBytes(rec.OrderHash)
	if err != nil {
		return nil, fmt.Errorf("order hash unreadable: %w", err)
	}
	hashlock, err := hexBytes(rec.Order.Hashlock)
	if err != nil {
		return nil, fmt.Errorf("hashlock unreadable: %w", err)
	}
	locked := rec.Order.TakingAmount.Uint64() + deposit

	coinPages, err := a.client.GetCoins(ctx, &suiclient.GetCoinsRequest{Owner: a.signer.Address})
	if err != nil {
		return nil, fmt.Errorf("get coins: %w", err)
	}
	coins := suiclient.Coins(coinPages.Data)
	if len(coins) < 2 {
		return nil, fmt.Errorf("chain %s: resolver needs a coin to lock and a coin for gas", a.cfg.ChainID)
	}
	// The last coin pays gas; it must not also be a merge input.
	gasRef := coins.CoinRefs()[len(coins)-1]
	spend := coins[:len(coins)-1]
	if suiclient.Coins(spend).TotalBalance().Uint64() < locked {
		return nil, fmt.Errorf("chain %s: resolver balance below %d", a.cfg.ChainID, locked)
	}

	ptb := suiptb.NewTransactionDataTransactionBuilder()

	// Merge just enough owned coins to cover the locked value, then split off
	// an exact coin for it.
	var target suiptb.Argument
	var merge []suiptb.Argument
	for i, coin := range coinsToLock(spend, locked) {
		if i == 0 {
			target = ptb.MustObj(suiptb.ObjectArg{ImmOrOwnedObject: coin.Ref()})
		} else {
			merge = append(merge, ptb.MustObj(suiptb.ObjectArg{ImmOrOwnedObject: coin.Ref()}))
		}
	}
	if len(merge) > 0 {
		ptb.Command(suiptb.Command{
			MergeCoins: &suiptb.ProgrammableMergeCoins{
				Destination: target,
				Sources:     merge,
			},
		})
	}
	lockedArg := ptb.Command(suiptb.Command{
		SplitCoins: &suiptb.ProgrammableSplitCoins{
			Coin:    target,
			Amounts: []suiptb.Argument{ptb.MustPure(locked)},
		},
	})

	clockArg := ptb.MustObj(suiptb.ObjectArg{SharedObject: &suiptb.SharedObjectArg{
		Id:                   sui.SuiObjectIdClock,
		InitialSharedVersion: sui.SuiClockObjectSharedVersion,
		Mutable:              false,
	}})
	ptb.Command(suiptb.Command{
		MoveCall: &suiptb.ProgrammableMoveCall{
			Package:  a.packageId,
			Module:   escrowModule,
			Function: "create",
			Arguments: []suiptb.Argument{
				ptb.MustPure(orderHash),
				ptb.MustPure(hashlock),
				ptb.MustPure(recipient),
				ptb.MustPure(deposit),
				lockedArg,
				clockArg,
			},
		},
	})

	pt := ptb.Finish()
	tx := suiptb.NewTransactionData(
		a.signer.Address,
		pt,
		[]*sui.ObjectRef{gasRef},
		suiclient.DefaultGasBudget,
		suiclient.DefaultGasPrice,
	)
	txBytes, err := bcs.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	resp, err := a.execute(ctx, txBytes)
	if err != nil {
		return nil, err
	}

	escrowId, err := createdEscrowId(resp)
	if err != nil {
		return nil, err
	}
	return &chains.TxReceipt{
		TxHash:     resp.Digest.String(),
		EscrowAddr: escrowId.String(),
	}, nil
}

// Withdraw reveals the secret to the escrow. The Move contract enforces the
// hashlock and the timelock windows; a wrong secret or an early call aborts.
func (a *Adapter) Withdraw(ctx context.Context, address, secretHex string) (*chains.TxReceipt, error) {
	secret, err := hexBytes(secretHex)
	if err != nil {
		return nil, fmt.Errorf("secret unreadable: %w", err)
	}
	return a.escrowCall(ctx, address, "withdraw", secret)
}

// Cancel refunds the escrow once its cancellation window is open.
func (a *Adapter) Cancel(ctx context.Context, address string) (*chains.TxReceipt, error) {
	return a.escrowCall(ctx, address, "cancel", nil)
}

// escrowCall submits a single move call against one shared escrow object. A
// nil secret means the function takes only the escrow and the clock.
func (a *Adapter) escrowCall(ctx context.Context, address, function string, secret []byte) (*chains.TxReceipt, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("chain %s: no signer configured", a.cfg.ChainID)
	}
	id, err := sui.ObjectIdFromHex(address)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow object id %q: %w", address, err)
	}
	escrowGetObject, err := a.client.GetObject(ctx, &suiclient.GetObjectRequest{
		ObjectId: id,
		Options:  &suiclient.SuiObjectDataOptions{ShowOwner: true},
	})
	if err != nil {
		return nil, fmt.Errorf("get escrow object %s: %w", address, err)
	}
	escrowRef := escrowGetObject.Data.RefSharedObject()

	coinPages, err := a.client.GetCoins(ctx, &suiclient.GetCoinsRequest{Owner: a.signer.Address})
	if err != nil {
		return nil, fmt.Errorf("get coins: %w", err)
	}
	coins := suiclient.Coins(coinPages.Data)
	if len(coins) == 0 {
		return nil, fmt.Errorf("chain %s: resolver has no gas coin", a.cfg.ChainID)
	}

	ptb := suiptb.NewTransactionDataTransactionBuilder()
	args := []suiptb.Argument{
		ptb.MustObj(suiptb.ObjectArg{SharedObject: &suiptb.SharedObjectArg{
			Id:                   escrowRef.ObjectId,
			InitialSharedVersion: escrowRef.Version,
			Mutable:              true,
		}}),
	}
	if secret != nil {
		args = append(args, ptb.MustPure(secret))
	}
	args = append(args, ptb.MustObj(suiptb.ObjectArg{SharedObject: &suiptb.SharedObjectArg{
		Id:                   sui.SuiObjectIdClock,
		InitialSharedVersion: sui.SuiClockObjectSharedVersion,
		Mutable:              false,
	}}))
	ptb.Command(suiptb.Command{
		MoveCall: &suiptb.ProgrammableMoveCall{
			Package:   a.packageId,
			Module:    escrowModule,
			Function:  function,
			Arguments: args,
		},
	})

	pt := ptb.Finish()
	tx := suiptb.NewTransactionData(
		a.signer.Address,
		pt,
		[]*sui.ObjectRef{coins.CoinRefs()[len(coins)-1]},
		suiclient.DefaultGasBudget,
		suiclient.DefaultGasPrice,
	)
	txBytes, err := bcs.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	resp, err := a.execute(ctx, txBytes)
	if err != nil {
		return nil, err
	}
	return &chains.TxReceipt{
		TxHash:     resp.Digest.String(),
		EscrowAddr: id.String(),
	}, nil
}

// execute signs, submits, and waits for local execution. Submission is never
// retried; a doubt about the outcome must surface as an error, not a resend.
func (a *Adapter) execute(ctx context.Context, txBytes []byte) (*suiclient.SuiTransactionBlockResponse, error) {
	if a.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
	}

	resp, err := a.client.SignAndExecuteTransaction(ctx, a.signer, txBytes, &suiclient.SuiTransactionBlockResponseOptions{
		ShowEffects:       true,
		ShowObjectChanges: true,
	})
	if err != nil {
		return nil, fmt.Errorf("execute transaction: %w", err)
	}
	if resp == nil || resp.Effects == nil || !resp.Effects.Data.IsSuccess() {
		return nil, fmt.Errorf("transaction failed: %v", resp.Errors)
	}
	return resp, nil
}

// coinsToLock returns the shortest prefix of coins whose combined balance
// covers the locked value. The caller has already checked the total.
func coinsToLock(coins suiclient.Coins, locked uint64) suiclient.Coins {
	var bal uint64
	for i, coin := range coins {
		bal += coin.Balance.Uint64()
		if bal >= locked {
			return coins[:i+1]
		}
	}
	return coins
}

func createdEscrowId(resp *suiclient.SuiTransactionBlockResponse) (*sui.ObjectId, error) {
	for _, change := range resp.ObjectChanges {
		if change.Data.Created == nil {
			continue
		}
		resource, err := sui.NewResourceType(change.Data.Created.ObjectType)
		if err != nil {
			continue
		}
		if resource.Contains(nil, escrowModule, "Escrow") {
			id := change.Data.Created.ObjectId
			return &id, nil
		}
	}
	return nil, fmt.Errorf("no escrow object in transaction response")
}
