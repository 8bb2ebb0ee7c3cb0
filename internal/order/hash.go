package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DomainName and DomainVersion pin the EIP-712 domain every order
	// signature is bound to. Changing either invalidates all outstanding
	// signatures.
	DomainName    = "SwapLane Atomic Swap"
	DomainVersion = "1"
)

// Domain identifies one protocol deployment for signature purposes.
type Domain struct {
	ChainID           *big.Int
	VerifyingContract string
}

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "maker", Type: "address"},
		{Name: "makerAsset", Type: "address"},
		{Name: "takerAsset", Type: "string"},
		{Name: "makingAmount", Type: "uint256"},
		{Name: "takingAmount", Type: "uint256"},
		{Name: "receiver", Type: "string"},
		{Name: "hashlock", Type: "bytes32"},
		{Name: "salt", Type: "uint256"},
		{Name: "srcChainId", Type: "string"},
		{Name: "dstChainId", Type: "string"},
	},
}

func typedData(o *Order, d Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"maker":        o.Maker,
			"makerAsset":   o.MakerAsset,
			"takerAsset":   o.TakerAsset,
			"makingAmount": o.MakingAmount.String(),
			"takingAmount": o.TakingAmount.String(),
			"receiver":     o.Receiver,
			"hashlock":     o.Hashlock,
			"salt":         o.Salt.String(),
			"srcChainId":   string(o.SrcChainID),
			"dstChainId":   string(o.DstChainID),
		},
	}
}

// Hash derives the canonical order hash: the EIP-712 digest of the order
// terms under the protocol domain. The same hash keys storage, escrow
// parameters, and signature verification.
func Hash(o *Order, d Domain) (string, error) {
	digest, err := digest(o, d)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(digest), nil
}

func digest(o *Order, d Domain) ([]byte, error) {
	if o.MakingAmount == nil || o.TakingAmount == nil || o.Salt == nil {
		return nil, fmt.Errorf("order has unset numeric terms")
	}
	sighash, _, err := apitypes.TypedDataAndHash(typedData(o, d))
	if err != nil {
		return nil, fmt.Errorf("hash order terms: %w", err)
	}
	return sighash, nil
}
