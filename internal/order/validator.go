package order

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// maxSalt is 2^256 - 1, the largest value representable as a uint256 salt.
var maxSalt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Validator checks raw order terms and their maker signature before anything
// is persisted. All checks run; failures are itemized rather than short-circuited.
type Validator struct {
	domain Domain
	logger *zap.SugaredLogger
}

func NewValidator(domain Domain, logger *zap.SugaredLogger) *Validator {
	return &Validator{domain: domain, logger: logger}
}

// Validate returns the canonical order plus its order hash, or a
// *ValidationError listing every rejected field. The input order is not
// mutated; the canonical copy has checksummed addresses and a normalized
// hashlock.
func (v *Validator) Validate(o Order, signature string) (*Order, string, error) {
	verr := &ValidationError{}

	if !common.IsHexAddress(o.Maker) {
		verr.add("maker %q is not a valid address", o.Maker)
	}
	if !common.IsHexAddress(o.MakerAsset) {
		verr.add("makerAsset %q is not a valid address", o.MakerAsset)
	}
	if strings.TrimSpace(o.TakerAsset) == "" {
		verr.add("takerAsset is required")
	}
	if strings.TrimSpace(o.Receiver) == "" {
		verr.add("receiver is required")
	}
	if o.MakingAmount == nil || o.MakingAmount.Sign() <= 0 {
		verr.add("makingAmount must be positive")
	}
	if o.TakingAmount == nil || o.TakingAmount.Sign() <= 0 {
		verr.add("takingAmount must be positive")
	}
	if strings.EqualFold(o.MakerAsset, o.TakerAsset) {
		verr.add("makerAsset and takerAsset must differ")
	}
	if o.Salt == nil || o.Salt.Sign() <= 0 || o.Salt.Cmp(maxSalt) > 0 {
		verr.add("salt must be in [1, 2^256-1]")
	}
	if err := checkHashlock(o.Hashlock); err != nil {
		verr.add("hashlock: %v", err)
	}
	if o.SrcChainID == "" {
		verr.add("srcChainId is required")
	}
	if o.DstChainID == "" {
		verr.add("dstChainId is required")
	}
	if o.SrcChainID != "" && o.SrcChainID == o.DstChainID {
		verr.add("srcChainId and dstChainId must differ")
	}

	if !verr.empty() {
		return nil, "", verr
	}

	canonical := o
	canonical.Maker = common.HexToAddress(o.Maker).Hex()
	canonical.MakerAsset = common.HexToAddress(o.MakerAsset).Hex()
	canonical.Hashlock = strings.ToLower(o.Hashlock)

	sighash, err := digest(&canonical, v.domain)
	if err != nil {
		verr.add("order terms are not hashable: %v", err)
		return nil, "", verr
	}

	signer, err := recoverSigner(sighash, signature)
	if err != nil {
		verr.add("signature: %v", err)
		return nil, "", verr
	}
	if signer != common.HexToAddress(canonical.Maker) {
		v.logger.Debugw("Order signature recovered to wrong address",
			"maker", canonical.Maker,
			"recovered", signer.Hex(),
		)
		verr.add("signature does not recover to maker %s", canonical.Maker)
		return nil, "", verr
	}

	return &canonical, hexutil.Encode(sighash), nil
}

func checkHashlock(hashlock string) error {
	raw, err := hexutil.Decode(hashlock)
	if err != nil {
		return fmt.Errorf("not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("must be 32 bytes, got %d", len(raw))
	}
	return nil
}

// CheckOrderHash validates the format of a caller-supplied order hash.
func CheckOrderHash(orderHash string) error {
	raw, err := hexutil.Decode(orderHash)
	if err != nil {
		return fmt.Errorf("%w: order hash is not valid hex: %v", ErrInvalidRequest, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: order hash must be 32 bytes, got %d", ErrInvalidRequest, len(raw))
	}
	return nil
}

func recoverSigner(sighash []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("not valid hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	// Accept both legacy 27/28 and raw 0/1 recovery ids.
	recovered := make([]byte, len(sig))
	copy(recovered, sig)
	if recovered[64] >= 27 {
		recovered[64] -= 27
	}

	pub, err := crypto.SigToPub(sighash, recovered)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
