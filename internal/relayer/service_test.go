package relayer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/secret"
	"github.com/swaplane/swaplane-backend/internal/store"
)

func serviceDomain() order.Domain {
	return order.Domain{
		ChainID:           big.NewInt(1),
		VerifyingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	}
}

func newService(t *testing.T, keeperKey string) (*Service, *store.Memory) {
	t.Helper()

	logger := zap.NewNop().Sugar()
	orders := store.NewMemory()
	keeper, err := secret.NewKeeper(keeperKey)
	require.NoError(t, err)

	validator := order.NewValidator(serviceDomain(), logger)
	svc := NewService(orders, nil, validator, serviceDomain(), keeper, logger)
	return svc, orders
}

// swapTerms returns canonical signable terms for the given maker, with a
// fresh secret behind the hashlock.
func swapTerms(t *testing.T, maker string) (order.Order, string) {
	t.Helper()

	plain, err := secret.Generate()
	require.NoError(t, err)
	hashlock, err := secret.Hash(plain)
	require.NoError(t, err)

	return order.Order{
		Maker:        maker,
		MakerAsset:   "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		TakerAsset:   "0x2::sui::SUI",
		MakingAmount: big.NewInt(1_000_000),
		TakingAmount: big.NewInt(2_000_000),
		Receiver:     "0x7f5c764cbc14f9669b88837ca1490cca17c31607",
		Hashlock:     hashlock,
		Salt:         big.NewInt(7),
		SrcChainID:   "ethereum",
		DstChainID:   "sui",
	}, plain
}

func sign(t *testing.T, o *order.Order, key *ecdsa.PrivateKey) string {
	t.Helper()

	hash, err := order.Hash(o, serviceDomain())
	require.NoError(t, err)
	sig, err := crypto.Sign(hexutil.MustDecode(hash), key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func TestGenerateOrderData(t *testing.T) {
	svc, _ := newService(t, "")

	o, _ := swapTerms(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	o.Hashlock = ""
	o.Salt = nil

	data, err := svc.GenerateOrderData(context.Background(), o)
	require.NoError(t, err)

	assert.NotEmpty(t, data.Secret)
	assert.True(t, secret.Verify(data.Secret, data.SecretHash))
	assert.Equal(t, data.SecretHash, data.Order.Hashlock)
	require.NotNil(t, data.Order.Salt)
	assert.Positive(t, data.Order.Salt.Sign())

	// The returned hash is what the maker signs over.
	want, err := order.Hash(&data.Order, serviceDomain())
	require.NoError(t, err)
	assert.Equal(t, want, data.OrderHash)
}

func TestCreateOrderPersistsActive(t *testing.T) {
	svc, orders := newService(t, "")
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := crypto.PubkeyToAddress(key.PublicKey).Hex()

	o, _ := swapTerms(t, maker)
	sig := sign(t, &o, key)

	rec, err := svc.CreateOrder(ctx, o, sig)
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, rec.Status)
	assert.Equal(t, maker, rec.Order.Maker)
	assert.Empty(t, rec.Secret)
	assert.Equal(t, sig, rec.Signature)

	stored, err := orders.GetOrder(ctx, rec.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, rec.OrderHash, stored.OrderHash)

	// Same terms, same hash: a resubmission is a duplicate.
	_, err = svc.CreateOrder(ctx, o, sig)
	assert.ErrorIs(t, err, order.ErrDuplicate)
}

func TestCreateOrderRejectsForeignSignature(t *testing.T) {
	svc, _ := newService(t, "")

	makerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	o, _ := swapTerms(t, crypto.PubkeyToAddress(makerKey.PublicKey).Hex())
	sig := sign(t, &o, otherKey)

	_, err = svc.CreateOrder(context.Background(), o, sig)

	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "signature does not recover to maker")
}

func TestCreateCompleteOrderStoresSealedSecret(t *testing.T) {
	keyHex := "0x" + strings.Repeat("ab", 32)
	svc, orders := newService(t, keyHex)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	o, plain := swapTerms(t, crypto.PubkeyToAddress(key.PublicKey).Hex())
	sig := sign(t, &o, key)
	ext := json.RawMessage(`{"auction":"none"}`)

	rec, err := svc.CreateCompleteOrder(ctx, o, ext, sig, plain, o.Hashlock)
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, rec.Status)
	assert.JSONEq(t, string(ext), string(rec.Extension))

	stored, err := orders.GetOrder(ctx, rec.OrderHash)
	require.NoError(t, err)
	assert.NotEqual(t, plain, stored.Secret)
	assert.True(t, strings.HasPrefix(stored.Secret, "enc:v1:"))
}

func TestCreateCompleteOrderChecksSecretBinding(t *testing.T) {
	svc, _ := newService(t, "")
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	t.Run("secret does not hash to secretHash", func(t *testing.T) {
		o, _ := swapTerms(t, crypto.PubkeyToAddress(key.PublicKey).Hex())
		sig := sign(t, &o, key)

		wrong, err := secret.Generate()
		require.NoError(t, err)

		_, err = svc.CreateCompleteOrder(ctx, o, nil, sig, wrong, o.Hashlock)
		assert.ErrorIs(t, err, order.ErrInvalidRequest)
	})

	t.Run("secretHash does not match order hashlock", func(t *testing.T) {
		o, plain := swapTerms(t, crypto.PubkeyToAddress(key.PublicKey).Hex())

		otherHash, err := secret.Hash(plain)
		require.NoError(t, err)

		// Secret and secretHash agree with each other but not with the order.
		o.Hashlock = "0x" + strings.Repeat("11", 32)
		sig := sign(t, &o, key)
		_, err = svc.CreateCompleteOrder(ctx, o, nil, sig, plain, otherHash)
		assert.ErrorIs(t, err, order.ErrInvalidRequest)
	})
}

func TestUpdateStatusTransitions(t *testing.T) {
	svc, _ := newService(t, "")
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	o, _ := swapTerms(t, crypto.PubkeyToAddress(key.PublicKey).Hex())
	rec, err := svc.CreateOrder(ctx, o, sign(t, &o, key))
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, rec.OrderHash, order.StatusCancelled, "maker asked")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, updated.Status)

	// Cancelled is terminal.
	_, err = svc.UpdateStatus(ctx, rec.OrderHash, order.StatusActive, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, rec.OrderHash, order.Status("bogus"), "")
	assert.ErrorIs(t, err, order.ErrInvalidRequest)
}

func TestGetOrderValidatesHash(t *testing.T) {
	svc, _ := newService(t, "")

	_, err := svc.GetOrder(context.Background(), "nope")
	assert.Error(t, err)

	_, err = svc.GetOrder(context.Background(), "0x5555555555555555555555555555555555555555555555555555555555555555")
	assert.ErrorIs(t, err, order.ErrNotFound)
}
