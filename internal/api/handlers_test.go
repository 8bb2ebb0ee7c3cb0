package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/escrow"
	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/relayer"
	"github.com/swaplane/swaplane-backend/internal/secret"
	"github.com/swaplane/swaplane-backend/internal/store"
)

const (
	testSrcEscrow = "0x00000000000000000000000000000000000000a1"
	testDstEscrow = "0x00000000000000000000000000000000000000a2"
)

// chainStub validates escrows by address lookup.
type chainStub struct {
	chainID  order.ChainID
	verdicts map[string]bool
}

func (s *chainStub) Initialize(ctx context.Context, cfg chains.Config) error { return nil }

func (s *chainStub) ValidateEscrow(ctx context.Context, address string, rec *order.Record) escrow.ValidationResult {
	if !s.verdicts[address] {
		return escrow.Invalid(s.chainID, address, "escrow is not funded")
	}
	return escrow.ValidationResult{
		Valid:         true,
		Balance:       decimal.NewFromInt(1),
		ChainID:       s.chainID,
		EscrowAddress: address,
	}
}

func (s *chainStub) EscrowBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s *chainStub) VerifyEscrowParameters(ctx context.Context, address string, expected escrow.Immutables) (bool, error) {
	return true, nil
}

func (s *chainStub) EscrowEvents(ctx context.Context, address string) ([]chains.Event, error) {
	return nil, nil
}

func (s *chainStub) Healthy(ctx context.Context) bool { return true }

type apiFixture struct {
	ts     *httptest.Server
	orders *store.Memory
	dst    *chainStub
	key    *ecdsa.PrivateKey
	maker  string
}

func apiDomain() order.Domain {
	return order.Domain{
		ChainID:           big.NewInt(1),
		VerifyingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	}
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := zap.NewNop().Sugar()
	orders := store.NewMemory()

	cache, err := store.NewCache("invalid:6379", logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	src := &chainStub{chainID: "ethereum", verdicts: map[string]bool{testSrcEscrow: true}}
	dst := &chainStub{chainID: "sui", verdicts: map[string]bool{testDstEscrow: true}}
	registry := chains.NewRegistry(logger)
	registry.Register(chains.Config{ChainID: "ethereum", Kind: "mock"}, src)
	registry.Register(chains.Config{ChainID: "sui", Kind: "mock"}, dst)

	keeper, err := secret.NewKeeper("")
	require.NoError(t, err)

	validator := order.NewValidator(apiDomain(), logger)
	svc := relayer.NewService(orders, cache, validator, apiDomain(), keeper, logger)
	gate := relayer.NewGate(orders, cache, registry, keeper, logger)

	h := NewHandler(svc, gate, registry, orders, cache, nil, nil, logger, nil)
	router := h.Routes(NewMiddleware(logger, nil), []string{"*"}, 600000)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &apiFixture{
		ts:     ts,
		orders: orders,
		dst:    dst,
		key:    key,
		maker:  crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// signedOrder builds canonical signable terms with a fresh secret and signs
// them with the fixture's maker key.
func (f *apiFixture) signedOrder(t *testing.T, salt int64) (OrderDTO, string, string) {
	t.Helper()

	plain, err := secret.Generate()
	require.NoError(t, err)
	hashlock, err := secret.Hash(plain)
	require.NoError(t, err)

	o := order.Order{
		Maker:        f.maker,
		MakerAsset:   "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		TakerAsset:   "0x2::sui::SUI",
		MakingAmount: big.NewInt(1_000_000),
		TakingAmount: big.NewInt(2_000_000),
		Receiver:     "0x7f5c764cbc14f9669b88837ca1490cca17c31607",
		Hashlock:     hashlock,
		Salt:         big.NewInt(salt),
		SrcChainID:   "ethereum",
		DstChainID:   "sui",
	}

	hash, err := order.Hash(&o, apiDomain())
	require.NoError(t, err)
	sig, err := crypto.Sign(hexutil.MustDecode(hash), f.key)
	require.NoError(t, err)

	return orderDTO(o), hexutil.Encode(sig), plain
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestCreateAndGetOrder(t *testing.T) {
	f := newAPIFixture(t)

	dto, sig, _ := f.signedOrder(t, 1)
	status, body := f.do(t, http.MethodPost, "/v1/orders", CreateOrderRequest{Order: dto, Signature: sig})
	require.Equal(t, http.StatusCreated, status, string(body))

	var created RecordDTO
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, f.maker, created.Order.Maker)
	assert.NotEmpty(t, created.OrderHash)

	status, body = f.do(t, http.MethodGet, "/v1/orders/"+created.OrderHash, nil)
	require.Equal(t, http.StatusOK, status)

	var fetched RecordDTO
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.OrderHash, fetched.OrderHash)

	// Same terms resubmitted.
	status, body = f.do(t, http.MethodPost, "/v1/orders", CreateOrderRequest{Order: dto, Signature: sig})
	assert.Equal(t, http.StatusConflict, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "DUPLICATE_ORDER", errResp.Code)

	status, _ = f.do(t, http.MethodGet, "/v1/orders/0x6666666666666666666666666666666666666666666666666666666666666666", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateOrderRejectsInvalidTerms(t *testing.T) {
	f := newAPIFixture(t)

	dto, sig, _ := f.signedOrder(t, 2)
	dto.MakingAmount = "-5"
	status, body := f.do(t, http.MethodPost, "/v1/orders", CreateOrderRequest{Order: dto, Signature: sig})
	assert.Equal(t, http.StatusBadRequest, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "INVALID_ORDER", errResp.Code)

	status, _ = f.do(t, http.MethodPost, "/v1/orders", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGenerateOrderDataEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	dto, _, _ := f.signedOrder(t, 3)
	dto.Hashlock = ""
	dto.Salt = ""

	status, body := f.do(t, http.MethodPost, "/v1/orders/data", GenerateOrderDataRequest{Order: dto})
	require.Equal(t, http.StatusOK, status, string(body))

	var data OrderDataDTO
	require.NoError(t, json.Unmarshal(body, &data))
	assert.True(t, secret.Verify(data.Secret, data.SecretHash))
	assert.Equal(t, data.SecretHash, data.Order.Hashlock)
	assert.NotEmpty(t, data.OrderHash)
	assert.NotEmpty(t, data.Order.Salt)
}

func TestListOrdersPaging(t *testing.T) {
	f := newAPIFixture(t)

	for i := int64(1); i <= 3; i++ {
		dto, sig, _ := f.signedOrder(t, i)
		status, body := f.do(t, http.MethodPost, "/v1/orders", CreateOrderRequest{Order: dto, Signature: sig})
		require.Equal(t, http.StatusCreated, status, string(body))
	}

	status, body := f.do(t, http.MethodGet, "/v1/orders?limit=2", nil)
	require.Equal(t, http.StatusOK, status)

	var page OrdersPageDTO
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)

	status, body = f.do(t, http.MethodGet, "/v1/orders?status=active&maker="+f.maker, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 3, page.Total)

	status, body = f.do(t, http.MethodGet, "/v1/orders?asset="+url.QueryEscape("0x2::sui::SUI"), nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 3, page.Total)

	status, body = f.do(t, http.MethodGet, "/v1/orders?asset=0xdead", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Zero(t, page.Total)

	status, body = f.do(t, http.MethodGet, "/v1/orders?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "INVALID_STATUS", errResp.Code)
}

func TestUpdateOrderStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	dto, sig, _ := f.signedOrder(t, 4)
	status, body := f.do(t, http.MethodPost, "/v1/orders", CreateOrderRequest{Order: dto, Signature: sig})
	require.Equal(t, http.StatusCreated, status, string(body))

	var created RecordDTO
	require.NoError(t, json.Unmarshal(body, &created))

	path := fmt.Sprintf("/v1/orders/%s/status", created.OrderHash)
	status, body = f.do(t, http.MethodPatch, path, UpdateStatusRequest{Status: "cancelled", Reason: "maker asked"})
	require.Equal(t, http.StatusOK, status, string(body))

	var updated RecordDTO
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "cancelled", updated.Status)

	// Cancelled is terminal.
	status, body = f.do(t, http.MethodPatch, path, UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "INVALID_TRANSITION", errResp.Code)
}

func TestMalformedOrderHashIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/orders/not-a-hash", nil)
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "INVALID_REQUEST", errResp.Code)

	status, body = f.do(t, http.MethodPost, "/v1/secrets/request", relayer.SecretRequest{
		OrderHash:     "0x1234",
		SrcEscrowAddr: testSrcEscrow,
		DstEscrowAddr: testDstEscrow,
	})
	assert.Equal(t, http.StatusBadRequest, status, string(body))
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "INVALID_REQUEST", errResp.Code)
}

func TestSecretRequestFlow(t *testing.T) {
	f := newAPIFixture(t)

	dto, sig, plain := f.signedOrder(t, 5)
	status, body := f.do(t, http.MethodPost, "/v1/orders/complete", CreateCompleteOrderRequest{
		Order:      dto,
		Signature:  sig,
		Secret:     plain,
		SecretHash: dto.Hashlock,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var created RecordDTO
	require.NoError(t, json.Unmarshal(body, &created))

	req := relayer.SecretRequest{
		OrderHash:     created.OrderHash,
		SrcEscrowAddr: testSrcEscrow,
		DstEscrowAddr: testDstEscrow,
		SrcChainID:    "ethereum",
		DstChainID:    "sui",
	}
	status, body = f.do(t, http.MethodPost, "/v1/secrets/request", req)
	require.Equal(t, http.StatusOK, status, string(body))

	var released relayer.SecretResponse
	require.NoError(t, json.Unmarshal(body, &released))
	assert.Equal(t, plain, released.Secret)
	assert.True(t, released.SrcValidation.Valid)
	assert.True(t, released.DstValidation.Valid)

	// The gate releases once.
	status, body = f.do(t, http.MethodPost, "/v1/secrets/request", req)
	assert.Equal(t, http.StatusConflict, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "ALREADY_COMPLETED", errResp.Code)
}

func TestSecretRequestRejectedByEscrowValidation(t *testing.T) {
	f := newAPIFixture(t)

	dto, sig, plain := f.signedOrder(t, 6)
	status, body := f.do(t, http.MethodPost, "/v1/orders/complete", CreateCompleteOrderRequest{
		Order:      dto,
		Signature:  sig,
		Secret:     plain,
		SecretHash: dto.Hashlock,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var created RecordDTO
	require.NoError(t, json.Unmarshal(body, &created))

	f.dst.verdicts[testDstEscrow] = false
	status, body = f.do(t, http.MethodPost, "/v1/secrets/request", relayer.SecretRequest{
		OrderHash:     created.OrderHash,
		SrcEscrowAddr: testSrcEscrow,
		DstEscrowAddr: testDstEscrow,
		SrcChainID:    "ethereum",
		DstChainID:    "sui",
	})
	require.Equal(t, http.StatusForbidden, status, string(body))

	var rejected struct {
		ErrorResponse
		SrcValidation escrow.ValidationResult `json:"srcValidation"`
		DstValidation escrow.ValidationResult `json:"dstValidation"`
	}
	require.NoError(t, json.Unmarshal(body, &rejected))
	assert.Equal(t, "ESCROW_VALIDATION_FAILED", rejected.Code)
	assert.True(t, rejected.SrcValidation.Valid)
	assert.False(t, rejected.DstValidation.Valid)

	// The record is not serialized with its secret anywhere in the API.
	status, body = f.do(t, http.MethodGet, "/v1/orders/"+created.OrderHash, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(body), plain)
}

func TestChainEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/chains", nil)
	require.Equal(t, http.StatusOK, status)

	var statuses []chains.ChainStatus
	require.NoError(t, json.Unmarshal(body, &statuses))
	assert.Len(t, statuses, 2)

	status, body = f.do(t, http.MethodGet, "/v1/chains/health", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &statuses))
	for _, st := range statuses {
		assert.Equal(t, chains.HealthHealthy, st.Health)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))

	status, body = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, status)

	var ready ReadyDTO
	require.NoError(t, json.Unmarshal(body, &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ok", ready.Checks["store"])
}
