package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/swaplane/swaplane-backend/internal/chains"
	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/relayer"
	"github.com/swaplane/swaplane-backend/internal/store"
	"github.com/swaplane/swaplane-backend/internal/ws"
	"go.uber.org/zap"
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

const maxBodyBytes = 1 << 20

type Handler struct {
	svc        *relayer.Service
	gate       *relayer.Gate
	registry   *chains.Registry
	orders     store.OrderStore
	cache      *store.Cache
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	logger     *zap.SugaredLogger
	metrics    MetricsInterface
}

func NewHandler(
	svc *relayer.Service,
	gate *relayer.Gate,
	registry *chains.Registry,
	orders store.OrderStore,
	cache *store.Cache,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	logger *zap.SugaredLogger,
	metrics MetricsInterface,
) *Handler {
	return &Handler{
		svc:        svc,
		gate:       gate,
		registry:   registry,
		orders:     orders,
		cache:      cache,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		logger:     logger,
		metrics:    metrics,
	}
}

// Order endpoints

func (h *Handler) GenerateOrderData(w http.ResponseWriter, r *http.Request) {
	var req GenerateOrderDataRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := req.Order.toOrder()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ORDER", err.Error())
		return
	}

	data, err := h.svc.GenerateOrderData(r.Context(), o)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, orderDataDTO(data))
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := req.Order.toOrder()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ORDER", err.Error())
		return
	}

	rec, err := h.svc.CreateOrder(r.Context(), o, req.Signature)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, recordDTO(rec))
}

func (h *Handler) CreateCompleteOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateCompleteOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := req.Order.toOrder()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ORDER", err.Error())
		return
	}

	rec, err := h.svc.CreateCompleteOrder(r.Context(), o, req.Extension, req.Signature, req.Secret, req.SecretHash)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, recordDTO(rec))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.OrderFilter{
		Maker:      q.Get("maker"),
		Asset:      q.Get("asset"),
		SrcChainID: order.ChainID(q.Get("srcChainId")),
		DstChainID: order.ChainID(q.Get("dstChainId")),
	}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := order.Status(strings.TrimSpace(s))
			if !st.Valid() {
				h.writeError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown status: "+string(st))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	var err error
	if f.Limit, err = queryInt(q.Get("limit"), store.DefaultPageLimit); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "invalid limit")
		return
	}
	if f.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "invalid offset")
		return
	}

	page, err := h.svc.ListOrders(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	dto := OrdersPageDTO{
		Items:   make([]RecordDTO, 0, len(page.Orders)),
		Total:   page.Total,
		HasMore: page.HasMore,
	}
	for _, rec := range page.Orders {
		dto.Items = append(dto.Items, recordDTO(rec))
	}

	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "orderHash"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, recordDTO(rec))
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "orderHash"), order.Status(req.Status), req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, recordDTO(rec))
}

// Secret endpoint

func (h *Handler) RequestSecret(w http.ResponseWriter, r *http.Request) {
	var req relayer.SecretRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.gate.RequestSecret(r.Context(), req)
	if err != nil {
		var gateErr *relayer.GateError
		if errors.As(err, &gateErr) {
			h.logger.Warnw("Secret request rejected by escrow validation",
				"order_hash", req.OrderHash,
				"src_error", gateErr.Src.Error,
				"dst_error", gateErr.Dst.Error,
			)
			h.writeJSON(w, http.StatusForbidden, struct {
				ErrorResponse
				SrcValidation any `json:"srcValidation"`
				DstValidation any `json:"dstValidation"`
			}{
				ErrorResponse: ErrorResponse{Code: "ESCROW_VALIDATION_FAILED", Message: gateErr.Error()},
				SrcValidation: gateErr.Src,
				DstValidation: gateErr.Dst,
			})
			return
		}
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Chain endpoints

func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.Statuses())
}

func (h *Handler) CheckChains(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.CheckHealth(r.Context()))
}

// Health endpoints

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"store": "ok", "cache": "ok"}
	status := http.StatusOK

	if err := h.orders.Ping(r.Context()); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		// The cache degrades to in-memory mode; not a readiness failure.
		checks["cache"] = "degraded: " + err.Error()
	}

	dto := ReadyDTO{Status: "ready", Checks: checks}
	if status != http.StatusOK {
		dto.Status = "not_ready"
	}
	h.writeJSON(w, status, dto)
}

// Live updates

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Utility methods

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "malformed request body")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto status codes. Anything unmapped is
// a 500 with the detail kept out of the response.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var valErr *order.ValidationError
	switch {
	case errors.As(err, &valErr):
		h.writeError(w, http.StatusBadRequest, "INVALID_ORDER", valErr.Error())
	case errors.Is(err, order.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, order.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
	case errors.Is(err, order.ErrDuplicate):
		h.writeError(w, http.StatusConflict, "DUPLICATE_ORDER", err.Error())
	case errors.Is(err, relayer.ErrAlreadyCompleted):
		h.writeError(w, http.StatusConflict, "ALREADY_COMPLETED", err.Error())
	case errors.Is(err, relayer.ErrNotActive):
		h.writeError(w, http.StatusConflict, "ORDER_NOT_ACTIVE", err.Error())
	case errors.Is(err, relayer.ErrSecretMissing):
		h.writeError(w, http.StatusConflict, "SECRET_UNAVAILABLE", err.Error())
	case errors.Is(err, order.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, order.ErrStatusConflict):
		h.writeError(w, http.StatusConflict, "STATUS_CONFLICT", err.Error())
	default:
		h.logger.Errorw("Unhandled service error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Errorw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid integer")
	}
	return v, nil
}
