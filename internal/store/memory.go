package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/swaplane/swaplane-backend/internal/order"
)

// Memory is an in-process Store with the same CAS semantics as Postgres. It
// backs tests and single-node development runs.
type Memory struct {
	mu         sync.RWMutex
	orders     map[string]*order.Record
	executions map[string]*ExecutionState
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		orders:     make(map[string]*order.Record),
		executions: make(map[string]*ExecutionState),
	}
}

func (m *Memory) CreateOrder(ctx context.Context, rec *order.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[rec.OrderHash]; ok {
		return order.ErrDuplicate
	}
	now := time.Now().UTC()
	cp := *rec
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.orders[rec.OrderHash] = &cp
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, orderHash string) (*order.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.orders[orderHash]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) ListOrders(ctx context.Context, f OrderFilter) (*Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	m.mu.RLock()
	var matched []*order.Record
	for _, rec := range m.orders {
		if !matches(rec, f) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].OrderHash < matched[j].OrderHash
	})

	page := &Page{Total: len(matched)}
	if offset >= len(matched) {
		return page, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	page.Orders = matched
	page.HasMore = offset+len(matched) < page.Total
	return page, nil
}

func matches(rec *order.Record, f OrderFilter) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if rec.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Maker != "" && !strings.EqualFold(rec.Order.Maker, f.Maker) {
		return false
	}
	if f.Asset != "" && !strings.EqualFold(rec.Order.MakerAsset, f.Asset) && !strings.EqualFold(rec.Order.TakerAsset, f.Asset) {
		return false
	}
	if f.SrcChainID != "" && rec.Order.SrcChainID != f.SrcChainID {
		return false
	}
	if f.DstChainID != "" && rec.Order.DstChainID != f.DstChainID {
		return false
	}
	return true
}

func (m *Memory) SetStatus(ctx context.Context, orderHash string, from, to order.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.orders[orderHash]
	if !ok {
		return order.ErrNotFound
	}
	if rec.Status != from {
		return fmt.Errorf("%w: order is %s", order.ErrStatusConflict, rec.Status)
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SetTaker(ctx context.Context, orderHash, taker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.orders[orderHash]
	if !ok {
		return order.ErrNotFound
	}
	rec.Taker = taker
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SetEscrows(ctx context.Context, orderHash, srcEscrow, dstEscrow string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.orders[orderHash]
	if !ok {
		return order.ErrNotFound
	}
	if srcEscrow != "" {
		rec.Order.SrcEscrowAddr = srcEscrow
	}
	if dstEscrow != "" {
		rec.Order.DstEscrowAddr = dstEscrow
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CompleteWithSecret(ctx context.Context, orderHash, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.orders[orderHash]
	if !ok {
		return order.ErrNotFound
	}
	if rec.Status != order.StatusActive {
		return fmt.Errorf("%w: order is %s", order.ErrStatusConflict, rec.Status)
	}
	rec.Status = order.StatusCompleted
	rec.Secret = secret
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SaveExecution(ctx context.Context, st *ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *st
	cp.UpdatedAt = time.Now().UTC()
	m.executions[st.OrderHash] = &cp
	return nil
}

func (m *Memory) GetExecution(ctx context.Context, orderHash string) (*ExecutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.executions[orderHash]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *Memory) ListUnfinished(ctx context.Context, terminalSteps []string) ([]*ExecutionState, error) {
	terminal := make(map[string]bool, len(terminalSteps))
	for _, s := range terminalSteps {
		terminal[s] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ExecutionState
	for _, st := range m.executions {
		if terminal[st.Step] {
			continue
		}
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
