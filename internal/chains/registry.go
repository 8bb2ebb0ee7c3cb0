package chains

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/swaplane/swaplane-backend/internal/order"
	"go.uber.org/zap"
)

var (
	ErrUnknownChain = errors.New("no adapter registered for chain")
)

// Health is the registry's view of one adapter.
type Health string

const (
	HealthInitializing Health = "initializing"
	HealthHealthy      Health = "healthy"
	HealthUnhealthy    Health = "unhealthy"
)

// ChainStatus is the reported per-chain state.
type ChainStatus struct {
	ChainID   order.ChainID `json:"chainId"`
	Kind      string        `json:"kind"`
	Health    Health        `json:"health"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Factory builds an uninitialized adapter for a config kind.
type Factory func(cfg Config, logger *zap.SugaredLogger) (Adapter, error)

type entry struct {
	adapter Adapter
	cfg     Config
	health  Health
	checked time.Time
}

// Registry holds the configured chain adapters keyed by chain id. It is the
// only path by which the gate and resolver reach a specific chain.
type Registry struct {
	mu        sync.RWMutex
	entries   map[order.ChainID]*entry
	factories map[string]Factory
	logger    *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		entries:   make(map[order.ChainID]*entry),
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// RegisterFactory makes an adapter kind available to LoadFromConfig.
func (r *Registry) RegisterFactory(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// LoadFromConfig constructs and initializes an adapter per configured chain.
// A chain that fails to initialize is registered unhealthy rather than
// aborting startup; the gate will refuse requests touching it.
func (r *Registry) LoadFromConfig(ctx context.Context, cfgs []Config) error {
	for _, cfg := range cfgs {
		if cfg.ChainID == "" {
			return fmt.Errorf("chain config with empty chain id")
		}

		r.mu.RLock()
		factory, ok := r.factories[cfg.Kind]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("chain %s: unknown adapter kind %q", cfg.ChainID, cfg.Kind)
		}

		adapter, err := factory(cfg, r.logger)
		if err != nil {
			return fmt.Errorf("chain %s: build adapter: %w", cfg.ChainID, err)
		}

		e := &entry{adapter: adapter, cfg: cfg, health: HealthInitializing, checked: time.Now()}
		r.mu.Lock()
		r.entries[cfg.ChainID] = e
		r.mu.Unlock()

		if err := adapter.Initialize(ctx, cfg); err != nil {
			r.logger.Warnw("Chain adapter failed to initialize",
				"chainId", cfg.ChainID,
				"kind", cfg.Kind,
				"error", err,
			)
			r.setHealth(cfg.ChainID, HealthUnhealthy)
			continue
		}

		r.setHealth(cfg.ChainID, HealthHealthy)
		r.logger.Infow("Chain adapter registered",
			"chainId", cfg.ChainID,
			"kind", cfg.Kind,
			"endpoint", cfg.Endpoint,
		)
	}
	return nil
}

// Register adds an already-initialized adapter, mainly for tests.
func (r *Registry) Register(cfg Config, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[cfg.ChainID] = &entry{adapter: adapter, cfg: cfg, health: HealthHealthy, checked: time.Now()}
}

// Adapter resolves the adapter for a chain id.
func (r *Registry) Adapter(chainID order.ChainID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	return e.adapter, nil
}

// Executor resolves the write surface for a chain id, if the adapter has one.
func (r *Registry) Executor(chainID order.ChainID) (Executor, error) {
	a, err := r.Adapter(chainID)
	if err != nil {
		return nil, err
	}
	exec, ok := a.(Executor)
	if !ok {
		return nil, fmt.Errorf("chain %s adapter cannot submit transactions", chainID)
	}
	return exec, nil
}

// Config returns the stored configuration for a chain id.
func (r *Registry) Config(chainID order.ChainID) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[chainID]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	return e.cfg, nil
}

// CheckHealth probes every adapter and records the outcome.
func (r *Registry) CheckHealth(ctx context.Context) []ChainStatus {
	r.mu.RLock()
	ids := make([]order.ChainID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	statuses := make([]ChainStatus, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		e := r.entries[id]
		r.mu.RUnlock()

		health := HealthUnhealthy
		if e.adapter.Healthy(ctx) {
			health = HealthHealthy
		}
		r.setHealth(id, health)

		statuses = append(statuses, ChainStatus{
			ChainID:   id,
			Kind:      e.cfg.Kind,
			Health:    health,
			CheckedAt: time.Now(),
		})
	}
	return statuses
}

// Statuses returns the last recorded health per chain without probing.
func (r *Registry) Statuses() []ChainStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]ChainStatus, 0, len(r.entries))
	for id, e := range r.entries {
		statuses = append(statuses, ChainStatus{
			ChainID:   id,
			Kind:      e.cfg.Kind,
			Health:    e.health,
			CheckedAt: e.checked,
		})
	}
	return statuses
}

func (r *Registry) setHealth(chainID order.ChainID, h Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[chainID]; ok {
		e.health = h
		e.checked = time.Now()
	}
}
