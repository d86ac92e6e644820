package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stulshyan/sherpaAI-sub000/config"
)

const defaultProbeTimeout = 10 * time.Second

// Registry resolves adapters and their fallback chains by id.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	logger       *zap.Logger
	adapters     map[string]Adapter
	configs      map[string]config.AdapterConfig
	order        []string
	chains       map[string][]string
	probeTimeout time.Duration
	onHealth     func(id string, healthy bool)
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithProbeTimeout bounds each adapter probe during HealthCheck.
func WithProbeTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithHealthObserver is called with every probe result.
func WithHealthObserver(fn func(id string, healthy bool)) RegistryOption {
	return func(r *Registry) { r.onHealth = fn }
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l.Named("adapters")
		}
	}
}

// NewRegistry validates the adapter set and fallback chains, then builds every
// adapter with factory. A nil factory uses the provider-based DefaultFactory.
func NewRegistry(cfgs []config.AdapterConfig, chains map[string][]string, factory Factory, opts ...RegistryOption) (*Registry, error) {
	if err := config.ValidateAdapters(cfgs); err != nil {
		return nil, err
	}
	if err := config.ValidateFallbackChains(cfgs, chains); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = DefaultFactory
	}
	r := &Registry{
		logger:       zap.NewNop(),
		adapters:     make(map[string]Adapter, len(cfgs)),
		configs:      make(map[string]config.AdapterConfig, len(cfgs)),
		chains:       make(map[string][]string, len(chains)),
		probeTimeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, cfg := range cfgs {
		a, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("build adapter %s: %w", cfg.ID, err)
		}
		r.adapters[cfg.ID] = a
		r.configs[cfg.ID] = cfg
		r.order = append(r.order, cfg.ID)
	}
	for id, chain := range chains {
		r.chains[id] = append([]string(nil), chain...)
	}
	return r, nil
}

// DefaultFactory picks the implementation from cfg.Provider.
func DefaultFactory(cfg config.AdapterConfig) (Adapter, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic, config.ProviderBedrock:
		return newAnthropic(cfg)
	case config.ProviderOpenAI, config.ProviderOllama:
		return newLangchain(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, id)
	}
	return a, nil
}

// Config returns the configuration of id.
func (r *Registry) Config(id string) (config.AdapterConfig, bool) {
	c, ok := r.configs[id]
	return c, ok
}

// List returns every adapter configuration in registration order.
func (r *Registry) List() []config.AdapterConfig {
	out := make([]config.AdapterConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.configs[id])
	}
	return out
}

func (r *Registry) Has(id string) bool {
	_, ok := r.adapters[id]
	return ok
}

// FallbackChain returns a copy of the alternates configured for id; empty when none.
func (r *Registry) FallbackChain(id string) []string {
	chain := r.chains[id]
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}

// HealthCheck probes every adapter concurrently. It never fails: an adapter
// that errors, panics or exceeds the probe timeout reports false.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	var mu sync.Mutex
	results := make(map[string]bool, len(r.adapters))
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range r.order {
		id, a := id, r.adapters[id]
		g.Go(func() error {
			ok := r.probe(gctx, id, a)
			mu.Lock()
			results[id] = ok
			mu.Unlock()
			if r.onHealth != nil {
				r.onHealth(id, ok)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Registry) probe(ctx context.Context, id string, a Adapter) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("adapter probe panicked", zap.String("adapter", id), zap.Any("panic", rec))
			ok = false
		}
	}()
	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	if err := a.Ping(pctx); err != nil {
		r.logger.Debug("adapter unhealthy", zap.String("adapter", id), zap.Error(err))
		return false
	}
	return true
}

// IDs returns the sorted adapter ids.
func (r *Registry) IDs() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}
