package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoProvider is returned when a model reference resolves to no provider.
var ErrNoProvider = errors.New("no provider available")

// Router routes completions by model reference. A reference is either
// "providerID:model" or a bare model name served by the default provider.
type Router struct {
	logger *zap.Logger

	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds p. The first provider registered becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	r.providers[p.ID()] = p
	if r.fallback == "" {
		r.fallback = p.ID()
	}
	r.mu.Unlock()
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault picks the provider that serves bare model names.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	r.fallback = providerID
	r.mu.Unlock()
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Resolve maps a model reference to a provider and the provider-local model
// name. A prefix that names no provider is treated as part of the model
// name, so "org:model" style ids still reach the default provider.
func (r *Router) Resolve(ref string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, model, ok := strings.Cut(ref, ":"); ok {
		if p, found := r.providers[id]; found {
			return p, model, nil
		}
	}
	p, ok := r.providers[r.fallback]
	if !ok {
		return nil, "", fmt.Errorf("%w for model %q", ErrNoProvider, ref)
	}
	return p, ref, nil
}

// Complete routes req to the provider named by req.Model. Failures are
// returned as is; the router never retries.
func (r *Router) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	p, model, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	routed := *req
	routed.Model = model
	resp, err := p.Complete(ctx, &routed)
	if err != nil {
		r.logger.Warn("completion failed",
			zap.String("provider", p.ID()), zap.String("model", model), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// ListProviders returns the registered providers sorted by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Health is the outcome of one provider's health check.
type Health struct {
	ID      string
	Name    string
	Default bool
	Err     error
}

// HealthCheck checks every provider concurrently and reports each result,
// sorted by provider ID.
func (r *Router) HealthCheck(ctx context.Context) []Health {
	providers := r.ListProviders()
	def := r.DefaultID()
	out := make([]Health, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range providers {
		g.Go(func() error {
			out[i] = Health{ID: p.ID(), Name: p.Name(), Default: p.ID() == def, Err: p.HealthCheck(gctx)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// New builds a provider from its config.
func New(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
