package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownPlatform is returned when no adapter serves a platform.
var ErrUnknownPlatform = errors.New("no adapter for platform")

// Gateway fans chat messages from every adapter into one handler and sends
// interview replies back out through the adapter of the originating platform.
type Gateway struct {
	logger *zap.Logger

	mu       sync.RWMutex
	adapters map[string]GatewayAdapter
	handler  MessageHandler
}

// NewGateway creates a gateway with no adapters.
func NewGateway(logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		adapters: make(map[string]GatewayAdapter),
		logger:   logger,
	}
}

// SetHandler installs the callback for inbound messages. It may be called
// before or after adapters are registered.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

func (g *Gateway) dispatch(msg *InboundMessage) {
	g.mu.RLock()
	h := g.handler
	g.mu.RUnlock()
	if h == nil {
		g.logger.Debug("inbound message dropped, no handler",
			zap.String("platform", msg.Platform), zap.String("channel", msg.ChannelID))
		return
	}
	h(msg)
}

// Register adds an adapter, replacing any earlier one for the same platform.
func (g *Gateway) Register(adapter GatewayAdapter) {
	platform := adapter.Platform()
	adapter.OnMessage(g.dispatch)

	g.mu.Lock()
	g.adapters[platform] = adapter
	g.mu.Unlock()
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// ConnectAll connects every adapter. A failing adapter does not keep the
// others offline; all failures are returned joined.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, adapter := range g.sorted() {
		platform := adapter.Platform()
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed", zap.String("platform", platform), zap.Error(err))
			errs = append(errs, fmt.Errorf("connect %s: %w", platform, err))
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return errors.Join(errs...)
}

// Send delivers msg through the adapter for msg.Platform.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, msg.Platform)
	}
	if err := adapter.Send(ctx, msg); err != nil {
		g.logger.Warn("send failed",
			zap.String("platform", msg.Platform), zap.String("channel", msg.ChannelID), zap.Error(err))
		return err
	}
	return nil
}

// StatusAll reports every adapter's connection state, sorted by platform.
func (g *Gateway) StatusAll() []AdapterStatus {
	adapters := g.sorted()
	out := make([]AdapterStatus, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Status())
	}
	return out
}

// Close disconnects every adapter and returns the joined failures.
func (g *Gateway) Close() error {
	var errs []error
	for _, adapter := range g.sorted() {
		if err := adapter.Close(); err != nil {
			g.logger.Warn("adapter close failed", zap.String("platform", adapter.Platform()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Adapters lists the registered platforms, sorted.
func (g *Gateway) Adapters() []string {
	adapters := g.sorted()
	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Platform())
	}
	return names
}

func (g *Gateway) sorted() []GatewayAdapter {
	g.mu.RLock()
	out := make([]GatewayAdapter, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Platform() < out[j].Platform() })
	return out
}
