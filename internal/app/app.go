// Package app builds the runtime components both binaries share from a
// loaded config.
package app

import (
	"context"
	"fmt"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/config"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/provider"
	"go.uber.org/zap"
)

// NewLogger builds a zap logger from the log section. The json format uses
// the production encoder; anything else the development one.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = level
	}
	return zc.Build()
}

// Providers registers every configured completion provider. The interview
// provider, when set, becomes the default for bare model names.
func Providers(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*provider.Router, error) {
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(ctx, provider.ProviderConfig{
			ID:       pc.ID,
			Type:     pc.Type,
			Name:     pc.Name,
			Endpoint: pc.Endpoint,
			APIKey:   pc.APIKey,
			Models:   pc.Models,
			Extra:    pc.Extra,
			Timeout:  pc.Timeout.Std(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		router.Register(p)
	}
	if cfg.Interview.Provider != "" {
		router.SetDefault(cfg.Interview.Provider)
	}
	return router, nil
}

// Registry returns the feature catalog source. Hub catalogs are fetched
// once and then served from memory.
func Registry(cfg config.RegistryConfig, logger *zap.Logger) feature.Registry {
	if cfg.Type == "hub" {
		var opts []feature.HubOption
		if !cfg.OfficialOnly {
			opts = append(opts, feature.WithAllPlugins())
		}
		return feature.NewSnapshot(feature.NewHubRegistry(cfg.URL, logger, opts...))
	}
	return feature.BuiltinRegistry{ExcludeDev: true}
}

// Images returns the configured image backend.
func Images(cfg config.ImagesConfig, logger *zap.Logger) imagegen.Generator {
	return imagegen.FromOptions(imagegen.Options{
		FalKey:         cfg.FalKey,
		FalEndpoint:    cfg.FalEndpoint,
		OpenAIKey:      cfg.OpenAIKey,
		OpenAIEndpoint: cfg.OpenAIEndpoint,
		Timeout:        cfg.Timeout.Std(),
	}, logger)
}

// Defaults returns the fill-ins for finished agent configs.
func Defaults(cfg config.InterviewConfig) agent.Defaults {
	return agent.Defaults{
		Model:         cfg.Model,
		SmallModel:    cfg.SmallModel,
		LargeModel:    cfg.LargeModel,
		VoiceEndpoint: cfg.VoiceEndpoint,
	}
}
