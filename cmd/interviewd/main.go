package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/agent-interview/internal/api"
	"github.com/nidhogg/agent-interview/internal/app"
	"github.com/nidhogg/agent-interview/internal/command"
	"github.com/nidhogg/agent-interview/internal/config"
	"github.com/nidhogg/agent-interview/internal/events"
	"github.com/nidhogg/agent-interview/internal/gateway"
	msgrouter "github.com/nidhogg/agent-interview/internal/router"
	"github.com/nidhogg/agent-interview/internal/session"
	pgstore "github.com/nidhogg/agent-interview/internal/store"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/interview.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("config loaded", zap.String("path", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	completer, err := app.Providers(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("provider setup failed", zap.Error(err))
	}

	// PostgreSQL keeps agents and transcripts; without it sessions live in memory only.
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(ctx, cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, events stay in process", zap.Error(busErr))
		} else {
			bus = b
		}
	}

	mcfg := session.Config{
		Completer: completer,
		Model:     cfg.Interview.Model,
		Registry:  app.Registry(cfg.Registry, logger),
		Images:    app.Images(cfg.Images, logger),
		Defaults:  app.Defaults(cfg.Interview),
		Logger:    logger,
	}
	if pgStore != nil {
		mcfg.Store = pgStore
	}
	if bus != nil {
		mcfg.Publisher = bus
	}
	manager := session.NewManager(mcfg)

	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, manager)

	gw := gateway.NewGateway(logger)

	msgRouter := msgrouter.New(ctx, manager, gw, commands, logger)
	gw.SetHandler(msgRouter.Handle)

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	h := api.NewHandler(manager, agentsOrNil(pgStore), streamOrNil(bus), gw, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("interview server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	manager.Close()
	msgRouter.Wait()
	if err := gw.Close(); err != nil {
		logger.Warn("gateway close", zap.Error(err))
	}
	if bus != nil {
		bus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

// agentsOrNil keeps a nil *Store from becoming a non-nil interface.
func agentsOrNil(s *pgstore.Store) api.Agents {
	if s == nil {
		return nil
	}
	return s
}

func streamOrNil(b *events.Bus) api.Stream {
	if b == nil {
		return nil
	}
	return b
}
