package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nidhogg/agent-interview/internal/app"
	"github.com/nidhogg/agent-interview/internal/config"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/provider"
	"github.com/nidhogg/agent-interview/internal/transcript"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath        string
	verbose        bool
	transcriptPath string
	modelRef       string
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:           "interview",
	Short:         "Create AI agent configurations by interview",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultCfg := os.Getenv("CONFIG_PATH")
	if defaultCfg == "" {
		defaultCfg = "configs/interview.json"
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfg, "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&transcriptPath, "transcript", "", "Transcript database (default: database.sqlite.path)")
	rootCmd.PersistentFlags().StringVarP(&modelRef, "model", "m", "", "Completion model, e.g. openai:gpt-4o")

	rootCmd.AddCommand(createCmd, editCmd, featuresCmd, historyCmd, mcpCmd, providersCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// env is everything a subcommand needs to run an interview.
type env struct {
	cfg         *config.Config
	logger      *zap.Logger
	completer   provider.Completer
	providers   *provider.Router
	model       string
	registry    feature.Registry
	images      imagegen.Generator
	transcripts *transcript.Store
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := app.NewLogger(config.LogConfig{Level: level})
	if err != nil {
		return nil, err
	}

	completer, err := app.Providers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	path := transcriptPath
	if path == "" {
		path = cfg.Database.SQLite.Path
	}
	var ts *transcript.Store
	if path != "" {
		ts, err = transcript.Open(path)
		if err != nil {
			logger.Warn("transcripts disabled", zap.String("path", path), zap.Error(err))
			ts = nil
		}
	}

	model := modelRef
	if model == "" {
		model = cfg.Interview.Model
	}
	return &env{
		cfg:         cfg,
		logger:      logger,
		completer:   completer,
		providers:   completer,
		model:       model,
		registry:    app.Registry(cfg.Registry, logger),
		images:      app.Images(cfg.Images, logger),
		transcripts: ts,
	}, nil
}

func (e *env) close() {
	if e.transcripts != nil {
		e.transcripts.Close()
	}
	_ = e.logger.Sync()
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
