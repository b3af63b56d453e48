package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flowsmith-ai/flowsmith/internal/adapters/engine"
	"github.com/flowsmith-ai/flowsmith/internal/adapters/llm"
	"github.com/flowsmith-ai/flowsmith/internal/adapters/state"
	"github.com/flowsmith-ai/flowsmith/internal/config"
	"github.com/flowsmith-ai/flowsmith/internal/core"
	"github.com/flowsmith-ai/flowsmith/internal/service"
	"github.com/flowsmith-ai/flowsmith/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the flowsmith API server.

The server exposes the conversation and slot-management REST API and
keeps running until interrupted. Configuration changes to the log level
are picked up without a restart.

Examples:
  # Start with defaults (:8084)
  flowsmith serve

  # Custom bind address
  flowsmith serve --addr 0.0.0.0:3000`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"address to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := state.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("closing store", "error", closeErr.Error())
		}
	}()

	// Idempotent: a pool of the configured shape always exists before
	// the first claim.
	if err := store.SeedSlots(ctx, cfg.Slots.Projects, cfg.Slots.SlotsPerProject); err != nil {
		return fmt.Errorf("seeding slot pool: %w", err)
	}

	engineClient := engine.NewClient(cfg.Engine.BaseURL,
		engine.WithAPIKey(cfg.Engine.APIKey),
		engine.WithTimeout(cfg.Engine.RequestTimeout),
		engine.WithLogger(logger),
	)

	var completer core.Completer
	if cfg.Completer.Provider != "" {
		client, err := llm.NewClient(cfg.Completer, llm.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("configuring completion provider: %w", err)
		}
		completer = client
		logger.Info("completion provider configured",
			"provider", cfg.Completer.Provider, "model", cfg.Completer.Model)
	} else {
		logger.Warn("no completion provider configured, using keyword extraction")
	}

	designer, err := service.NewDesigner()
	if err != nil {
		return fmt.Errorf("loading capability table: %w", err)
	}

	policy := &service.RetryPolicy{
		MaxAttempts:    cfg.Deploy.MaxAttempts,
		BaseDelay:      cfg.Deploy.BaseDelay,
		MaxDelay:       cfg.Deploy.MaxDelay,
		Multiplier:     cfg.Deploy.Multiplier,
		JitterFactor:   cfg.Deploy.JitterFactor,
		RequestTimeout: cfg.Engine.RequestTimeout,
	}

	allocator := service.NewAllocator(store, logger)
	coordinator := service.NewCoordinator(engineClient, store, service.NewHealer(), policy, logger)
	orchestrator := service.NewOrchestrator(store, completer, designer, coordinator, allocator,
		service.OrchestratorConfig{
			Deadline:       cfg.Session.Deadline,
			MaxHistory:     cfg.Session.MaxHistory,
			ExtractTimeout: cfg.Session.ExtractTimeout,
		}, logger)

	server := web.NewServer(orchestrator, allocator, store, cfg.Server, web.WithLogger(logger))

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		watcher := config.NewWatcher(cfgPath, func(updated *config.Config) {
			logger.SetLevel(updated.Log.Level)
			logger.Info("log level updated", "level", updated.Log.Level)
		})
		return watcher.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
