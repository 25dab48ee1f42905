package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/uigen/internal/auth"
	"github.com/knoguchi/uigen/internal/config"
	"github.com/knoguchi/uigen/internal/llm"
	"github.com/knoguchi/uigen/internal/model"
	"github.com/knoguchi/uigen/internal/registry"
	"github.com/knoguchi/uigen/internal/results"
	"github.com/knoguchi/uigen/internal/server"
	"github.com/knoguchi/uigen/internal/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the generator page (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	slog.Info("starting uigen",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"model", model.ID,
	)

	loader := newLoader(cfg)
	if cfg.PreloadModel {
		if _, err := loader.Load(ctx); err != nil {
			return fmt.Errorf("failed to preload model: %w", err)
		}
	}

	// Downloadable results
	store := results.NewStore(cfg.ResultTTL)
	defer store.Close()
	links := auth.NewJWTManager(auth.DefaultJWTConfig(cfg.DownloadSecret, cfg.ResultTTL))

	codegen := service.NewCodegenService(loader,
		service.WithResultStore(store),
		service.WithMaxConcurrent(cfg.MaxConcurrentGenerations),
	)

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:        cfg.HTTPPort,
		Logger:      slog.Default(),
		Generator:   codegen,
		ModelStatus: loader,
		Store:       store,
		Links:       links,

		GenerateTimeout: cfg.GenerateTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// setup loads configuration and logs in to the model registry. Any failure
// here aborts startup.
func setup(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logLevel.Set(parseLogLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	account, err := registry.NewAuthenticator(cfg.HubURL, nil).Login(ctx, cfg.HFToken)
	if err != nil {
		return nil, fmt.Errorf("failed to log in to model registry: %w", err)
	}
	slog.Info("logged in to model registry", "account", account.Name, "role", account.Role)

	return cfg, nil
}

func newLoader(cfg *config.Config) *model.Loader {
	fetcher := registry.NewHubFetcher(cfg.HubURL, cfg.HFToken, cfg.ModelCacheDir, slog.Default())
	return model.NewLoader(fetcher, func(modelID string) llm.Generator {
		return llm.NewInferenceClient(modelID,
			llm.WithBaseURL(cfg.InferenceURL),
			llm.WithToken(cfg.HFToken),
			llm.WithHTTPClient(&http.Client{Timeout: cfg.InferenceTimeout}),
		)
	}, slog.Default())
}

// Ensure interfaces are satisfied at compile time
var (
	_ llm.Generator          = (*llm.InferenceClient)(nil)
	_ model.Fetcher          = (*registry.HubFetcher)(nil)
	_ service.PipelineLoader = (*model.Loader)(nil)
	_ server.Generator       = (*service.CodegenService)(nil)
	_ server.ModelStatus     = (*model.Loader)(nil)
)
