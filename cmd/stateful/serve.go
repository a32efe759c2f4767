package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/stateful"
	"github.com/aretw0/stateful/internal/config"
	"github.com/aretw0/stateful/internal/demo"
	"github.com/aretw0/stateful/internal/presentation/tui"
	httpAdapter "github.com/aretw0/stateful/pkg/adapters/http"
	"github.com/aretw0/stateful/pkg/observability"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts a container and exposes it as a JSON API over HTTP, with Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log)
		withDemo, _ := cmd.Flags().GetBool("demo")
		if !cfg.Log.JSON && isTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr, strings.TrimSpace(stateful.Version))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger, withDemo)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default :8080)")
	serveCmd.Flags().Bool("demo", true, "Deploy the demo components")
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, withDemo bool) error {
	container, closeContainer, err := newContainer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeContainer()

	if withDemo {
		for _, ct := range demo.Components() {
			if err := container.Deploy(ct); err != nil {
				return fmt.Errorf("deploy %s: %w", ct.ID, err)
			}
		}
	}
	container.Start(ctx)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpAdapter.NewHandler(container,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithMetricsHandler(container.Metrics().Handler()),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store.Backend, "components", container.Deployed())
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	// Give outstanding requests a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
		if err := srv.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("close server: %w", err)
		}
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// newContainer builds a container from the configuration. The returned
// func closes the container and then its store.
func newContainer(cfg *config.Config, logger *slog.Logger) (*stateful.Container, func(), error) {
	backend, err := cfg.Store.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}

	opts := []stateful.Option{
		stateful.WithLogger(logger),
		stateful.WithName("stateful"),
		stateful.WithStore(backend.Store),
		stateful.WithStoreMiddleware(backend.Middlewares...),
		stateful.WithCacheConfig(cfg.Cache),
		stateful.WithMetrics(metrics),
	}
	if backend.Locker != nil {
		opts = append(opts, stateful.WithLocker(backend.Locker))
	}

	container, err := stateful.New(opts...)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return container, func() {
		if err := container.Close(); err != nil {
			logger.Warn("Failed to close container", "err", err)
		}
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close store", "err", err)
		}
	}, nil
}
