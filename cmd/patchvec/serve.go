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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rodrigopitanga/patchvec/internal/handler"
	"github.com/rodrigopitanga/patchvec/internal/metrics"
	"github.com/rodrigopitanga/patchvec/internal/middleware"
	"github.com/rodrigopitanga/patchvec/internal/router"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.shutdown()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	configureSlog(a.cfg.Log.Level)
	slog.Info("patchvec starting", "instance", a.cfg.Instance.Name,
		"version", version, "data_dir", a.cfg.DataDir,
		"vector_store", a.cfg.VectorStore.Type)

	// Warm the engine so the first request skips the cold start.
	if err := a.svc.Store.LoadOrInit("_system", "health"); err != nil {
		slog.Warn("engine warm-up failed", "error", err)
	} else {
		slog.Info("engine warm-up complete")
	}

	reg := prometheus.NewRegistry()
	httpMetrics := middleware.NewHTTPMetrics(reg)
	reg.MustRegister(metrics.NewCollector(a.svc.Metrics, map[string]interface{}{
		"version": version,
	}, map[string]string{
		"version":      version,
		"vector_store": a.cfg.VectorStore.Type,
		"auth":         a.cfg.Auth.Mode,
	}))

	mux := router.New(&router.Dependencies{
		Handler: handler.Deps{
			Svc:              a.svc,
			Gate:             a.gate,
			Version:          version,
			InstanceName:     a.cfg.Instance.Name,
			InstanceDesc:     a.cfg.Instance.Desc,
			VectorStoreType:  a.cfg.VectorStore.Type,
			AuthMode:         a.cfg.Auth.Mode,
			MaxFileSizeMB:    a.cfg.Ingest.MaxFileSizeMB,
			CommonEnabled:    a.cfg.CommonEnabled,
			CommonTenant:     a.cfg.CommonTenant,
			CommonCollection: a.cfg.CommonCollection,
		},
		Authenticator: a.authn,
		MetricsReg:    reg,
		HTTPMetrics:   httpMetrics,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  time.Duration(a.cfg.Server.TimeoutKeepAlive) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func configureSlog(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
