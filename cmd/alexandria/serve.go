// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/config"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/observability"
	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/route"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/store"
	"github.com/PolycarpusTack/Alexandria-sub004/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown, including plugin deactivation.
const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Discover, activate and host plugins",
		Long: `Discover every plugin under plugins-dir, activate them in dependency
order and serve their routes until interrupted. On shutdown plugins are
deactivated dependents first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	defer goplugin.CleanupClients()

	var journal plugins.Journal
	if cfg.DatabaseURL != "" {
		pool, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return oops.With("operation", "open transition journal").Wrap(err)
		}
		defer pool.Close()
		journal = store.NewJournal(pool)
		logger.Info("transition journal enabled")
	}

	routes := route.NewTable()
	registry, err := newRegistry(cfg, logger, routes, journal)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var routeHandler http.Handler = routes

	if cfg.MetricsAddr != "" {
		obs := observability.NewServer(cfg.MetricsAddr, ready.Load, plugins.RegisterMetrics, eventbus.RegisterMetrics)
		errCh, err := obs.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		defer stopWithTimeout(logger, "observability server", obs.Stop)
		go monitorServerErrors(ctx, cancel, errCh, "observability")
		routeHandler = obs.Metrics().Instrument(routes)
	}

	if cfg.HTTPAddr != "" {
		srv, errCh, err := startHTTP(cfg.HTTPAddr, routeHandler)
		if err != nil {
			return err
		}
		defer stopWithTimeout(logger, "route server", srv.Shutdown)
		go monitorServerErrors(ctx, cancel, errCh, "routes")
		logger.Info("route server started", "addr", cfg.HTTPAddr)
	}

	// Registered last so it runs first: plugins go down before the servers.
	defer stopWithTimeout(logger, "registry", registry.Close)

	discovered, err := registry.Discover(ctx, cfg.PluginsDir)
	if err != nil {
		return oops.With("operation", "discover plugins").Wrap(err)
	}
	for _, rej := range discovered.Rejected {
		errutil.LogWarn(logger.With("path", rej.Path), "plugin rejected", rej.Err)
	}

	result := registry.Bootstrap(ctx)
	for id, ferr := range result.Failed {
		errutil.LogError(logger.With("plugin_id", id), "plugin failed to activate", ferr)
	}
	logger.Info("plugins ready",
		"discovered", len(discovered.Discovered),
		"rejected", len(discovered.Rejected),
		"activated", len(result.Activated),
		"failed", len(result.Failed),
		"blocked", len(result.Blocked),
	)

	ready.Store(true)
	<-ctx.Done()
	ready.Store(false)

	logger.Info("shutting down")
	return nil
}

func startHTTP(addr string, handler http.Handler) (*http.Server, <-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, oops.With("addr", addr).Wrapf(err, "failed to listen")
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv, errCh, nil
}

func stopWithTimeout(logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		errutil.LogWarn(logger.With("component", name), "shutdown failed", err)
	}
}

// monitorServerErrors cancels ctx when a server fails. It exits when an
// error arrives, the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
