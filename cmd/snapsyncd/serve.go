// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/mobiletoly/go-snapsync/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := opts.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			components, err := server.SetupServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to setup server: %w", err)
			}
			defer components.Close()

			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           components.Handler,
				ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting sync server", "addr", httpServer.Addr)
				logger.Info("  POST /api/sync                - Submit a snapshot")
				logger.Info("  GET  /api/sync-logs           - Latest attempt per client")
				logger.Info("  GET  /api/sync-logs/{clientId} - Attempt history of one client")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			logger.Info("Server exited")
			return nil
		},
	}
}
