// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"

	"github.com/mobiletoly/go-snapsync/internal/config"
	"github.com/mobiletoly/go-snapsync/internal/logging"
	"github.com/mobiletoly/go-snapsync/internal/server"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "snapsyncd",
		Short: "Snapshot ingestion server for client-owned users and tasks",
		Long: `snapsyncd accepts full snapshots of a client's users and tasks, records every
attempt in an audit log, and inserts rows that are new for that client.

Configuration is read from an optional config file, a .env file and
SNAPSYNC_* environment variables (for example SNAPSYNC_DATABASE_URL).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd(opts), newLogsCmd(opts), newPushCmd(opts), newEventsCmd(opts))
	return cmd
}

// load reads configuration and builds the process logger
func (o *rootOptions) load() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(cfg.Logging, server.ServiceName)
	if err != nil {
		return nil, nil, nil, err
	}
	if closer == nil {
		closer = nopCloser{}
	}
	return cfg, logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
