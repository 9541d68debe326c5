// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mobiletoly/go-snapsync/snapclient"
	"github.com/spf13/cobra"
)

type pushOptions struct {
	watch bool
	force bool
}

func newPushCmd(root *rootOptions) *cobra.Command {
	opts := &pushOptions{}
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the local SQLite snapshot to a sync server",
		Long: `Reads users and tasks from the SQLite database at client.sqlite_path and
submits them to client.server_url. With --watch the push repeats every
client.interval until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := root.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			db, err := sql.Open("sqlite3", cfg.Client.SQLitePath)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", cfg.Client.SQLitePath, err)
			}
			defer db.Close()

			clientConfig := snapclient.DefaultConfig()
			if cfg.Client.Interval > 0 {
				clientConfig.Interval = cfg.Client.Interval
			}
			clientConfig.SkipUnchanged = !opts.force

			client, err := snapclient.NewClient(db, cfg.Client.ServerURL, cfg.Client.ClientID, clientConfig, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if opts.watch {
				if err := client.Run(ctx); ctx.Err() == nil {
					return err
				}
				return nil
			}

			res, err := client.PushOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Skipped {
				_, err = fmt.Fprintf(out, "Client %s: no local changes since %s\n", client.ClientID, res.Timestamp)
				return err
			}
			_, err = fmt.Fprintf(out, "Client %s: %s (timestamp %s)\n", client.ClientID, res.Response.Message, res.Timestamp)
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep pushing every client.interval")
	cmd.Flags().BoolVar(&opts.force, "force", false, "push even when nothing changed locally")
	return cmd
}
