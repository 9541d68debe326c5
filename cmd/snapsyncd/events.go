// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/signal"
	"syscall"

	"github.com/mobiletoly/go-snapsync/internal/events"
	"github.com/mobiletoly/go-snapsync/snapsync"
	"github.com/spf13/cobra"
)

func newEventsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream sync events from Redis as JSON lines",
		Long: `Subscribes to redis.channel and prints every sync event published by
snapsyncd serve until interrupted. Requires redis.addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := root.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			if cfg.Redis.Addr == "" {
				return errors.New("redis.addr is not configured")
			}
			rdb := events.NewRedisClient(cfg.Redis)
			defer rdb.Close()
			publisher := events.NewRedisPublisher(rdb, cfg.Redis.Channel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Streaming sync events", "channel", publisher.Channel())
			return runEvents(ctx, publisher, cmd.OutOrStdout())
		},
	}
}

// eventSubscriber yields sync events until ctx ends
type eventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan snapsync.SyncEvent, error)
}

// runEvents writes one JSON object per event. It returns nil once ctx ends.
func runEvents(ctx context.Context, sub eventSubscriber, out io.Writer) error {
	ch, err := sub.Subscribe(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for event := range ch {
		if err := enc.Encode(event); err != nil {
			return err
		}
	}
	return nil
}
