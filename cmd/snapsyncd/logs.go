// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mobiletoly/go-snapsync/internal/events"
	"github.com/mobiletoly/go-snapsync/internal/export"
	"github.com/mobiletoly/go-snapsync/internal/server"
	"github.com/mobiletoly/go-snapsync/snapsync"
	"github.com/spf13/cobra"
)

type logsOptions struct {
	clientID string
	limit    int
	xlsxPath string
}

func newLogsCmd(root *rootOptions) *cobra.Command {
	opts := &logsOptions{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the latest sync attempt per client, or one client's history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := root.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			pool, err := server.NewPool(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			serviceConfig := server.ServiceConfigFrom(cfg)
			serviceConfig.CreateSchema = false
			svc, err := snapsync.NewSyncService(pool, serviceConfig, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			var lastEvents lastEventLookup
			if cfg.Redis.Addr != "" {
				rdb := events.NewRedisClient(cfg.Redis)
				defer rdb.Close()
				lastEvents = events.NewRedisPublisher(rdb, cfg.Redis.Channel)
			}

			return runLogs(ctx, svc, lastEvents, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.clientID, "client", "", "show the attempt history of one client")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "maximum attempts with --client")
	cmd.Flags().StringVar(&opts.xlsxPath, "xlsx", "", "write an XLSX workbook to this path instead of printing")
	return cmd
}

// logReader is the read side of the sync service
type logReader interface {
	LatestLogsPerClient(ctx context.Context) ([]snapsync.LogSummary, error)
	ListAttempts(ctx context.Context, clientID string, limit int) ([]snapsync.SyncAttempt, error)
}

// lastEventLookup returns the most recent sync event kept for a client
type lastEventLookup interface {
	LastEvent(ctx context.Context, clientID string) (*snapsync.SyncEvent, error)
}

// runLogs prints or exports the logs. With a non-nil lastEvents the summary table gains a
// column with each client's last published event.
func runLogs(ctx context.Context, svc logReader, lastEvents lastEventLookup, out io.Writer, opts *logsOptions) error {
	var (
		logs     []snapsync.LogSummary
		attempts []snapsync.SyncAttempt
		err      error
	)
	if opts.clientID != "" {
		attempts, err = svc.ListAttempts(ctx, opts.clientID, opts.limit)
	} else {
		logs, err = svc.LatestLogsPerClient(ctx)
	}
	if err != nil {
		return err
	}

	if opts.xlsxPath != "" {
		f, err := os.Create(opts.xlsxPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", opts.xlsxPath, err)
		}
		if err := export.WriteLogsXLSX(f, logs, attempts); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Wrote %d logs and %d attempts to %s\n", len(logs), len(attempts), opts.xlsxPath)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if opts.clientID != "" {
		fmt.Fprintln(tw, "TIMESTAMP\tSTATUS\tERROR\tUPDATED")
		for _, a := range attempts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Timestamp, a.Status, deref(a.ErrorMessage), a.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	} else if lastEvents == nil {
		fmt.Fprintln(tw, "CLIENT\tTIMESTAMP\tSTATUS\tUSERS\tTASKS\tERROR")
		for _, l := range logs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", l.ClientID, l.Timestamp, l.Status, l.TotalUsers, l.TotalTasks, deref(l.ErrorMessage))
		}
	} else {
		fmt.Fprintln(tw, "CLIENT\tTIMESTAMP\tSTATUS\tUSERS\tTASKS\tERROR\tLAST EVENT")
		for _, l := range logs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", l.ClientID, l.Timestamp, l.Status, l.TotalUsers, l.TotalTasks, deref(l.ErrorMessage),
				describeLastEvent(ctx, lastEvents, l.ClientID))
		}
	}
	return tw.Flush()
}

// describeLastEvent never fails the listing; events are best effort
func describeLastEvent(ctx context.Context, lastEvents lastEventLookup, clientID string) string {
	event, err := lastEvents.LastEvent(ctx, clientID)
	switch {
	case err != nil:
		return "unavailable"
	case event == nil:
		return "-"
	default:
		return fmt.Sprintf("%s %s @ %s", event.Type, event.Timestamp, event.OccurredAt.UTC().Format(time.RFC3339))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
