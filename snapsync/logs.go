// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const defaultAttemptsLimit = 100

// LogReader runs the read-only audit queries
type LogReader struct {
	db DB

	sqlLatestPerClient string
	sqlAttempts        string
}

// NewLogReader builds a reader over the configured tables
func NewLogReader(db DB, tables TableNames) *LogReader {
	logs := quoteTable(tables.SyncLogs)
	users := quoteTable(tables.Users)
	tasks := quoteTable(tables.Tasks)
	return &LogReader{
		db: db,
		// Counts are current totals, not the totals at the time of the attempt.
		sqlLatestPerClient: fmt.Sprintf(`
			SELECT l.client_id,
			       l."timestamp",
			       l.status,
			       l.error_message,
			       (SELECT COUNT(*) FROM %[2]s u WHERE u.client_id = l.client_id) AS total_users,
			       (SELECT COUNT(*) FROM %[3]s t WHERE t.client_id = l.client_id) AS total_tasks
			FROM (
				SELECT DISTINCT ON (client_id) client_id, "timestamp", status, error_message
				FROM %[1]s
				ORDER BY client_id, "timestamp" DESC, id DESC
			) l
			ORDER BY l."timestamp" DESC, l.client_id`, logs, users, tasks),
		sqlAttempts: fmt.Sprintf(`
			SELECT client_id, "timestamp", status, error_message, created_at, updated_at
			FROM %s
			WHERE client_id = $1
			ORDER BY "timestamp" DESC, id DESC
			LIMIT $2`, logs),
	}
}

// LatestLogsPerClient returns one summary per client, most recent first
func (r *LogReader) LatestLogsPerClient(ctx context.Context) ([]LogSummary, error) {
	rows, err := r.db.Query(ctx, r.sqlLatestPerClient)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log summaries: %w", err)
	}
	entities, err := pgx.CollectRows(rows, pgx.RowToStructByName[LogSummaryEntity])
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync log summaries: %w", err)
	}

	summaries := make([]LogSummary, 0, len(entities))
	for i := range entities {
		summaries = append(summaries, entities[i].ToLogSummary())
	}
	return summaries, nil
}

// ListAttempts returns the attempt history of one client, most recent first
func (r *LogReader) ListAttempts(ctx context.Context, clientID string, limit int) ([]SyncAttempt, error) {
	if limit <= 0 {
		limit = defaultAttemptsLimit
	}
	rows, err := r.db.Query(ctx, r.sqlAttempts, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync attempts: %w", err)
	}
	entities, err := pgx.CollectRows(rows, pgx.RowToStructByName[SyncLogEntity])
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync attempts: %w", err)
	}

	attempts := make([]SyncAttempt, 0, len(entities))
	for i := range entities {
		attempts = append(attempts, entities[i].ToSyncAttempt())
	}
	return attempts, nil
}
