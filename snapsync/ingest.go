// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errIngestBatchFailed = errors.New("ingest batch failed")

const ingestBatchChunkSize = 128

// IngestStats counts conflict-skip outcomes for one collection
type IngestStats struct {
	Inserted int
	Skipped  int
}

// EntityIngestor applies snapshot collections with conflict-skip inserts scoped to a client.
// Rows are queued per statement into pgx batches; a row that hits an existing natural key
// is skipped, any other failure aborts the batch and the caller's transaction.
type EntityIngestor struct {
	sqlInsertUser string
	sqlInsertTask string
	chunkSize     int
}

// NewEntityIngestor builds an ingestor for the given tables
func NewEntityIngestor(usersTable, tasksTable string) *EntityIngestor {
	return &EntityIngestor{
		sqlInsertUser: fmt.Sprintf(`
			INSERT INTO %s (name, email, age, client_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`, quoteTable(usersTable)),
		sqlInsertTask: fmt.Sprintf(`
			INSERT INTO %s (title, description, user_id, completed, client_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING`, quoteTable(tasksTable)),
		chunkSize: ingestBatchChunkSize,
	}
}

// IngestUsers inserts users for the client, skipping existing natural keys
func (in *EntityIngestor) IngestUsers(ctx context.Context, tx pgx.Tx, clientID string, users []User) (IngestStats, error) {
	stats, err := in.ingest(ctx, tx, len(users), func(b *pgx.Batch, i int) *pgx.QueuedQuery {
		u := users[i]
		return b.Queue(in.sqlInsertUser, u.Name, u.Email, u.Age, clientID)
	})
	if err != nil {
		return stats, fmt.Errorf("failed to ingest users: %w", err)
	}
	return stats, nil
}

// IngestTasks inserts tasks for the client, skipping existing natural keys
func (in *EntityIngestor) IngestTasks(ctx context.Context, tx pgx.Tx, clientID string, tasks []Task) (IngestStats, error) {
	stats, err := in.ingest(ctx, tx, len(tasks), func(b *pgx.Batch, i int) *pgx.QueuedQuery {
		t := tasks[i]
		return b.Queue(in.sqlInsertTask, t.Title, t.Description, t.UserID, t.Completed, clientID)
	})
	if err != nil {
		return stats, fmt.Errorf("failed to ingest tasks: %w", err)
	}
	return stats, nil
}

func (in *EntityIngestor) ingest(ctx context.Context, tx pgx.Tx, n int, queue func(b *pgx.Batch, i int) *pgx.QueuedQuery) (IngestStats, error) {
	var stats IngestStats
	if n == 0 {
		return stats, nil
	}

	chunk := in.chunkSize
	if chunk <= 0 {
		chunk = ingestBatchChunkSize
	}

	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}

		b := &pgx.Batch{}
		for i := start; i < end; i++ {
			queue(b, i).Exec(func(ct pgconn.CommandTag) error {
				if ct.RowsAffected() > 0 {
					stats.Inserted++
				} else {
					stats.Skipped++
				}
				return nil
			})
		}

		br := tx.SendBatch(ctx, b)
		if err := br.Close(); err != nil {
			return stats, fmt.Errorf("%w: rows %d-%d: %w", errIngestBatchFailed, start, end-1, err)
		}
	}

	return stats, nil
}
