// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// bootstrapStatements returns idempotent DDL for the three tables. Existing tables are
// never altered. NULLS NOT DISTINCT requires PostgreSQL 15 or later.
func bootstrapStatements(tables TableNames) []string {
	logs := quoteTable(tables.SyncLogs)
	users := quoteTable(tables.Users)
	tasks := quoteTable(tables.Tasks)
	usersIdx := pgx.Identifier{indexName(tables.Users, "natural_key_idx")}.Sanitize()
	tasksIdx := pgx.Identifier{indexName(tables.Tasks, "natural_key_idx")}.Sanitize()
	logsIdx := pgx.Identifier{indexName(tables.SyncLogs, "client_status_ts_idx")}.Sanitize()

	return []string{
		/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             BIGSERIAL   PRIMARY KEY,
			client_id      TEXT        NOT NULL,
			"timestamp"    TEXT        NOT NULL,
			status         TEXT        NOT NULL CHECK (status IN ('processing','success','failed')),
			last_sync_data TEXT,
			error_message  TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (client_id, "timestamp")
		)`, logs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (client_id, status, "timestamp" DESC)`, logsIdx, logs),

		/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        BIGSERIAL PRIMARY KEY,
			name      TEXT      NOT NULL,
			email     TEXT      NOT NULL,
			age       INTEGER,
			client_id TEXT      NOT NULL
		)`, users),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (client_id, email)`, usersIdx, users),

		/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			title       TEXT      NOT NULL CHECK (title <> ''),
			description TEXT      NOT NULL DEFAULT '',
			user_id     BIGINT,
			completed   BOOLEAN   NOT NULL DEFAULT FALSE,
			client_id   TEXT      NOT NULL
		)`, tasks),
		// a null user_id is one key value of its own, distinct from every real id
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (client_id, title, user_id) NULLS NOT DISTINCT`, tasksIdx, tasks),
	}
}

func indexName(table, suffix string) string {
	parts := strings.Split(table, ".")
	return parts[len(parts)-1] + "_" + suffix
}

// EnsureSchema creates the tables and natural-key indexes if they do not exist
func (s *SyncService) EnsureSchema(ctx context.Context) error {
	return pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, stmt := range bootstrapStatements(s.tables) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to bootstrap schema: %w", err)
			}
		}
		return nil
	})
}
