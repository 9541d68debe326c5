// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB provides transactional handles and one-off queries. *pgxpool.Pool satisfies it.
type DB interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Querier is the subset shared by pgx.Tx and the pool
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TableNames configures the three tables the service works with.
// Names may be schema-qualified ("sync.logs").
type TableNames struct {
	SyncLogs string
	Users    string
	Tasks    string
}

func (t TableNames) withDefaults() TableNames {
	if t.SyncLogs == "" {
		t.SyncLogs = DefaultSyncLogsTable
	}
	if t.Users == "" {
		t.Users = DefaultUsersTable
	}
	if t.Tasks == "" {
		t.Tasks = DefaultTasksTable
	}
	return t
}

// quoteTable sanitizes a possibly schema-qualified table name
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
