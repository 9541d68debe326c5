// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AuditLog is the append-and-update ledger of sync attempts. It doubles as the
// fingerprint store: the payload of the latest success row is the fingerprint.
type AuditLog struct {
	db DB

	sqlLastSuccess  string
	sqlInsert       string
	sqlUpdateStatus string
	sqlMarkFailed   string
}

// NewAuditLog builds an audit log over the given table
func NewAuditLog(db DB, table string) *AuditLog {
	t := quoteTable(table)
	return &AuditLog{
		db: db,
		sqlLastSuccess: fmt.Sprintf(`
			SELECT last_sync_data FROM %s
			WHERE client_id = $1 AND status = '`+StatusSuccess+`'
			ORDER BY "timestamp" DESC, id DESC
			LIMIT 1`, t),
		sqlInsert: fmt.Sprintf(`
			INSERT INTO %s (client_id, "timestamp", status, last_sync_data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (client_id, "timestamp") DO NOTHING`, t),
		sqlUpdateStatus: fmt.Sprintf(`
			UPDATE %s
			SET status = $1, error_message = NULLIF($2, ''), updated_at = now()
			WHERE client_id = $3 AND "timestamp" = $4 AND status = '`+StatusProcessing+`'`, t),
		// After a rollback the processing row is gone, so the failure is recorded as a
		// fresh row; a row that already resolved is left untouched.
		sqlMarkFailed: fmt.Sprintf(`
			INSERT INTO %s AS l (client_id, "timestamp", status, last_sync_data, error_message)
			VALUES ($1, $2, '`+StatusFailed+`', $3, NULLIF($4, ''))
			ON CONFLICT (client_id, "timestamp") DO UPDATE
			SET status = EXCLUDED.status, error_message = EXCLUDED.error_message, updated_at = now()
			WHERE l.status = '`+StatusProcessing+`'`, t),
	}
}

// LastSuccessfulFingerprint returns the payload of the most recent success row for the
// client. Absence is not an error.
func (a *AuditLog) LastSuccessfulFingerprint(ctx context.Context, q Querier, clientID string) (string, bool, error) {
	var fp *string
	err := q.QueryRow(ctx, a.sqlLastSuccess, clientID).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read last successful fingerprint: %w", err)
	}
	if fp == nil {
		return "", true, nil
	}
	return *fp, true, nil
}

// InsertAttempt records a new attempt. ErrAttemptExists when (client_id, timestamp) is taken.
func (a *AuditLog) InsertAttempt(ctx context.Context, q Querier, clientID, timestamp, status, fingerprint string) error {
	tag, err := q.Exec(ctx, a.sqlInsert, clientID, timestamp, status, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to insert sync attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptExists
	}
	return nil
}

// UpdateStatus resolves a processing attempt. Any other current state yields
// ErrInvalidTransition.
func (a *AuditLog) UpdateStatus(ctx context.Context, q Querier, clientID, timestamp, status, errMsg string) error {
	if !IsValidTransition(StatusProcessing, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, StatusProcessing, status)
	}
	tag, err := q.Exec(ctx, a.sqlUpdateStatus, status, errMsg, clientID, timestamp)
	if err != nil {
		return fmt.Errorf("failed to update sync attempt status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no processing attempt for client=%s timestamp=%s", ErrInvalidTransition, clientID, timestamp)
	}
	return nil
}

// MarkFailed is the compensating write run on its own connection after a rollback.
func (a *AuditLog) MarkFailed(ctx context.Context, clientID, timestamp, fingerprint, errMsg string) error {
	if _, err := a.db.Exec(ctx, a.sqlMarkFailed, clientID, timestamp, fingerprint, errMsg); err != nil {
		return fmt.Errorf("failed to record failed sync attempt: %w", err)
	}
	return nil
}
