// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import "time"

// Database entity models; db tags match the column aliases used by the readers

// SyncLogEntity represents a row in the sync log table
type SyncLogEntity struct {
	ClientID     string    `db:"client_id"`
	Timestamp    string    `db:"timestamp"`
	Status       string    `db:"status"`
	ErrorMessage *string   `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// LogSummaryEntity represents one row of the latest-per-client aggregation
type LogSummaryEntity struct {
	ClientID     string  `db:"client_id"`
	Timestamp    string  `db:"timestamp"`
	Status       string  `db:"status"`
	ErrorMessage *string `db:"error_message"`
	TotalUsers   int64   `db:"total_users"`
	TotalTasks   int64   `db:"total_tasks"`
}

// ToSyncAttempt converts a SyncLogEntity to SyncAttempt
func (e *SyncLogEntity) ToSyncAttempt() SyncAttempt {
	return SyncAttempt{
		ClientID:     e.ClientID,
		Timestamp:    e.Timestamp,
		Status:       e.Status,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

// ToLogSummary converts a LogSummaryEntity to LogSummary
func (e *LogSummaryEntity) ToLogSummary() LogSummary {
	return LogSummary{
		ClientID:     e.ClientID,
		Timestamp:    e.Timestamp,
		Status:       e.Status,
		ErrorMessage: e.ErrorMessage,
		TotalUsers:   e.TotalUsers,
		TotalTasks:   e.TotalTasks,
	}
}
