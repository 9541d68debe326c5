// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

// Status constants for sync attempts recorded in the audit log
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// Result messages returned to clients
const (
	MessageNoNewData     = "no new data to sync"
	MessageSyncCompleted = "sync completed"
)

// Default table names
const (
	DefaultSyncLogsTable = "snapsync_sync_logs"
	DefaultUsersTable    = "snapsync_users"
	DefaultTasksTable    = "snapsync_tasks"
)

// Event types published after a sync request resolves
const (
	EventSyncApplied = "sync.applied"
	EventSyncNoop    = "sync.noop"
	EventSyncFailed  = "sync.failed"
)

// IsValidTransition reports whether an audit row may move from one status to another.
// processing resolves exactly once; resolved rows are never reopened.
func IsValidTransition(from, to string) bool {
	if from != StatusProcessing {
		return false
	}
	return to == StatusSuccess || to == StatusFailed
}
