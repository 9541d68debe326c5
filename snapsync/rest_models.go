// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import "time"

// REST/JSON models for HTTP API requests and responses

// SyncRequest represents a snapshot submission from a client
type SyncRequest struct {
	ClientID  string    `json:"clientId"`  // Submitting client
	Timestamp string    `json:"timestamp"` // Client-supplied logical time, part of the audit key
	Data      *Snapshot `json:"data"`      // Snapshot content (required, collections optional)
}

// Snapshot is the nested payload submitted for one sync attempt
type Snapshot struct {
	Users []User `json:"users"`
	Tasks []Task `json:"tasks"`
}

// User is a client-owned user record; natural key is (client_id, email)
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   *int   `json:"age"`
}

// Task is a client-owned task record; UserID is a weak reference to a client-side user id
type Task struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	UserID      *int64 `json:"userId"`
	Completed   bool   `json:"completed"`
}

// SyncResponse represents server response to a sync request
type SyncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Applied bool   `json:"applied"`
}

// SyncLogsResponse represents server response to a log summary request
type SyncLogsResponse struct {
	Success bool         `json:"success"`
	Logs    []LogSummary `json:"logs"`
}

// SyncAttemptsResponse represents server response to a per-client history request
type SyncAttemptsResponse struct {
	Success  bool          `json:"success"`
	Attempts []SyncAttempt `json:"attempts"`
}

// LogSummary is the latest attempt of one client with its current entity totals
type LogSummary struct {
	ClientID     string  `json:"clientId"`
	Timestamp    string  `json:"timestamp"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
	TotalUsers   int64   `json:"totalUsers"`
	TotalTasks   int64   `json:"totalTasks"`
}

// SyncAttempt is one audit log row
type SyncAttempt struct {
	ClientID     string    `json:"clientId"`
	Timestamp    string    `json:"timestamp"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SyncResult is the outcome of SyncService.Sync
type SyncResult struct {
	Applied  bool        // False when the snapshot matched the last successful fingerprint
	Message  string      // MessageSyncCompleted or MessageNoNewData
	Digest   string      // SHA-256 of the canonical snapshot
	Users    IngestStats // Zero when not applied
	Tasks    IngestStats // Zero when not applied
	Attempts int         // Transaction attempts, >1 after retryable failures
}

// ToResponse converts the result into its wire form
func (r *SyncResult) ToResponse() *SyncResponse {
	return &SyncResponse{
		Success: true,
		Message: r.Message,
		Applied: r.Applied,
	}
}
