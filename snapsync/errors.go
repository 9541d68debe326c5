// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingRequiredFields is matched by every ValidationError caused by absent inputs.
	ErrMissingRequiredFields = errors.New("missing required fields")
	// ErrSnapshotTooLarge is matched by ValidationError when a snapshot exceeds the entity limit.
	ErrSnapshotTooLarge = errors.New("snapshot too large")
	// ErrAttemptExists means an audit row for (client_id, timestamp) was already recorded.
	ErrAttemptExists = errors.New("sync attempt already recorded for this client and timestamp")
	// ErrInvalidTransition means an audit status update found no row in processing state.
	ErrInvalidTransition = errors.New("invalid sync attempt status transition")
	// ErrServiceClosed is returned by operations on a closed service.
	ErrServiceClosed = errors.New("sync service has been closed")
)

// ValidationError rejects a request before any database interaction
type ValidationError struct {
	Fields []string // Offending top-level fields
	Err    error    // ErrMissingRequiredFields or ErrSnapshotTooLarge
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IngestionError reports a failure inside the sync transaction. The transaction was rolled
// back and nothing from the snapshot was persisted.
type IngestionError struct {
	ClientID  string
	Timestamp string
	Err       error
}

func (e *IngestionError) Error() string {
	return "sync failed"
}

// Detail returns diagnostic text for the underlying failure.
func (e *IngestionError) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *IngestionError) Unwrap() error { return e.Err }

// InfrastructureError reports that no transactional handle could be obtained; no audit row
// was written.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return "sync infrastructure unavailable: " + e.Op
}

// Detail returns diagnostic text for the underlying failure.
func (e *InfrastructureError) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *InfrastructureError) Unwrap() error { return e.Err }
