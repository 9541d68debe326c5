// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"time"
)

// SyncEvent describes how a sync request resolved. Published after the transaction ends.
type SyncEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"` // EventSyncApplied, EventSyncNoop, EventSyncFailed
	ClientID      string    `json:"clientId"`
	Timestamp     string    `json:"timestamp"`
	Digest        string    `json:"digest"`
	UsersInserted int       `json:"usersInserted"`
	TasksInserted int       `json:"tasksInserted"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// EventPublisher delivers sync events. Failures are logged by the service and never
// change the sync result.
type EventPublisher interface {
	PublishSyncEvent(ctx context.Context, event SyncEvent) error
}

// EventPublisherFunc adapts a function to EventPublisher
type EventPublisherFunc func(ctx context.Context, event SyncEvent) error

func (f EventPublisherFunc) PublishSyncEvent(ctx context.Context, event SyncEvent) error {
	return f(ctx, event)
}

func (s *SyncService) publish(ctx context.Context, event SyncEvent) {
	if s.config.Events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.config.Events.PublishSyncEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish sync event", "error", err, "type", event.Type, "client_id", event.ClientID)
	}
}
