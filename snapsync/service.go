// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultMaxTxRetries        = 2
	defaultRetryBackoff        = 50 * time.Millisecond
	defaultCompensationTimeout = 10 * time.Second
	clientLockNamespace        = "snapsync:"
)

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName string     // Application name for logs
	Tables  TableNames // Empty names fall back to the defaults

	// DisableClientLock turns off per-client serialization. Without it two concurrent
	// syncs for one client can both pass the no-op check and both apply.
	DisableClientLock bool

	MaxTxRetries        int           // Retries for serialization/deadlock/lock timeout errors (0 = default, negative = none)
	RetryBackoff        time.Duration // Base backoff between retries
	CompensationTimeout time.Duration // Deadline for the failed-status write after rollback
	MaxSnapshotEntities int           // Maximum users+tasks per snapshot (0 = unlimited)
	CreateSchema        bool          // Run EnsureSchema from NewSyncService

	StageMetrics    StageMetricsRecorder // Optional stage timing sink
	LogStageTimings bool                 // Log stage timings at debug level
	Events          EventPublisher       // Optional post-transaction event sink
}

// SyncService reconciles client snapshots into the shared store
type SyncService struct {
	db       DB
	logger   *slog.Logger
	config   *ServiceConfig
	tables   TableNames
	audit    *AuditLog
	ingestor *EntityIngestor
	reader   *LogReader

	mu     sync.RWMutex
	closed bool
}

// NewSyncService creates a sync service on an existing pool. The caller owns the pool.
func NewSyncService(db DB, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if config == nil {
		config = &ServiceConfig{AppName: "go-snapsync-app"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxTxRetries == 0 {
		config.MaxTxRetries = defaultMaxTxRetries
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	if config.CompensationTimeout == 0 {
		config.CompensationTimeout = defaultCompensationTimeout
	}

	tables := config.Tables.withDefaults()
	service := &SyncService{
		db:       db,
		logger:   logger,
		config:   config,
		tables:   tables,
		audit:    NewAuditLog(db, tables.SyncLogs),
		ingestor: NewEntityIngestor(tables.Users, tables.Tasks),
		reader:   NewLogReader(db, tables),
	}

	if config.CreateSchema {
		if err := service.EnsureSchema(context.Background()); err != nil {
			logger.Error("Failed to initialize database schema", "error", err)
			return nil, fmt.Errorf("failed to initialize sync service: %w", err)
		}
		logger.Debug("Database schema initialized", "tables", tables)
	}

	return service, nil
}

// Close marks the service closed. It does NOT close the pool.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("Sync service shutdown complete")
	return nil
}

func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// Tables returns the resolved table names
func (s *SyncService) Tables() TableNames {
	return s.tables
}

// AuditLog exposes the audit ledger for diagnostics
func (s *SyncService) AuditLog() *AuditLog {
	return s.audit
}

// Sync applies one client snapshot exactly once per distinct content.
//
// Errors: *ValidationError before any database access, *InfrastructureError when no
// transaction could be started, *IngestionError for everything that happened inside the
// transaction (rolled back; the attempt is recorded as failed when the audit log is
// reachable).
func (s *SyncService) Sync(ctx context.Context, req *SyncRequest) (*SyncResult, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	total := s.startStage(MetricsOpSync, MetricsStageTotal, 0)

	if err := ValidateSyncRequest(req, s.config.MaxSnapshotEntities); err != nil {
		total.finish(ctx, OutcomeInvalid, 0, 0)
		return nil, err
	}

	fp, err := NewFingerprint(req.Data)
	if err != nil {
		total.finish(ctx, OutcomeInvalid, 0, 0)
		return nil, &ValidationError{Fields: []string{"data"}, Err: err}
	}

	// A client that disconnects does not cancel the transaction; it runs to completion
	// and its outcome is still recorded.
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(
		"request_id", uuid.NewString(),
		"client_id", req.ClientID,
		"timestamp", req.Timestamp,
		"digest", fp.Digest(),
	)
	entities := len(req.Data.Users) + len(req.Data.Tasks)

	var result *SyncResult
	policy := retryPolicy{maxRetries: s.config.MaxTxRetries, base: s.config.RetryBackoff}
	attempt, err := policy.run(ctx, func(attempt int) error {
		var txErr error
		result, txErr = s.syncOnce(ctx, req, fp, attempt)
		return txErr
	}, func(attempt int, err error) {
		logger.Warn("Retrying sync transaction", "attempt", attempt, "error", err)
	})

	if err == nil {
		result.Attempts = attempt
		result.Digest = fp.Digest()
		event := SyncEvent{
			ID:        uuid.NewString(),
			Type:      EventSyncNoop,
			ClientID:  req.ClientID,
			Timestamp: req.Timestamp,
			Digest:    result.Digest,
		}
		outcome := OutcomeNoop
		if result.Applied {
			event.Type = EventSyncApplied
			event.UsersInserted = result.Users.Inserted
			event.TasksInserted = result.Tasks.Inserted
			outcome = OutcomeApplied
			logger.Info("Sync applied",
				"users_inserted", result.Users.Inserted,
				"users_skipped", result.Users.Skipped,
				"tasks_inserted", result.Tasks.Inserted,
				"tasks_skipped", result.Tasks.Skipped,
				"attempts", attempt)
		} else {
			logger.Info("No new data to sync")
		}
		total.finish(ctx, outcome, entities, attempt)
		s.publish(ctx, event)
		return result, nil
	}

	total.finish(ctx, OutcomeFailed, entities, attempt)

	var infraErr *InfrastructureError
	if errors.As(err, &infraErr) {
		logger.Error("Sync infrastructure failure", "error", err)
		return nil, err
	}

	logger.Error("Sync failed", "error", err, "attempts", attempt)

	// The attempt never owned the existing row, so it must not be marked failed.
	if !errors.Is(err, ErrAttemptExists) {
		s.compensate(ctx, logger, req, fp, err, attempt)
	}
	s.publish(ctx, SyncEvent{
		ID:        uuid.NewString(),
		Type:      EventSyncFailed,
		ClientID:  req.ClientID,
		Timestamp: req.Timestamp,
		Digest:    fp.Digest(),
		Error:     err.Error(),
	})

	return nil, &IngestionError{ClientID: req.ClientID, Timestamp: req.Timestamp, Err: err}
}

// compensate records the failure outside the rolled-back transaction. Its own error is
// logged and never surfaced.
func (s *SyncService) compensate(ctx context.Context, logger *slog.Logger, req *SyncRequest, fp Fingerprint, cause error, attempt int) {
	timer := s.startStage(MetricsOpSync, MetricsStageCompensate, attempt)
	cctx, cancel := context.WithTimeout(ctx, s.config.CompensationTimeout)
	defer cancel()

	err := s.audit.MarkFailed(cctx, req.ClientID, req.Timestamp, fp.Canonical, cause.Error())
	timer.done(ctx, 1, err)
	if err != nil {
		logger.Error("Error logging sync failure", "error", err, "cause", cause)
	}
}

// syncOnce runs one transaction. The transaction is rolled back on every path that does
// not commit, which also returns the connection to the pool.
func (s *SyncService) syncOnce(ctx context.Context, req *SyncRequest, fp Fingerprint, attempt int) (_ *SyncResult, err error) {
	// READ COMMITTED: every statement after the advisory lock sees rows committed by the
	// previous holder. A REPEATABLE READ snapshot would be taken before the lock is granted.
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return nil, &InfrastructureError{Op: "begin transaction", Err: err}
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("Rollback failed", "error", rbErr, "client_id", req.ClientID)
			}
		}
	}()

	if !s.config.DisableClientLock {
		timer := s.startStage(MetricsOpSync, MetricsStageLock, attempt)
		_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, clientLockNamespace+req.ClientID)
		timer.done(ctx, 1, err)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire client lock: %w", err)
		}
	}

	timer := s.startStage(MetricsOpSync, MetricsStageFingerprintRead, attempt)
	last, found, err := s.audit.LastSuccessfulFingerprint(ctx, tx, req.ClientID)
	timer.done(ctx, 1, err)
	if err != nil {
		return nil, err
	}

	if found && fp.Equal(last) {
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit no-op sync: %w", err)
		}
		return &SyncResult{Applied: false, Message: MessageNoNewData}, nil
	}

	timer = s.startStage(MetricsOpSync, MetricsStageAttemptInsert, attempt)
	err = s.audit.InsertAttempt(ctx, tx, req.ClientID, req.Timestamp, StatusProcessing, fp.Canonical)
	timer.done(ctx, 1, err)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Applied: true, Message: MessageSyncCompleted}

	timer = s.startStage(MetricsOpSync, MetricsStageIngestUsers, attempt)
	result.Users, err = s.ingestor.IngestUsers(ctx, tx, req.ClientID, req.Data.Users)
	timer.done(ctx, len(req.Data.Users), err)
	if err != nil {
		return nil, err
	}

	timer = s.startStage(MetricsOpSync, MetricsStageIngestTasks, attempt)
	result.Tasks, err = s.ingestor.IngestTasks(ctx, tx, req.ClientID, req.Data.Tasks)
	timer.done(ctx, len(req.Data.Tasks), err)
	if err != nil {
		return nil, err
	}

	timer = s.startStage(MetricsOpSync, MetricsStageStatusUpdate, attempt)
	err = s.audit.UpdateStatus(ctx, tx, req.ClientID, req.Timestamp, StatusSuccess, "")
	timer.done(ctx, 1, err)
	if err != nil {
		return nil, err
	}

	timer = s.startStage(MetricsOpSync, MetricsStageCommit, attempt)
	err = tx.Commit(ctx)
	timer.done(ctx, 1, err)
	if err != nil {
		return nil, fmt.Errorf("failed to commit sync: %w", err)
	}

	return result, nil
}

// LatestLogsPerClient returns the latest attempt per client with current entity totals
func (s *SyncService) LatestLogsPerClient(ctx context.Context) ([]LogSummary, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	timer := s.startStage(MetricsOpLogs, MetricsStageTotal, 1)
	logs, err := s.reader.LatestLogsPerClient(ctx)
	timer.done(ctx, len(logs), err)
	return logs, err
}

// ListAttempts returns the attempt history of one client, most recent first
func (s *SyncService) ListAttempts(ctx context.Context, clientID string, limit int) ([]SyncAttempt, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.reader.ListAttempts(ctx, clientID, limit)
}
