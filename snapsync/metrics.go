// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"time"
)

const (
	MetricsOpSync = "sync"
	MetricsOpLogs = "logs"

	MetricsStageTotal = "total"

	// Sync transaction stages.
	MetricsStageLock            = "lock"
	MetricsStageFingerprintRead = "fingerprint_read"
	MetricsStageAttemptInsert   = "attempt_insert"
	MetricsStageIngestUsers     = "ingest_users"
	MetricsStageIngestTasks     = "ingest_tasks"
	MetricsStageStatusUpdate    = "status_update"
	MetricsStageCommit          = "commit"
	MetricsStageCompensate      = "compensate"
)

// Outcome labels reported on the total stage
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Attempt   int
	Error     bool
	Outcome   string // Set on the total stage only
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// stageTimer measures one stage of an operation. The zero value reports nothing, which
// is what startStage returns when neither a recorder nor stage logging is configured.
type stageTimer struct {
	svc     *SyncService
	op      string
	stage   string
	attempt int
	start   time.Time
}

func (s *SyncService) startStage(op, stage string, attempt int) stageTimer {
	if s == nil || s.config == nil || (s.config.StageMetrics == nil && !s.config.LogStageTimings) {
		return stageTimer{}
	}
	return stageTimer{svc: s, op: op, stage: stage, attempt: attempt, start: time.Now()}
}

// done reports the stage with the outcome of its single step
func (t stageTimer) done(ctx context.Context, count int, err error) {
	t.report(ctx, StageTiming{Count: count, Attempt: t.attempt, Error: err != nil})
}

// finish reports a total stage; the attempt count is only known at the end
func (t stageTimer) finish(ctx context.Context, outcome string, count, attempts int) {
	t.report(ctx, StageTiming{Count: count, Attempt: attempts, Error: outcome == OutcomeFailed, Outcome: outcome})
}

func (t stageTimer) report(ctx context.Context, timing StageTiming) {
	if t.svc == nil {
		return
	}
	timing.Operation = t.op
	timing.Stage = t.stage
	timing.Duration = time.Since(t.start)

	if rec := t.svc.config.StageMetrics; rec != nil {
		rec.ObserveStage(ctx, timing)
	}
	if t.svc.config.LogStageTimings {
		t.svc.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"attempt", timing.Attempt,
			"error", timing.Error,
			"outcome", timing.Outcome,
		)
	}
}
