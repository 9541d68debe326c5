package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mobiletoly/go-snapsync/snapsync"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_SyncOutcomesAndRetries(t *testing.T) {
	r := NewRecorder("snapsync_test")
	ctx := context.Background()

	r.ObserveStage(ctx, snapsync.StageTiming{
		Operation: snapsync.MetricsOpSync, Stage: snapsync.MetricsStageTotal,
		Outcome: snapsync.OutcomeApplied, Attempt: 1, Duration: time.Millisecond,
	})
	r.ObserveStage(ctx, snapsync.StageTiming{
		Operation: snapsync.MetricsOpSync, Stage: snapsync.MetricsStageTotal,
		Outcome: snapsync.OutcomeApplied, Attempt: 3, Duration: time.Millisecond,
	})
	r.ObserveStage(ctx, snapsync.StageTiming{
		Operation: snapsync.MetricsOpSync, Stage: snapsync.MetricsStageTotal,
		Outcome: snapsync.OutcomeNoop, Attempt: 1,
	})
	// logs totals do not count as sync requests
	r.ObserveStage(ctx, snapsync.StageTiming{
		Operation: snapsync.MetricsOpLogs, Stage: snapsync.MetricsStageTotal, Attempt: 1,
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.syncResults.WithLabelValues(snapsync.OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.syncResults.WithLabelValues(snapsync.OutcomeNoop)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.txRetries))
	// one series per (op, stage, error)
	assert.Equal(t, 2, testutil.CollectAndCount(r.stageDuration))
}

func TestRecorder_IngestEntities(t *testing.T) {
	r := NewRecorder("")
	ctx := context.Background()

	r.ObserveStage(ctx, snapsync.StageTiming{Operation: snapsync.MetricsOpSync, Stage: snapsync.MetricsStageIngestUsers, Count: 3})
	r.ObserveStage(ctx, snapsync.StageTiming{Operation: snapsync.MetricsOpSync, Stage: snapsync.MetricsStageIngestTasks, Count: 5})
	r.ObserveStage(ctx, snapsync.StageTiming{Operation: snapsync.MetricsOpSync, Stage: snapsync.MetricsStageIngestTasks, Count: 2})

	assert.Equal(t, 3.0, testutil.ToFloat64(r.entities.WithLabelValues(snapsync.MetricsStageIngestUsers)))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.entities.WithLabelValues(snapsync.MetricsStageIngestTasks)))
}

func TestRecorder_HandlerExposesMetrics(t *testing.T) {
	r := NewRecorder("snapsync")
	r.ObserveHTTP("POST /api/sync", http.StatusOK, 10*time.Millisecond)
	r.ObserveHTTP("POST /api/sync", http.StatusTooManyRequests, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("POST /api/sync", "429")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `snapsync_http_requests_total{code="200",route="POST /api/sync"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRecorder_WiredIntoService(t *testing.T) {
	r := NewRecorder("snapsync")
	var recorder snapsync.StageMetricsRecorder = r
	recorder.ObserveStage(context.Background(), snapsync.StageTiming{
		Operation: snapsync.MetricsOpSync, Stage: snapsync.MetricsStageTotal, Outcome: snapsync.OutcomeInvalid,
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.syncResults.WithLabelValues(snapsync.OutcomeInvalid)))
}
