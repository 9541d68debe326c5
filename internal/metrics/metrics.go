// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/mobiletoly/go-snapsync/snapsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports sync stage timings and HTTP request counts to Prometheus.
// It implements snapsync.StageMetricsRecorder.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	syncResults   *prometheus.CounterVec
	txRetries     prometheus.Counter
	entities      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

var _ snapsync.StageMetricsRecorder = (*Recorder)(nil)

// NewRecorder registers the collectors on a fresh registry. Go runtime and process
// collectors are included so /metrics is useful on its own.
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "snapsync"
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of sync service stages.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"op", "stage", "error"},
		),
		syncResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_requests_total",
				Help:      "Sync requests by outcome.",
			},
			[]string{"outcome"},
		),
		txRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_tx_retries_total",
				Help:      "Sync transactions retried after serialization, deadlock or lock timeout errors.",
			},
		),
		entities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_entities_total",
				Help:      "Entities submitted to ingest stages.",
			},
			[]string{"stage"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	r.registry.MustRegister(
		r.stageDuration,
		r.syncResults,
		r.txRetries,
		r.entities,
		r.httpRequests,
		r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveStage records one stage timing
func (r *Recorder) ObserveStage(_ context.Context, timing snapsync.StageTiming) {
	r.stageDuration.
		WithLabelValues(timing.Operation, timing.Stage, strconv.FormatBool(timing.Error)).
		Observe(timing.Duration.Seconds())

	switch timing.Stage {
	case snapsync.MetricsStageTotal:
		if timing.Operation != snapsync.MetricsOpSync {
			return
		}
		r.syncResults.WithLabelValues(timing.Outcome).Inc()
		if timing.Attempt > 1 {
			r.txRetries.Add(float64(timing.Attempt - 1))
		}
	case snapsync.MetricsStageIngestUsers, snapsync.MetricsStageIngestTasks:
		r.entities.WithLabelValues(timing.Stage).Add(float64(timing.Count))
	}
}

// ObserveHTTP records one served request
func (r *Recorder) ObserveHTTP(route string, code int, d time.Duration) {
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
