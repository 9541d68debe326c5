// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RouteObserver receives one observation per served request
type RouteObserver interface {
	ObserveHTTP(route string, code int, d time.Duration)
}

// rateLimiter keeps one token bucket per remote address
type rateLimiter struct {
	limiters sync.Map // key -> *limiterEntry
	rps      rate.Limit
	burst    int
}

type limiterEntry struct {
	lim      *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &rateLimiter{rps: rate.Limit(rps), burst: burst}
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	v, ok := l.limiters.Load(key)
	if !ok {
		v, _ = l.limiters.LoadOrStore(key, &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)})
	}
	e := v.(*limiterEntry)
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// sweep drops buckets idle for longer than idle; it returns how many were removed
func (l *rateLimiter) sweep(now time.Time, idle time.Duration) int {
	removed := 0
	l.limiters.Range(func(k, v any) bool {
		e := v.(*limiterEntry)
		e.mu.Lock()
		stale := now.Sub(e.lastSeen) > idle
		e.mu.Unlock()
		if stale {
			l.limiters.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects requests over the per-address budget with 429
func RateLimitMiddleware(l *rateLimiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(remoteKey(r), time.Now()) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TimeoutMiddleware bounds handler run time; a timed-out request gets 503. The sync
// transaction itself is detached from request cancellation and still completes.
func TimeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.TimeoutHandler(next, timeout, `{"success":false,"error":"request timeout"}`)
}

// LoggingMiddleware logs every request with status and duration, and reports it to obs
func LoggingMiddleware(route string, logger *slog.Logger, obs RouteObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		if obs != nil {
			obs.ObserveHTTP(route, wrapped.statusCode, duration)
		}
		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "HTTP request",
			"route", route,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"status", wrapped.statusCode,
			"bytes", wrapped.bytes,
			"duration", duration.String(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.bytes += n
	return n, err
}
