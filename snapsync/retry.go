// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATEs after which the whole sync transaction is re-run
var retryableSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retryableSQLStates[pgErr.Code]
}

// retryPolicy re-runs a transaction body. maxRetries < 0 means a single attempt.
type retryPolicy struct {
	maxRetries int
	base       time.Duration
}

// delay doubles base per attempt and stops growing at 8x
func (p retryPolicy) delay(attempt int) time.Duration {
	if p.base <= 0 || attempt < 1 {
		return 0
	}
	return p.base << min(attempt-1, 3)
}

// run calls fn until it succeeds, fails with a non-retryable error, exhausts the retry
// budget or ctx ends during a pause. It returns the number of attempts made and the
// last error from fn.
func (p retryPolicy) run(ctx context.Context, fn func(attempt int) error, onRetry func(attempt int, err error)) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil || attempt > p.maxRetries || !isRetryableTxError(err) {
			return attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		d := p.delay(attempt)
		if d <= 0 {
			continue
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}
