// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mobiletoly/go-snapsync/snapsync"
)

// TimestampLayout is fixed width so that lexical order equals chronological order
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// PushError is a non-200 answer from the server
type PushError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *PushError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server returned status %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same snapshot may succeed later
func (e *PushError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PushResult describes one PushOnce call
type PushResult struct {
	Timestamp string
	Digest    string
	Skipped   bool // Not sent because the digest matched the last acknowledged push
	Response  *snapsync.SyncResponse
}

// PushOnce reads the local snapshot and submits it. The acknowledged digest and
// timestamp are persisted only after a 200 answer.
func (c *Client) PushOnce(ctx context.Context) (*PushResult, error) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	snapshot, err := c.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	fp, err := snapsync.NewFingerprint(snapshot)
	if err != nil {
		return nil, err
	}
	digest := fp.Digest()

	state, err := c.loadState(ctx)
	if err != nil {
		return nil, err
	}
	if c.config.SkipUnchanged && state.LastDigest == digest {
		c.logger.Debug("Snapshot unchanged, push skipped", "digest", digest)
		return &PushResult{Timestamp: state.LastTimestamp, Digest: digest, Skipped: true}, nil
	}

	timestamp := nextTimestamp(time.Now(), state.LastTimestamp)
	resp, err := c.sendSyncRequest(ctx, &snapsync.SyncRequest{
		ClientID:  c.ClientID,
		Timestamp: timestamp,
		Data:      snapshot,
	})
	if err != nil {
		return nil, err
	}
	if err := c.saveState(ctx, timestamp, digest); err != nil {
		return nil, err
	}

	c.logger.Info("Snapshot pushed",
		"timestamp", timestamp,
		"digest", digest,
		"applied", resp.Applied,
		"users", len(snapshot.Users),
		"tasks", len(snapshot.Tasks))
	return &PushResult{Timestamp: timestamp, Digest: digest, Response: resp}, nil
}

// nextTimestamp formats now, moved past last when the clock did not advance
func nextTimestamp(now time.Time, last string) string {
	ts := now.UTC().Format(TimestampLayout)
	if last == "" || ts > last {
		return ts
	}
	prev, err := time.Parse(TimestampLayout, last)
	if err != nil {
		return ts
	}
	return prev.Add(time.Nanosecond).UTC().Format(TimestampLayout)
}

func (c *Client) sendSyncRequest(ctx context.Context, req *snapsync.SyncRequest) (*snapsync.SyncResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/sync", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		pe := &PushError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp snapsync.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			pe.Message = errResp.Error
			pe.Details = errResp.Details
		}
		return nil, pe
	}

	var syncResp snapsync.SyncResponse
	if err := json.Unmarshal(body, &syncResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &syncResp, nil
}

// Start launches the background push loop. It is a no-op when already running.
func (c *Client) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = c.Run(ctx)
	}(c.done)
}

// Stop cancels the background loop and waits for it to exit
func (c *Client) Stop() {
	c.loopMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run pushes every Interval until ctx is done. Failures back off exponentially between
// BackoffMin and BackoffMax; a non-retryable server answer waits a full Interval.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.config.BackoffMin
	for {
		wait := c.config.Interval
		_, err := c.PushOnce(ctx)
		switch {
		case err == nil:
			backoff = c.config.BackoffMin
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			var pe *PushError
			if errors.As(err, &pe) && !pe.Retryable() {
				c.logger.Error("Push rejected", "status", pe.StatusCode, "error", pe.Message)
				backoff = c.config.BackoffMin
				break
			}
			c.logger.Warn("Push failed, backing off", "backoff", backoff.String(), "error", err)
			wait = backoff
			backoff *= 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
		}

		if wait <= 0 {
			wait = c.config.BackoffMin
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
