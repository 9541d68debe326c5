// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mobiletoly/go-snapsync/internal/config"
	"github.com/mobiletoly/go-snapsync/snapsync"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel        = "snapsync:events"
	defaultPublishTimeout = 2 * time.Second
	// lastEventKeyPrefix keys the most recent event per client, kept for dashboards
	lastEventKeyPrefix = "snapsync:last_event:"
)

// RedisPublisher publishes sync events on a Redis pub/sub channel and keeps the last
// event of each client under a plain key. It implements snapsync.EventPublisher.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	lastTTL time.Duration
}

var _ snapsync.EventPublisher = (*RedisPublisher)(nil)

// NewRedisClient creates a Redis client from configuration
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewRedisPublisher wraps an existing client. The caller owns the client.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: defaultPublishTimeout,
		lastTTL: 7 * 24 * time.Hour,
	}
}

// Channel returns the pub/sub channel name
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// PublishSyncEvent sends the event as JSON. The publish is bounded by its own timeout so
// a slow Redis never holds up a sync response for long.
func (p *RedisPublisher) PublishSyncEvent(ctx context.Context, event snapsync.SyncEvent) error {
	if p.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.Set(ctx, lastEventKeyPrefix+event.ClientID, data, p.lastTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish sync event: %w", err)
	}
	return nil
}

// LastEvent returns the most recent event recorded for a client, or nil when none is kept
func (p *RedisPublisher) LastEvent(ctx context.Context, clientID string) (*snapsync.SyncEvent, error) {
	val, err := p.client.Get(ctx, lastEventKeyPrefix+clientID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync event: %w", err)
	}
	var event snapsync.SyncEvent
	if err := json.Unmarshal([]byte(val), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync event: %w", err)
	}
	return &event, nil
}

// Subscribe returns a channel of decoded events; undecodable messages are dropped. The
// returned channel closes when ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan snapsync.SyncEvent, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}

	out := make(chan snapsync.SyncEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event snapsync.SyncEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
