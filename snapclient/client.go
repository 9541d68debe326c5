// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package snapclient reads a local SQLite database and pushes its users and tasks to a
// snapsync server as whole snapshots.
package snapclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Client pushes snapshots of a local SQLite database
type Client struct {
	DB       *sql.DB
	BaseURL  string
	ClientID string
	HTTP     *http.Client
	config   *Config
	logger   *slog.Logger
	pushMu   sync.Mutex // one push at a time; timestamps must be strictly increasing

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Config holds configuration for the snapshot client
type Config struct {
	UsersTable    string        // Local users table (default "users")
	TasksTable    string        // Local tasks table (default "tasks")
	Interval      time.Duration // Pause between successful pushes in the background loop
	BackoffMin    time.Duration // 1s
	BackoffMax    time.Duration // 60s
	SkipUnchanged bool          // Do not push when the digest matches the last acknowledged push
	CreateTables  bool          // Create the local users/tasks tables when missing
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		UsersTable:    "users",
		TasksTable:    "tasks",
		Interval:      30 * time.Second,
		BackoffMin:    1 * time.Second,
		BackoffMax:    60 * time.Second,
		SkipUnchanged: true,
		CreateTables:  true,
	}
}

// NewClient creates a snapshot client over db. An empty clientID is replaced by a
// persisted one (see EnsureClientID).
func NewClient(db *sql.DB, baseURL, clientID string, config *Config, logger *slog.Logger) (*Client, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL must be provided")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.UsersTable == "" {
		config.UsersTable = "users"
	}
	if config.TasksTable == "" {
		config.TasksTable = "tasks"
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = time.Second
	}
	if config.BackoffMax < config.BackoffMin {
		config.BackoffMax = config.BackoffMin
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := initializeDatabase(db, config); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if clientID == "" {
		var err error
		if clientID, err = EnsureClientID(db); err != nil {
			return nil, err
		}
	}

	return &Client{
		DB:       db,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		ClientID: clientID,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		config:   config,
		logger:   logger.With("client_id", clientID),
	}, nil
}

// initializeDatabase creates the client bookkeeping table and, when configured, the
// local entity tables
func initializeDatabase(db *sql.DB, config *Config) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _snapsync_client_info (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			client_id        TEXT NOT NULL,
			last_timestamp   TEXT NOT NULL DEFAULT '',
			last_digest      TEXT NOT NULL DEFAULT '',
			last_pushed_at   TEXT NOT NULL DEFAULT ''
		)`,
	}
	if config.CreateTables {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id    INTEGER PRIMARY KEY AUTOINCREMENT,
				name  TEXT NOT NULL,
				email TEXT NOT NULL,
				age   INTEGER
			)`, quoteIdent(config.UsersTable)),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				title       TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				user_id     INTEGER,
				completed   INTEGER NOT NULL DEFAULT 0
			)`, quoteIdent(config.TasksTable)),
		)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// EnsureClientID returns the persisted client id, generating one on first use
func EnsureClientID(db *sql.DB) (string, error) {
	var clientID string
	err := db.QueryRow(`SELECT client_id FROM _snapsync_client_info WHERE id = 1`).Scan(&clientID)
	if errors.Is(err, sql.ErrNoRows) {
		clientID = uuid.New().String()
		if _, err = db.Exec(`INSERT INTO _snapsync_client_info (id, client_id) VALUES (1, ?)`, clientID); err != nil {
			return "", fmt.Errorf("failed to insert client info: %w", err)
		}
		return clientID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query client info: %w", err)
	}
	return clientID, nil
}

// pushState is the bookkeeping row of the last acknowledged push; it is empty when
// the row belongs to another client id
type pushState struct {
	LastTimestamp string
	LastDigest    string
}

func (c *Client) loadState(ctx context.Context) (pushState, error) {
	var st pushState
	err := c.DB.QueryRowContext(ctx,
		`SELECT last_timestamp, last_digest FROM _snapsync_client_info WHERE id = 1 AND client_id = ?`, c.ClientID).
		Scan(&st.LastTimestamp, &st.LastDigest)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load push state: %w", err)
	}
	return st, nil
}

func (c *Client) saveState(ctx context.Context, timestamp, digest string) error {
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO _snapsync_client_info (id, client_id, last_timestamp, last_digest, last_pushed_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			last_timestamp = excluded.last_timestamp,
			last_digest = excluded.last_digest,
			last_pushed_at = excluded.last_pushed_at`,
		c.ClientID, timestamp, digest, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save push state: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
