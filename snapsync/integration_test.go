package snapsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
	container     *postgres.PostgresContainer
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = container.Terminate(context.Background())
	}
	os.Exit(code)
}

// testDatabaseURL prefers TEST_DATABASE_URL and falls back to a shared Postgres container.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	containerOnce.Do(func() {
		ctx := context.Background()
		container, containerErr = postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("snapsync_test"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if containerErr != nil {
			return
		}
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("Postgres container unavailable: %v", containerErr)
	}
	return containerURL
}

type integrationEnv struct {
	ctx    context.Context
	pool   *pgxpool.Pool
	svc    *SyncService
	tables TableNames
	rec    *recorded
}

// newIntegrationEnv gives every test its own schema so tests never see each other's rows.
func newIntegrationEnv(t *testing.T, mutate func(cfg *ServiceConfig)) *integrationEnv {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDatabaseURL(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema := "snapsync_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	schemaIdent := pgx.Identifier{schema}.Sanitize()
	_, err = pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %s`, schemaIdent))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, schemaIdent))
	})

	tables := TableNames{
		SyncLogs: schema + ".sync_logs",
		Users:    schema + ".users",
		Tasks:    schema + ".tasks",
	}
	rec := &recorded{}
	cfg := &ServiceConfig{
		AppName:      "snapsync-integration-test",
		Tables:       tables,
		CreateSchema: true,
		RetryBackoff: 5 * time.Millisecond,
		StageMetrics: rec.recorder(),
		Events:       rec.publisher(),
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc, err := NewSyncService(pool, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return &integrationEnv{ctx: ctx, pool: pool, svc: svc, tables: tables, rec: rec}
}

func (e *integrationEnv) count(t *testing.T, table, clientID string) int64 {
	t.Helper()
	var n int64
	err := e.pool.QueryRow(e.ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE client_id = $1`, quoteTable(table)), clientID).Scan(&n)
	require.NoError(t, err)
	return n
}

func (e *integrationEnv) status(t *testing.T, clientID, timestamp string) (string, *string) {
	t.Helper()
	var (
		status string
		errMsg *string
	)
	err := e.pool.QueryRow(e.ctx,
		fmt.Sprintf(`SELECT status, error_message FROM %s WHERE client_id = $1 AND "timestamp" = $2`, quoteTable(e.tables.SyncLogs)),
		clientID, timestamp).Scan(&status, &errMsg)
	require.NoError(t, err)
	return status, errMsg
}

func TestIntegration_FirstSyncScenario(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	res, err := env.svc.Sync(env.ctx, &SyncRequest{
		ClientID:  "c1",
		Timestamp: "t1",
		Data: &Snapshot{
			Users: []User{{Name: "A", Email: "a@x.com"}},
			Tasks: []Task{{Title: "T1"}, {Title: "T2"}},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, IngestStats{Inserted: 1}, res.Users)
	require.Equal(t, IngestStats{Inserted: 2}, res.Tasks)

	logs, err := env.svc.LatestLogsPerClient(env.ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, LogSummary{ClientID: "c1", Timestamp: "t1", Status: StatusSuccess, TotalUsers: 1, TotalTasks: 2}, logs[0])
}

func TestIntegration_IdenticalSnapshotIsNoop(t *testing.T) {
	env := newIntegrationEnv(t, nil)
	req := sampleRequest("t1")

	res, err := env.svc.Sync(env.ctx, req)
	require.NoError(t, err)
	require.True(t, res.Applied)

	// same content under a new timestamp
	again := sampleRequest("t2")
	res, err = env.svc.Sync(env.ctx, again)
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Equal(t, MessageNoNewData, res.Message)

	attempts, err := env.svc.ListAttempts(env.ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 1, "no-op leaves no audit row")
	require.Equal(t, int64(1), env.count(t, env.tables.Users, "c1"))
	require.Equal(t, int64(1), env.count(t, env.tables.Tasks, "c1"))
}

func TestIntegration_ChangedSnapshotSkipsExistingKeys(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	_, err := env.svc.Sync(env.ctx, sampleRequest("t1"))
	require.NoError(t, err)

	req := sampleRequest("t2")
	req.Data.Users = append(req.Data.Users, User{Name: "B", Email: "b@x.com"})
	req.Data.Tasks = append(req.Data.Tasks, Task{Title: "T"}) // null user_id is a distinct key from user_id=1
	res, err := env.svc.Sync(env.ctx, req)
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, IngestStats{Inserted: 1, Skipped: 1}, res.Users)
	require.Equal(t, IngestStats{Inserted: 1, Skipped: 1}, res.Tasks)

	require.Equal(t, int64(2), env.count(t, env.tables.Users, "c1"))
	require.Equal(t, int64(2), env.count(t, env.tables.Tasks, "c1"))

	// dropping entities from the snapshot never deletes rows
	shrunk := sampleRequest("t3")
	shrunk.Data.Tasks = nil
	res, err = env.svc.Sync(env.ctx, shrunk)
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, int64(2), env.count(t, env.tables.Tasks, "c1"))
}

func TestIntegration_NaturalKeysAreScopedPerClient(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	_, err := env.svc.Sync(env.ctx, sampleRequest("t1"))
	require.NoError(t, err)

	other := sampleRequest("t1")
	other.ClientID = "c2"
	res, err := env.svc.Sync(env.ctx, other)
	require.NoError(t, err)
	require.True(t, res.Applied, "another client's fingerprint is independent")
	require.Equal(t, IngestStats{Inserted: 1}, res.Users)
	require.Equal(t, int64(1), env.count(t, env.tables.Users, "c2"))
}

func TestIntegration_FailureIsAtomicAndAudited(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	req := sampleRequest("t1")
	req.Data.Tasks = append(req.Data.Tasks, Task{Title: ""}) // violates the title check
	_, err := env.svc.Sync(env.ctx, req)

	var ie *IngestionError
	require.ErrorAs(t, err, &ie)
	require.Contains(t, ie.Detail(), "check constraint")

	require.Zero(t, env.count(t, env.tables.Users, "c1"), "users inserted before the failure are rolled back")
	require.Zero(t, env.count(t, env.tables.Tasks, "c1"))

	status, errMsg := env.status(t, "c1", "t1")
	require.Equal(t, StatusFailed, status)
	require.NotNil(t, errMsg)
	require.Contains(t, *errMsg, "check constraint")

	logs, err := env.svc.LatestLogsPerClient(env.ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, StatusFailed, logs[0].Status)

	// a failed attempt does not become the comparison baseline
	res, err := env.svc.Sync(env.ctx, sampleRequest("t2"))
	require.NoError(t, err)
	require.True(t, res.Applied)
}

func TestIntegration_DuplicateTimestampIsRejected(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	_, err := env.svc.Sync(env.ctx, sampleRequest("t1"))
	require.NoError(t, err)

	changed := sampleRequest("t1")
	changed.Data.Tasks = append(changed.Data.Tasks, Task{Title: "new"})
	_, err = env.svc.Sync(env.ctx, changed)
	require.ErrorIs(t, err, ErrAttemptExists)

	status, errMsg := env.status(t, "c1", "t1")
	require.Equal(t, StatusSuccess, status, "existing success row is untouched")
	require.Nil(t, errMsg)
	require.Equal(t, int64(1), env.count(t, env.tables.Tasks, "c1"))
}

func TestIntegration_MarkFailedNeverOverwritesResolvedRow(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	_, err := env.svc.Sync(env.ctx, sampleRequest("t1"))
	require.NoError(t, err)

	require.NoError(t, env.svc.AuditLog().MarkFailed(env.ctx, "c1", "t1", "{}", "late failure"))
	status, _ := env.status(t, "c1", "t1")
	require.Equal(t, StatusSuccess, status)

	require.NoError(t, env.svc.AuditLog().MarkFailed(env.ctx, "c1", "t9", "{}", "fresh failure"))
	status, errMsg := env.status(t, "c1", "t9")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, "fresh failure", *errMsg)
}

func TestIntegration_ConcurrentIdenticalSyncsApplyOnce(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.svc.Sync(env.ctx, sampleRequest(fmt.Sprintf("t%02d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Applied {
				applied++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, applied, "client lock serializes the no-op check")
	attempts, err := env.svc.ListAttempts(env.ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
}

func TestIntegration_EnsureSchemaIsIdempotent(t *testing.T) {
	env := newIntegrationEnv(t, nil)
	require.NoError(t, env.svc.EnsureSchema(env.ctx))
	require.NoError(t, env.svc.EnsureSchema(env.ctx))
}

func TestIntegration_ListAttemptsOrderAndLimit(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	for i, title := range []string{"a", "b", "c"} {
		req := sampleRequest(fmt.Sprintf("2024-01-0%dT00:00:00Z", i+1))
		req.Data.Tasks = []Task{{Title: title}}
		_, err := env.svc.Sync(env.ctx, req)
		require.NoError(t, err)
	}

	attempts, err := env.svc.ListAttempts(env.ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "2024-01-03T00:00:00Z", attempts[0].Timestamp)
	require.Equal(t, "2024-01-02T00:00:00Z", attempts[1].Timestamp)
	require.False(t, attempts[0].CreatedAt.IsZero())

	logs, err := env.svc.LatestLogsPerClient(env.ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "2024-01-03T00:00:00Z", logs[0].Timestamp)
	require.Equal(t, int64(3), logs[0].TotalTasks)
}

func TestIntegration_DuplicatesWithinOneSnapshotStoreOneRow(t *testing.T) {
	env := newIntegrationEnv(t, nil)
	uid := int64(7)

	res, err := env.svc.Sync(env.ctx, &SyncRequest{
		ClientID:  "c1",
		Timestamp: "t1",
		Data: &Snapshot{
			Users: []User{
				{Name: "A", Email: "a@x.com"},
				{Name: "A again", Email: "a@x.com"},
			},
			Tasks: []Task{
				{Title: "T", UserID: &uid},
				{Title: "T", Description: "second copy", UserID: &uid},
				{Title: "N"},
				{Title: "N", Completed: true},
			},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, IngestStats{Inserted: 1, Skipped: 1}, res.Users)
	require.Equal(t, IngestStats{Inserted: 2, Skipped: 2}, res.Tasks)
	require.Equal(t, int64(1), env.count(t, env.tables.Users, "c1"))
	require.Equal(t, int64(2), env.count(t, env.tables.Tasks, "c1"))

	// the first occurrence wins
	var name string
	err = env.pool.QueryRow(env.ctx,
		fmt.Sprintf(`SELECT name FROM %s WHERE client_id = $1 AND email = $2`, quoteTable(env.tables.Users)),
		"c1", "a@x.com").Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "A", name)
}

func TestIntegration_ZeroUserIDIsDistinctFromNull(t *testing.T) {
	env := newIntegrationEnv(t, nil)
	zero := int64(0)

	res, err := env.svc.Sync(env.ctx, &SyncRequest{
		ClientID:  "c1",
		Timestamp: "t1",
		Data: &Snapshot{
			Tasks: []Task{{Title: "T"}, {Title: "T", UserID: &zero}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, IngestStats{Inserted: 2}, res.Tasks)
	require.Equal(t, int64(2), env.count(t, env.tables.Tasks, "c1"))
}

func TestIntegration_LatestLogsAcrossClients(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	submit := func(clientID, timestamp string, users []User, tasks []Task) {
		t.Helper()
		_, err := env.svc.Sync(env.ctx, &SyncRequest{
			ClientID:  clientID,
			Timestamp: timestamp,
			Data:      &Snapshot{Users: users, Tasks: tasks},
		})
		require.NoError(t, err)
	}

	submit("c1", "2024-01-01T00:00:00Z",
		[]User{{Name: "A", Email: "a@x.com"}},
		[]Task{{Title: "T1"}})
	submit("c2", "2024-01-03T00:00:00Z",
		[]User{{Name: "B", Email: "b@x.com"}, {Name: "C", Email: "c@x.com"}},
		nil)
	submit("c1", "2024-01-02T00:00:00Z",
		[]User{{Name: "A", Email: "a@x.com"}},
		[]Task{{Title: "T1"}, {Title: "T2"}, {Title: "T3"}})

	logs, err := env.svc.LatestLogsPerClient(env.ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2, "one summary per client")

	require.Equal(t, LogSummary{
		ClientID: "c2", Timestamp: "2024-01-03T00:00:00Z", Status: StatusSuccess,
		TotalUsers: 2, TotalTasks: 0,
	}, logs[0])
	require.Equal(t, LogSummary{
		ClientID: "c1", Timestamp: "2024-01-02T00:00:00Z", Status: StatusSuccess,
		TotalUsers: 1, TotalTasks: 3,
	}, logs[1])
}
