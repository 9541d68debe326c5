package snapsync

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB scripts the statements the coordinator issues. Only the pgx methods the service
// calls are implemented; anything else panics through the nil embedded interface.
type fakeDB struct {
	mu sync.Mutex

	beginErr        error
	lastFingerprint *string // nil = no success row
	lockErrs        []error // consumed one per lock call
	attemptExists   bool
	userBatchErr    error
	taskBatchErr    error
	updateAffected  int64
	commitErr       error
	markFailedErr   error

	begins     int
	txs        []*fakeTx
	poolExecs  []execCall
	txExecs    []execCall
	batchSizes map[string]int
}

type execCall struct {
	sql  string
	args []any
}

func newFakeDB() *fakeDB {
	return &fakeDB{updateAffected: 1, batchSizes: map[string]int{}}
}

func (db *fakeDB) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.begins++
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	tx := &fakeTx{db: db}
	db.txs = append(db.txs, tx)
	return tx, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.poolExecs = append(db.poolExecs, execCall{sql: sql, args: args})
	if db.markFailedErr != nil {
		return pgconn.CommandTag{}, db.markFailedErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{err: errors.New("fakeDB: pool QueryRow not scripted")}
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeDB: Query not scripted")
}

func (db *fakeDB) txExec(sql string, args []any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.txExecs = append(db.txExecs, execCall{sql: sql, args: args})

	switch {
	case strings.Contains(sql, "pg_advisory_xact_lock"):
		if len(db.lockErrs) > 0 {
			err := db.lockErrs[0]
			db.lockErrs = db.lockErrs[1:]
			if err != nil {
				return pgconn.CommandTag{}, err
			}
		}
		return pgconn.NewCommandTag("SELECT 1"), nil
	case strings.Contains(sql, "INSERT INTO"):
		if db.attemptExists {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "UPDATE"):
		return pgconn.NewCommandTag("UPDATE " + strconv.FormatInt(db.updateAffected, 10)), nil
	}
	return pgconn.CommandTag{}, errors.New("fakeDB: unexpected tx exec: " + sql)
}

func (db *fakeDB) txBatch(b *pgx.Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(b.QueuedQueries) == 0 {
		return nil
	}
	sql := b.QueuedQueries[0].SQL
	switch {
	case strings.Contains(sql, DefaultUsersTable):
		db.batchSizes[DefaultUsersTable] += len(b.QueuedQueries)
		return db.userBatchErr
	case strings.Contains(sql, DefaultTasksTable):
		db.batchSizes[DefaultTasksTable] += len(b.QueuedQueries)
		return db.taskBatchErr
	}
	return errors.New("fakeDB: unexpected batch: " + sql)
}

func (db *fakeDB) countTxExecs(substr string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, c := range db.txExecs {
		if strings.Contains(c.sql, substr) {
			n++
		}
	}
	return n
}

type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.txExec(sql, args)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.lastFingerprint == nil {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: []any{*t.db.lastFingerprint}}
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return &fakeBatchResults{err: t.db.txBatch(b)}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return t.db.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type fakeBatchResults struct {
	pgx.BatchResults
	err error
}

func (r *fakeBatchResults) Close() error { return r.err }

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case **string:
			s := r.vals[i].(string)
			*p = &s
		case *string:
			*p = r.vals[i].(string)
		default:
			return errors.New("fakeRow: unsupported scan target")
		}
	}
	return nil
}
