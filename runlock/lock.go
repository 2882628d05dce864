/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package runlock keeps two upgrade runs off the same database.
// The lock is a row in a table of the upgraded database; it expires unless the holder keeps extending it,
// so a crashed run cannot block the database forever.
package runlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acronis/go-dbpatch"
)

// DefaultTableName is the default name of the table holding run locks.
const DefaultTableName = "dbpatch_run_locks"

// ErrLockAlreadyAcquired is returned when another run holds the lock.
var ErrLockAlreadyAcquired = errors.New("upgrade run lock is already acquired")

// ErrLockAlreadyReleased is returned when the lock expired or was released before the holder released or extended it.
var ErrLockAlreadyReleased = errors.New("upgrade run lock is already released")

// SQLExecutor executes lock queries. *sql.DB and *sql.Tx implement it.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Manager creates run locks in one database.
type Manager struct {
	queries lockQueries
}

// ManagerOption is an option for NewManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	tableName string
}

// WithTableName sets a custom name of the lock table.
func WithTableName(tableName string) ManagerOption {
	return func(o *managerOptions) {
		o.tableName = tableName
	}
}

// NewManager creates a lock manager for the dialect.
func NewManager(dialect dbpatch.Dialect, options ...ManagerOption) (*Manager, error) {
	var opts managerOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.tableName == "" {
		opts.tableName = DefaultTableName
	}
	q, err := newLockQueries(dialect, opts.tableName)
	if err != nil {
		return nil, err
	}
	return &Manager{q}, nil
}

// Supported reports whether run locks can be used with the dialect.
func Supported(dialect dbpatch.Dialect) bool {
	_, err := newLockQueries(dialect, DefaultTableName)
	return err == nil
}

// EnsureTable creates the lock table if it doesn't exist.
func (m *Manager) EnsureTable(ctx context.Context, executor SQLExecutor) error {
	if _, err := executor.ExecContext(ctx, m.queries.createTable); err != nil {
		return fmt.Errorf("create run lock table: %w", err)
	}
	return nil
}

// NewLock creates the lock row for the key if needed and returns a lock that is not acquired yet.
func (m *Manager) NewLock(ctx context.Context, executor SQLExecutor, key string) (*Lock, error) {
	if key == "" {
		return nil, fmt.Errorf("lock key cannot be empty")
	}
	if len(key) > 40 {
		return nil, fmt.Errorf("lock key cannot be longer than 40 symbols")
	}
	if _, err := executor.ExecContext(ctx, m.queries.initLock, key); err != nil {
		return nil, fmt.Errorf("init run lock %s: %w", key, err)
	}
	return &Lock{Key: key, manager: m}, nil
}

// Lock is a run lock row.
type Lock struct {
	Key     string
	TTL     time.Duration
	token   string
	manager *Manager
}

// Acquire acquires the lock with a fresh token.
func (l *Lock) Acquire(ctx context.Context, executor SQLExecutor, ttl time.Duration) error {
	token := uuid.NewString()
	interval := l.manager.queries.intervalMaker(ttl)
	if err := execAndCheckAffected(ctx, executor, l.manager.queries.acquireLock,
		[]interface{}{interval, token, l.Key}, ErrLockAlreadyAcquired); err != nil {
		return err
	}
	l.TTL = ttl
	l.token = token
	return nil
}

// Release releases the lock.
func (l *Lock) Release(ctx context.Context, executor SQLExecutor) error {
	return execAndCheckAffected(ctx, executor, l.manager.queries.releaseLock,
		[]interface{}{l.Key, l.token}, ErrLockAlreadyReleased)
}

// Extend moves the expiration of an acquired lock one TTL ahead.
func (l *Lock) Extend(ctx context.Context, executor SQLExecutor) error {
	interval := l.manager.queries.intervalMaker(l.TTL)
	return execAndCheckAffected(ctx, executor, l.manager.queries.extendLock,
		[]interface{}{interval, l.Key, l.token}, ErrLockAlreadyReleased)
}

// Token returns the token of the last acquisition. It identifies the run in logs.
func (l *Lock) Token() string {
	return l.token
}

// Logger is an interface for logging errors.
type Logger interface {
	Errorf(format string, args ...interface{})
}

type holdOptions struct {
	ttl            time.Duration
	extendInterval time.Duration
	releaseTimeout time.Duration
	logger         Logger
}

// HoldOption is an option for Hold.
type HoldOption func(*holdOptions)

// WithTTL sets the TTL of the lock.
func WithTTL(ttl time.Duration) HoldOption {
	return func(o *holdOptions) {
		o.ttl = ttl
	}
}

// WithExtendInterval sets how often the lock is extended while held.
func WithExtendInterval(interval time.Duration) HoldOption {
	return func(o *holdOptions) {
		o.extendInterval = interval
	}
}

// WithReleaseTimeout sets the timeout of the release query.
func WithReleaseTimeout(timeout time.Duration) HoldOption {
	return func(o *holdOptions) {
		o.releaseTimeout = timeout
	}
}

// WithLogger sets the logger of extension and release failures.
func WithLogger(logger Logger) HoldOption {
	return func(o *holdOptions) {
		o.logger = logger
	}
}

// Hold acquires the lock, calls fn and releases the lock when fn returns.
// The lock is acquired with a TTL of 1 minute by default and is extended in a separate goroutine every half TTL.
// If the lock is lost, the context passed to fn is canceled; the upgrade stops before its next patch.
func (l *Lock) Hold(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error, options ...HoldOption) error {
	opts := holdOptions{ttl: time.Minute, releaseTimeout: 5 * time.Second, logger: disabledLogger{}}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.extendInterval == 0 {
		opts.extendInterval = opts.ttl / 2
	}

	if err := dbpatch.DoInTx(ctx, db, func(tx *sql.Tx) error {
		return l.Acquire(ctx, tx, opts.ttl)
	}); err != nil {
		return err
	}

	//nolint:contextcheck // the lock must be released even if ctx is canceled
	defer func() {
		releaseCtx, releaseCtxCancel := context.WithTimeout(context.Background(), opts.releaseTimeout)
		defer releaseCtxCancel()
		if err := dbpatch.DoInTx(releaseCtx, db, func(tx *sql.Tx) error {
			return l.Release(releaseCtx, tx)
		}); err != nil {
			opts.logger.Errorf("failed to release run lock %s with token %s, error: %v", l.Key, l.token, err)
		}
	}()

	childCtx, childCtxCancel := context.WithCancel(ctx)
	defer childCtxCancel()

	extensionExit := make(chan struct{})
	extensionDone := make(chan struct{})
	defer func() {
		close(extensionDone)
		<-extensionExit
	}()

	go func() {
		defer close(extensionExit)
		ticker := time.NewTicker(opts.extendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-extensionDone:
				return
			case <-ticker.C:
				if err := dbpatch.DoInTx(ctx, db, func(tx *sql.Tx) error {
					return l.Extend(ctx, tx)
				}); err != nil {
					opts.logger.Errorf("failed to extend run lock %s with token %s, error: %v", l.Key, l.token, err)
					if errors.Is(err, ErrLockAlreadyReleased) {
						childCtxCancel()
						return
					}
				}
			}
		}
	}()

	return fn(childCtx)
}

func execAndCheckAffected(ctx context.Context, executor SQLExecutor, query string, args []interface{}, errOnNoRows error) error {
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	// lib/pq may swallow the cancellation of a statement whose transaction shares the context.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errOnNoRows
	}
	return nil
}

type disabledLogger struct{}

func (disabledLogger) Errorf(string, ...interface{}) {}
