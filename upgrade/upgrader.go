/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package upgrade brings databases to a requested version by applying the patches of an upgrade file.
//
// The Upgrader reads the current version from the ledger table of the default connection, resolves
// the shortest chain of patches that leads to the target version and applies the chain patch by patch.
// Each patch is committed separately, so a failed run can be resumed from the last applied patch.
package upgrade

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gocraft/dbr/v2"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/conn"
	"github.com/acronis/go-dbpatch/graph"
	"github.com/acronis/go-dbpatch/ledger"
	"github.com/acronis/go-dbpatch/patchfile"
	"github.com/acronis/go-dbpatch/progress"
	"github.com/acronis/go-dbpatch/runlock"
)

const (
	// DefaultLockTTL is the TTL of the run lock when WithExclusiveLock is given a non-positive value.
	DefaultLockTTL = time.Minute

	defaultConnectInterval = 500 * time.Millisecond
	runLockKeyPrefix       = "dbpatch:"
	runLockKeyMaxLen       = 40
)

// Upgrader upgrades the databases of one configuration. It is not safe for concurrent use;
// use WithExclusiveLock to protect a database from concurrent runs of several processes.
type Upgrader struct {
	cfg    *dbpatch.Config
	opts   options
	conns  *conn.Set
	ledger *ledger.Ledger
	locks  *runlock.Manager
}

// NewUpgrader validates the configuration and creates an Upgrader. Connections are opened lazily.
func NewUpgrader(cfg *dbpatch.Config, opts ...Option) (*Upgrader, error) {
	if cfg == nil {
		return nil, &ConfigError{Msg: "configuration is not set"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger:   log.NewDisabledLogger(),
		listener: progress.Nop{},
		fs:       afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	retries := cfg.ConnectRetries
	if o.connectRetries != nil {
		retries = *o.connectRetries
	}

	var receivers []dbr.EventReceiver
	if o.metrics != nil {
		receivers = append(receivers, dbpatch.NewCommandMetricsEventReceiver(o.metrics))
	}
	if o.slowCommand > 0 {
		receivers = append(receivers, dbpatch.NewSlowCommandLogEventReceiver(o.logger, o.slowCommand))
	}
	var eventReceiver dbr.EventReceiver = &dbr.NullEventReceiver{}
	if len(receivers) != 0 {
		eventReceiver = dbpatch.NewCompositeReceiver(receivers)
	}

	connOpts := append([]conn.Option{
		conn.WithPasswordRequester(o.listener),
		conn.WithEventReceiver(eventReceiver),
		conn.WithConnectRetries(retries, defaultConnectInterval),
		conn.WithLogger(o.logger),
	}, o.connOptions...)
	conns, err := conn.FromConfig(cfg, connOpts...)
	if err != nil {
		return nil, err
	}

	dialect := cfg.Connections[dbpatch.DefaultConnectionName].Dialect
	table := cfg.LedgerTable
	if table == "" {
		table = dbpatch.DefaultLedgerTable
	}
	l, err := ledger.New(dialect, ledger.WithTable(table))
	if err != nil {
		return nil, &ConfigError{Connection: dbpatch.DefaultConnectionName, Msg: err.Error()}
	}

	u := &Upgrader{cfg: cfg, opts: o, conns: conns, ledger: l}
	if o.exclusive {
		if u.locks, err = runlock.NewManager(dialect); err != nil {
			return nil, &ConfigError{Connection: dbpatch.DefaultConnectionName, Msg: err.Error()}
		}
		if u.opts.lockTTL <= 0 {
			u.opts.lockTTL = DefaultLockTTL
		}
	}
	return u, nil
}

// Upgrade brings the databases to the target version. An empty target means the configured one.
// The run stops between patches when ctx is canceled; a running patch is always completed or rolled back.
func (u *Upgrader) Upgrade(ctx context.Context, target string) error {
	if target == "" {
		target = u.cfg.Target
	}
	if target == "" {
		return &ConfigError{Msg: "target version is not set"}
	}

	src, closeSrc, err := u.openSource()
	if err != nil {
		return err
	}
	defer closeSrc()

	return u.exclusively(ctx, func(ctx context.Context) error {
		return u.upgrade(ctx, src, target)
	})
}

func (u *Upgrader) upgrade(ctx context.Context, src patchfile.Source, target string) error {
	state, path, err := u.plan(ctx, src, target)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		u.opts.logger.Info("database is up to date", log.String("version", state.Version))
	} else {
		u.opts.logger.Info("upgrading database",
			log.String("from", state.Version), log.String("to", target), log.Int("patches", len(path)))
	}

	e := u.newExecutor()
	for _, p := range path {
		if err = ctx.Err(); err != nil {
			return fmt.Errorf("upgrade stopped before patch %s: %w", p, err)
		}
		if err = e.applyPatch(ctx, src, p); err != nil {
			u.opts.logger.Errorf("failed to apply patch %s: %v", p, err)
			return err
		}
	}
	u.opts.listener.PatchingFinished()
	return nil
}

// Plan returns the patches Upgrade would apply to reach target, without applying them.
func (u *Upgrader) Plan(ctx context.Context, target string) ([]patchfile.Patch, error) {
	if target == "" {
		target = u.cfg.Target
	}
	if target == "" {
		return nil, &ConfigError{Msg: "target version is not set"}
	}
	src, closeSrc, err := u.openSource()
	if err != nil {
		return nil, err
	}
	defer closeSrc()
	_, path, err := u.plan(ctx, src, target)
	return path, err
}

// Targets returns the versions reachable from the current version, nearest first.
func (u *Upgrader) Targets(ctx context.Context) ([]string, error) {
	src, closeSrc, err := u.openSource()
	if err != nil {
		return nil, err
	}
	defer closeSrc()
	state, err := u.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	return graph.New(src.Patches()).Targets(state.Version, u.cfg.DowngradeAllowed), nil
}

func (u *Upgrader) plan(ctx context.Context, src patchfile.Source, target string) (ledger.State, []patchfile.Patch, error) {
	state, err := u.CurrentVersion(ctx)
	if err != nil {
		return ledger.State{}, nil, err
	}
	path, err := graph.New(src.Patches()).Resolve(state.Version, target, u.cfg.DowngradeAllowed)
	if err != nil {
		return state, nil, err
	}
	return state, path, nil
}

// CurrentVersion returns the version of the default database. The version is empty
// when the ledger table doesn't exist yet.
func (u *Upgrader) CurrentVersion(ctx context.Context) (ledger.State, error) {
	c, err := u.conns.Get(ctx, dbpatch.DefaultConnectionName)
	if err != nil {
		return ledger.State{}, err
	}
	return u.ledger.Current(ctx, c.NewSession(nil))
}

// Records returns the ledger rows of the default database in the order they were applied.
func (u *Upgrader) Records(ctx context.Context) ([]ledger.Record, error) {
	c, err := u.conns.Get(ctx, dbpatch.DefaultConnectionName)
	if err != nil {
		return nil, err
	}
	return u.ledger.Records(ctx, c.NewSession(nil))
}

// ExecuteScript executes a plain SQL script: no patch blocks, the same directives as upgrade files.
// History conditions are evaluated against the ledger. Nothing is recorded in the ledger.
func (u *Upgrader) ExecuteScript(ctx context.Context, r io.Reader, name string) error {
	u.opts.listener.OpeningPatchFile(name)
	it, err := patchfile.OpenScript(r, name)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	return u.exclusively(ctx, func(ctx context.Context) error {
		if err := u.newExecutor().applyScript(ctx, it); err != nil {
			u.opts.logger.Errorf("failed to execute script %s: %v", name, err)
			return err
		}
		u.opts.listener.PatchingFinished()
		return nil
	})
}

// Close closes every opened connection.
func (u *Upgrader) Close() error {
	return u.conns.Close()
}

func (u *Upgrader) newExecutor() *executor {
	return &executor{
		conns:    u.conns,
		ledger:   u.ledger,
		listener: u.opts.listener,
		logger:   u.opts.logger,
		metrics:  u.opts.metrics,
		runID:    uuid.New(),
	}
}

func (u *Upgrader) openSource() (patchfile.Source, func(), error) {
	if src := u.opts.source; src != nil {
		u.opts.listener.OpeningPatchFile(src.Name())
		u.opts.listener.OpenedPatchFile(src.Name(), src.Encoding())
		return src, func() {}, nil
	}

	name := u.cfg.UpgradeFile
	if name == "" {
		return nil, nil, &ConfigError{Msg: "upgrade file is not set"}
	}
	u.opts.listener.OpeningPatchFile(name)
	f, err := u.opts.fs.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open upgrade file: %w", err)
	}
	pf, err := patchfile.Open(f, name)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	u.opts.listener.OpenedPatchFile(name, pf.Encoding())
	return pf, func() { _ = f.Close() }, nil
}

// exclusively runs fn holding the run lock of the ledger table if the exclusive mode is on.
func (u *Upgrader) exclusively(ctx context.Context, fn func(ctx context.Context) error) error {
	if u.locks == nil {
		return fn(ctx)
	}
	c, err := u.conns.Get(ctx, dbpatch.DefaultConnectionName)
	if err != nil {
		return err
	}
	if err = u.locks.EnsureTable(ctx, c.DB); err != nil {
		return fmt.Errorf("create run lock table: %w", err)
	}
	key := runLockKeyPrefix + u.ledger.Table()
	if len(key) > runLockKeyMaxLen {
		key = key[:runLockKeyMaxLen]
	}
	lock, err := u.locks.NewLock(ctx, c.DB, key)
	if err != nil {
		return fmt.Errorf("create run lock: %w", err)
	}
	return lock.Hold(ctx, c.DB, fn, runlock.WithTTL(u.opts.lockTTL), runlock.WithLogger(u.opts.logger))
}
