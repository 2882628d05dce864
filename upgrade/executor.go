/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package upgrade

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gocraft/dbr/v2"
	"github.com/google/uuid"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/conn"
	"github.com/acronis/go-dbpatch/ledger"
	"github.com/acronis/go-dbpatch/patchfile"
	"github.com/acronis/go-dbpatch/progress"
)

// executor applies patches. Every patch gets one transaction per connection it touches;
// the transaction of the default connection also carries the ledger reads and the ledger row.
type executor struct {
	conns    *conn.Set
	ledger   *ledger.Ledger
	listener progress.Listener
	logger   log.FieldLogger
	metrics  *dbpatch.PrometheusMetrics
	runID    uuid.UUID
}

// unit identifies what the commands being executed belong to. Target is empty for scripts.
type unit struct {
	kind   patchfile.Kind
	source string
	target string
}

func (e *executor) applyPatch(ctx context.Context, src patchfile.Source, p patchfile.Patch) (err error) {
	e.listener.PatchStarting(p.Kind, p.Source, p.Target)
	e.logger.Info("applying patch", log.String("patch", p.String()), log.Int("line", p.Line))
	defer func() {
		if e.metrics != nil {
			e.metrics.ObservePatch(p.Kind.String(), err == nil)
		}
	}()

	// Commands are never interrupted by the caller; cancellation is honored between patches only.
	runCtx := context.WithoutCancel(ctx)

	txs := newTxSet(e.conns)
	defer txs.rollback()

	defTx, err := txs.begin(runCtx, dbpatch.DefaultConnectionName)
	if err != nil {
		return err
	}
	if p.Kind == patchfile.KindInit {
		if err = e.ledger.Ensure(runCtx, defTx.tx); err != nil {
			return err
		}
	}

	it := src.Commands(p)
	defer func() { _ = it.Close() }()

	u := unit{kind: p.Kind, source: p.Source, target: p.Target}
	executed, err := e.execCommands(runCtx, txs, it, u)
	if err != nil {
		return err
	}

	if err = e.ledger.Append(runCtx, defTx.tx, ledger.Record{
		Source:     p.Source,
		Target:     p.Target,
		Kind:       p.Kind,
		Statements: executed,
		RunID:      e.runID,
	}); err != nil {
		return err
	}
	if err = txs.commit(); err != nil {
		return fmt.Errorf("commit patch %s: %w", p, err)
	}

	e.listener.PatchFinished()
	e.logger.Info("patch applied", log.String("patch", p.String()), log.Int("statements", executed))
	return nil
}

// applyScript runs the commands of a plain script; nothing is recorded in the ledger.
func (e *executor) applyScript(ctx context.Context, it patchfile.CommandIterator) error {
	runCtx := context.WithoutCancel(ctx)
	txs := newTxSet(e.conns)
	defer txs.rollback()

	if _, err := e.execCommands(runCtx, txs, it, unit{}); err != nil {
		return err
	}
	if err := txs.commit(); err != nil {
		return fmt.Errorf("commit script: %w", err)
	}
	return nil
}

// execCommands executes commands in order and returns how many of them were executed.
// Commands whose history conditions don't hold are skipped silently.
func (e *executor) execCommands(ctx context.Context, txs *txSet, it patchfile.CommandIterator, u unit) (int, error) {
	var history ledger.History
	executed := 0
	for it.Next() {
		cmd := it.Command()
		if cmd.Conditional() {
			if history == nil {
				defTx, err := txs.begin(ctx, dbpatch.DefaultConnectionName)
				if err != nil {
					return executed, err
				}
				if history, err = e.ledger.History(ctx, defTx.tx); err != nil {
					return executed, err
				}
			}
			if !cmd.Applies(history) {
				e.listener.Debug(fmt.Sprintf("skipping command at line %d, condition is not met", cmd.Line))
				continue
			}
		}

		e.listener.Executing(cmd, cmd.Message)
		if err := e.execCommand(ctx, txs, cmd, u); err != nil {
			e.listener.Exception(cmd, err)
			return executed, err
		}
		executed++
		e.listener.Executed()
	}
	if err := it.Err(); err != nil {
		return executed, err
	}
	return executed, nil
}

func (e *executor) execCommand(ctx context.Context, txs *txSet, cmd patchfile.Command, u unit) error {
	cmdErr := func(err error) error {
		return &CommandExecutionError{
			Kind:       u.kind,
			Source:     u.source,
			Target:     u.target,
			Connection: cmd.Connection,
			Command:    cmd,
			Code:       dbpatch.DriverErrorCode(err),
			Err:        err,
		}
	}
	ct, err := txs.begin(ctx, cmd.Connection)
	if err != nil {
		return cmdErr(err)
	}
	start := time.Now()
	_, err = ct.tx.ExecContext(ctx, cmd.Text)
	ct.conn.EventReceiver.TimingKv(dbpatch.EventCommand, time.Since(start).Nanoseconds(),
		dbpatch.CommandKvs(ct.conn.Name, u.target, cmd.Line))
	if err != nil {
		return cmdErr(err)
	}
	return nil
}

type connTx struct {
	conn *conn.Conn
	tx   *dbr.Tx
	done bool
}

// txSet holds the transactions of one patch, at most one per connection.
type txSet struct {
	conns *conn.Set
	byKey map[string]*connTx
	order []*connTx
}

func newTxSet(conns *conn.Set) *txSet {
	return &txSet{conns: conns, byKey: make(map[string]*connTx)}
}

// begin returns the transaction of the connection, beginning it on first use.
func (s *txSet) begin(ctx context.Context, name string) (*connTx, error) {
	c, err := s.conns.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if ct, ok := s.byKey[c.Name]; ok {
		return ct, nil
	}
	tx, err := c.NewSession(nil).BeginTx(ctx, c.TxOptions())
	if err != nil {
		return nil, fmt.Errorf("begin tx on connection %q: %w", c.Name, err)
	}
	ct := &connTx{conn: c, tx: tx}
	s.byKey[c.Name] = ct
	s.order = append(s.order, ct)
	return ct, nil
}

// commit commits secondary connections first and the default connection last,
// so the ledger row is only committed when everything else is.
// Atomicity across connections is not guaranteed: a failed commit of the default connection
// leaves the secondary changes committed.
func (s *txSet) commit() error {
	var def *connTx
	for _, ct := range s.order {
		if ct.conn.Name == dbpatch.DefaultConnectionName {
			def = ct
			continue
		}
		ct.done = true
		if err := ct.tx.Commit(); err != nil {
			return fmt.Errorf("connection %q: %w", ct.conn.Name, err)
		}
	}
	if def != nil {
		def.done = true
		if err := def.tx.Commit(); err != nil {
			return fmt.Errorf("connection %q: %w", def.conn.Name, err)
		}
	}
	return nil
}

// rollback rolls back every transaction that was neither committed nor rolled back.
func (s *txSet) rollback() {
	for i := len(s.order) - 1; i >= 0; i-- {
		ct := s.order[i]
		if ct.done {
			continue
		}
		ct.done = true
		// Failures are reported to the event receiver of the connection.
		_ = ct.tx.Rollback()
	}
}
