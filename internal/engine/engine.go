// SPDX-License-Identifier: Apache-2.0

// Package engine implements the Orchestrator capability: it drives a single
// transactional session through catalog discovery, QA, and upsert, and owns
// the commit/rollback decision. Nothing outside this package ever calls
// Commit or Rollback on the underlying connection directly.
package engine

import (
	"context"

	"github.com/pterm/pterm"

	"github.com/geocoug/pg-upsert/internal/catalog"
	"github.com/geocoug/pg-upsert/internal/control"
	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/pgerrors"
	"github.com/geocoug/pg-upsert/internal/prompt"
	"github.com/geocoug/pg-upsert/internal/qa"
	"github.com/geocoug/pg-upsert/internal/upsert"
)

// State is the orchestrator's position in its run lifecycle.
type State int

const (
	StateInit State = iota
	StateInspected
	StateQARun
	StateQAFailed
	StateUpsertRun
	StateCancelled
	StateFinalized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateInspected:
		return "inspected"
	case StateQARun:
		return "qa_run"
	case StateQAFailed:
		return "qa_failed"
	case StateUpsertRun:
		return "upsert_run"
	case StateCancelled:
		return "cancelled"
	case StateFinalized:
		return "finalized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome is the disposition of a completed Run.
type Outcome int

const (
	Committed Outcome = iota
	RolledBackQAFailed
	RolledBackCancelled
	RolledBackDryRun
	RolledBackError
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case RolledBackQAFailed:
		return "rolled_back_qa_failed"
	case RolledBackCancelled:
		return "rolled_back_cancelled"
	case RolledBackDryRun:
		return "rolled_back_dry_run"
	case RolledBackError:
		return "rolled_back_error"
	default:
		return "unknown"
	}
}

// Plan is the set of tables and options a Run operates over; it is the
// orchestrator's view of configuration, independent of how it was parsed.
type Plan struct {
	BaseSchema        string
	StagingSchema     string
	Tables            []string
	ExcludeCols       []string
	ExcludeNullChecks []string
	Interactive       bool
	Method            upsert.Method
	Commit            bool
}

// Engine owns one session end to end.
type Engine struct {
	conn     pgconn.Executor
	prompter prompt.Prompter
	logger   pterm.Logger

	inspector *catalog.Inspector
	control   *control.Table
	qa        *qa.Engine
	upsert    *upsert.Engine

	plan        Plan
	descriptors []*catalog.TableDescriptor
	state       State
}

// New wires a new session Engine. conn must already have an open transaction
// (see pgconn.Open / pgconn.FromTx); a nil prompter is replaced by Silent.
// Callers without an opinion on logging pass pterm.DefaultLogger.
func New(conn pgconn.Executor, plan Plan, prompter prompt.Prompter, logger pterm.Logger) *Engine {
	if prompter == nil {
		prompter = prompt.Silent{}
	}

	ctl := control.New(conn)
	return &Engine{
		conn:      conn,
		prompter:  prompter,
		logger:    logger,
		inspector: catalog.New(conn),
		control:   ctl,
		qa:        qa.New(conn, ctl, prompter),
		upsert:    upsert.New(conn, ctl, prompter, plan.Method, logger),
		plan:      plan,
		state:     StateInit,
	}
}

// Run executes the full validate-then-upsert sequence: inspect, seed the
// control table, QA every table, upsert every table that passed, and commit
// or roll back. It always returns a terminal Outcome alongside any error;
// callers map the error's Kind to an exit code.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	if err := e.Inspect(ctx); err != nil {
		return e.abort(ctx, err)
	}

	if err := e.QAAll(ctx); err != nil {
		return e.abort(ctx, err)
	}

	if e.control.AnyErrors() {
		e.state = StateQAFailed
		if rbErr := e.rollback(ctx); rbErr != nil {
			return RolledBackError, rbErr
		}
		return RolledBackQAFailed, pgerrors.QAFailure("one or more tables failed QA; see control snapshot")
	}

	if err := e.UpsertAll(ctx); err != nil {
		return e.abort(ctx, err)
	}

	return e.finalize(ctx)
}

// Inspect runs catalog discovery and seeds the control table. Run calls this
// automatically; exposed for callers that want to inspect the control
// snapshot before deciding whether to continue.
func (e *Engine) Inspect(ctx context.Context) error {
	if e.state != StateInit {
		return pgerrors.Invariant("Inspect called from state %s", e.state)
	}

	descriptors := make([]*catalog.TableDescriptor, 0, len(e.plan.Tables))
	for _, table := range e.plan.Tables {
		desc, err := e.inspector.Describe(ctx, e.plan.BaseSchema, e.plan.StagingSchema, table)
		if err != nil {
			return err
		}
		descriptors = append(descriptors, desc)
	}
	e.descriptors = descriptors

	if err := e.control.Create(ctx); err != nil {
		return err
	}
	if err := e.control.Seed(ctx, e.plan.Tables, e.plan.ExcludeCols, e.plan.ExcludeNullChecks, e.plan.Interactive); err != nil {
		return err
	}

	e.state = StateInspected
	return nil
}

// QAAll runs every QA check family over every configured table.
func (e *Engine) QAAll(ctx context.Context) error {
	if e.state != StateInspected {
		return pgerrors.Invariant("QAAll called from state %s", e.state)
	}
	if err := e.qa.QAAll(ctx, e.descriptors); err != nil {
		return err
	}
	e.state = StateQARun
	return nil
}

// QAOneNull, QAOnePK, QAOneFK, and QAOneCK run a single check family against
// a single table, for callers driving the engine table-by-table rather than
// through Run.
func (e *Engine) QAOneNull(ctx context.Context, table string) error {
	return e.qa.QANotNull(ctx, e.descriptorFor(table))
}

func (e *Engine) QAOnePK(ctx context.Context, table string) error {
	return e.qa.QAPrimaryKey(ctx, e.descriptorFor(table))
}

func (e *Engine) QAOneFK(ctx context.Context, table string) error {
	return e.qa.QAForeignKeys(ctx, e.descriptorFor(table))
}

func (e *Engine) QAOneCK(ctx context.Context, table string) error {
	return e.qa.QACheckConstraints(ctx, e.descriptorFor(table))
}

// UpsertAll merges every table that passed QA.
func (e *Engine) UpsertAll(ctx context.Context) error {
	if err := e.upsert.UpsertAll(ctx, e.descriptors); err != nil {
		return err
	}
	e.state = StateUpsertRun
	return nil
}

// UpsertOne merges a single table.
func (e *Engine) UpsertOne(ctx context.Context, table string) error {
	return e.upsert.UpsertOne(ctx, e.descriptorFor(table))
}

// Commit finalizes the session, per plan.Commit: true commits, false rolls
// back a dry run that otherwise completed cleanly.
func (e *Engine) Commit(ctx context.Context) (Outcome, error) {
	return e.finalize(ctx)
}

// Rollback aborts the session explicitly, for callers that decide outside
// the engine that the run should not proceed.
func (e *Engine) Rollback(ctx context.Context) (Outcome, error) {
	e.state = StateCancelled
	if err := e.rollback(ctx); err != nil {
		return RolledBackError, err
	}
	return RolledBackCancelled, nil
}

// ControlSnapshot returns the current state of every table's control record,
// in configured order, for CLI rendering.
func (e *Engine) ControlSnapshot() []control.SnapshotRow {
	return e.control.Snapshot()
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// finalize is reached only after QA and upsert both completed cleanly, so a
// plan.Commit == false here is a deliberate dry run, not an operator
// cancellation: it still transitions through StateFinalized, distinct from
// the StateCancelled path Rollback and abort use for an explicit bail-out.
func (e *Engine) finalize(ctx context.Context) (Outcome, error) {
	if !e.plan.Commit {
		if err := e.conn.Rollback(); err != nil {
			e.close()
			return RolledBackError, err
		}
		e.state = StateFinalized
		e.close()
		return RolledBackDryRun, nil
	}

	if err := e.conn.Commit(); err != nil {
		return RolledBackError, err
	}
	e.state = StateFinalized
	e.close()
	return Committed, nil
}

func (e *Engine) abort(ctx context.Context, cause error) (Outcome, error) {
	if kind, ok := pgerrors.KindOf(cause); ok && kind == pgerrors.KindCancelled {
		e.state = StateCancelled
		if err := e.rollback(ctx); err != nil {
			return RolledBackError, err
		}
		return RolledBackCancelled, cause
	}

	if err := e.rollback(ctx); err != nil {
		e.logger.Error("rollback after error also failed", e.logger.Args("rollback_error", err))
	}
	return RolledBackError, cause
}

func (e *Engine) rollback(ctx context.Context) error {
	err := e.conn.Rollback()
	e.close()
	return err
}

func (e *Engine) close() {
	e.state = StateClosed
}

func (e *Engine) descriptorFor(table string) *catalog.TableDescriptor {
	for _, d := range e.descriptors {
		if d.BaseTable == table {
			return d
		}
	}
	return nil
}
