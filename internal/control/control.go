// SPDX-License-Identifier: Apache-2.0

// Package control implements the ControlTable capability: a session-scoped
// scratch table recording, per configured table, the effective per-table
// flags and the accumulated QA error / upsert row-count state. It is the
// authoritative source of "did QA pass" and "what to report".
package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/pgerrors"
)

// Record is one control row, keyed by table name.
type Record struct {
	Table               string
	ExcludeCols         []string
	ExcludeNullChecks   []string
	Interactive         bool
	NullErrors          string
	PKErrors            string
	FKErrors            string
	CKErrors            string
	RowsUpdated         int
	RowsInserted        int
}

// HasErrors reports whether any QA error field is non-empty.
func (r *Record) HasErrors() bool {
	return r.NullErrors != "" || r.PKErrors != "" || r.FKErrors != "" || r.CKErrors != ""
}

// Field identifies a mutable column of the control table.
type Field string

const (
	FieldNullErrors   Field = "null_errors"
	FieldPKErrors     Field = "pk_errors"
	FieldFKErrors     Field = "fk_errors"
	FieldCKErrors     Field = "ck_errors"
	FieldRowsUpdated  Field = "rows_updated"
	FieldRowsInserted Field = "rows_inserted"
	FieldInteractive  Field = "interactive"
)

// Table is the session-scoped control table. It is backed by a real
// temporary table so that, per the design notes, an operator can query and
// tabulate it mid-session exactly as they would any other table; all reads
// after seeding go through an in-memory cache to avoid round-tripping for
// every check.
type Table struct {
	conn      pgconn.Executor
	name      string
	records   map[string]*Record
	tableOrd  []string
}

// New creates a Table bound to conn. name is unique per session so that
// concurrent pg-upsert runs against the same database never collide.
func New(conn pgconn.Executor) *Table {
	return &Table{
		conn:    conn,
		name:    fmt.Sprintf("pg_upsert_control_%s", strings.ReplaceAll(uuid.NewString(), "-", "_")),
		records: make(map[string]*Record),
	}
}

// Create creates the backing temporary table for the session.
func (t *Table) Create(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TEMPORARY TABLE %s (
		table_name           TEXT PRIMARY KEY,
		exclude_cols         TEXT[] NOT NULL DEFAULT '{}',
		exclude_null_checks  TEXT[] NOT NULL DEFAULT '{}',
		interactive          BOOLEAN NOT NULL DEFAULT false,
		null_errors          TEXT NOT NULL DEFAULT '',
		pk_errors            TEXT NOT NULL DEFAULT '',
		fk_errors            TEXT NOT NULL DEFAULT '',
		ck_errors            TEXT NOT NULL DEFAULT '',
		rows_updated         INTEGER NOT NULL DEFAULT 0,
		rows_inserted        INTEGER NOT NULL DEFAULT 0
	) ON COMMIT DROP`, pq.QuoteIdentifier(t.name))

	if _, err := t.conn.Exec(ctx, q); err != nil {
		return pgerrors.Database(err, "creating control table")
	}
	return nil
}

// Seed inserts one row per configured table, with the effective flags
// initialized from configuration.
func (t *Table) Seed(ctx context.Context, tables []string, excludeCols, excludeNullChecks []string, interactive bool) error {
	// pq.Array sends a nil slice as NULL; the array columns are NOT NULL.
	if excludeCols == nil {
		excludeCols = []string{}
	}
	if excludeNullChecks == nil {
		excludeNullChecks = []string{}
	}
	for _, table := range tables {
		q := fmt.Sprintf(`INSERT INTO %s (table_name, exclude_cols, exclude_null_checks, interactive)
			VALUES ($1, $2, $3, $4)`, pq.QuoteIdentifier(t.name))

		_, err := t.conn.ExecParams(ctx, q, table, pq.Array(excludeCols), pq.Array(excludeNullChecks), interactive)
		if err != nil {
			return pgerrors.Database(err, "seeding control row for %q", table)
		}

		t.records[table] = &Record{
			Table:             table,
			ExcludeCols:       excludeCols,
			ExcludeNullChecks: excludeNullChecks,
			Interactive:       interactive,
		}
		t.tableOrd = append(t.tableOrd, table)
	}
	return nil
}

// Get returns the control record for table. The returned pointer is live:
// mutating its fields does not itself persist to the backing table, use
// AppendError, SetRowCounts or SetInteractive for that.
func (t *Table) Get(table string) (*Record, error) {
	r, ok := t.records[table]
	if !ok {
		return nil, pgerrors.Invariant("no control record for table %q", table)
	}
	return r, nil
}

// AppendError appends text to the named error field, comma-separating it
// from any existing content, both in memory and in the backing table. Error
// fields are monotonic: they are only ever appended to during a run.
func (t *Table) AppendError(ctx context.Context, table string, field Field, text string) error {
	rec, err := t.Get(table)
	if err != nil {
		return err
	}

	current := t.currentErrorField(rec, field)
	updated := text
	if current != "" {
		updated = current + ", " + text
	}
	t.setErrorField(rec, field, updated)

	q := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE table_name = $2`,
		pq.QuoteIdentifier(t.name), string(field))
	if _, err := t.conn.ExecParams(ctx, q, updated, table); err != nil {
		return pgerrors.Database(err, "updating %s for %q", field, table)
	}
	return nil
}

// SetRowCounts records the final updated/inserted row counts for table.
func (t *Table) SetRowCounts(ctx context.Context, table string, updated, inserted int) error {
	rec, err := t.Get(table)
	if err != nil {
		return err
	}
	rec.RowsUpdated = updated
	rec.RowsInserted = inserted

	q := fmt.Sprintf(`UPDATE %s SET rows_updated = $1, rows_inserted = $2 WHERE table_name = $3`,
		pq.QuoteIdentifier(t.name))
	if _, err := t.conn.ExecParams(ctx, q, updated, inserted, table); err != nil {
		return pgerrors.Database(err, "updating row counts for %q", table)
	}
	return nil
}

// SetInteractive overrides the effective interactive flag for one table,
// allowing an operator to change course mid-run.
func (t *Table) SetInteractive(ctx context.Context, table string, interactive bool) error {
	rec, err := t.Get(table)
	if err != nil {
		return err
	}
	rec.Interactive = interactive

	q := fmt.Sprintf(`UPDATE %s SET interactive = $1 WHERE table_name = $2`, pq.QuoteIdentifier(t.name))
	if _, err := t.conn.ExecParams(ctx, q, interactive, table); err != nil {
		return pgerrors.Database(err, "updating interactive flag for %q", table)
	}
	return nil
}

// AnyErrors reports whether any control row, across every configured table,
// has a non-empty error field: the run-wide definition of "QA passed".
func (t *Table) AnyErrors() bool {
	for _, table := range t.tableOrd {
		if t.records[table].HasErrors() {
			return true
		}
	}
	return false
}

// Tables returns the configured table names in seed order.
func (t *Table) Tables() []string {
	out := make([]string, len(t.tableOrd))
	copy(out, t.tableOrd)
	return out
}

// SnapshotRow is one row of the human-readable control table summary.
type SnapshotRow struct {
	Table        string
	NullErrors   string
	PKErrors     string
	FKErrors     string
	CKErrors     string
	RowsUpdated  int
	RowsInserted int
}

// Snapshot returns the current control table as structured data, in
// configured table order, for rendering or programmatic inspection.
func (t *Table) Snapshot() []SnapshotRow {
	rows := make([]SnapshotRow, 0, len(t.tableOrd))
	for _, table := range t.tableOrd {
		r := t.records[table]
		rows = append(rows, SnapshotRow{
			Table:        r.Table,
			NullErrors:   r.NullErrors,
			PKErrors:     r.PKErrors,
			FKErrors:     r.FKErrors,
			CKErrors:     r.CKErrors,
			RowsUpdated:  r.RowsUpdated,
			RowsInserted: r.RowsInserted,
		})
	}
	return rows
}

// Drop drops the backing temporary table. Sessions that end without calling
// Drop still lose the table automatically (ON COMMIT DROP / session end),
// but callers that keep a session open across multiple runs should call it
// explicitly.
func (t *Table) Drop(ctx context.Context) error {
	q := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pq.QuoteIdentifier(t.name))
	if _, err := t.conn.Exec(ctx, q); err != nil {
		return pgerrors.Database(err, "dropping control table")
	}
	return nil
}

func (t *Table) currentErrorField(rec *Record, field Field) string {
	switch field {
	case FieldNullErrors:
		return rec.NullErrors
	case FieldPKErrors:
		return rec.PKErrors
	case FieldFKErrors:
		return rec.FKErrors
	case FieldCKErrors:
		return rec.CKErrors
	default:
		return ""
	}
}

func (t *Table) setErrorField(rec *Record, field Field, value string) {
	switch field {
	case FieldNullErrors:
		rec.NullErrors = value
	case FieldPKErrors:
		rec.PKErrors = value
	case FieldFKErrors:
		rec.FKErrors = value
	case FieldCKErrors:
		rec.CKErrors = value
	}
}
