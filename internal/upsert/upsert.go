// SPDX-License-Identifier: Apache-2.0

// Package upsert implements the UpsertEngine capability: for each table it
// synthesizes the MERGE SQL (update-only, insert-only, or combined),
// executes it against the base schema, and records updated/inserted row
// counts. It honours the QA pre-check outcome: a table whose control record
// carries any error field is skipped, and there is no option to bypass that.
package upsert

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pterm/pterm"

	"github.com/geocoug/pg-upsert/internal/catalog"
	"github.com/geocoug/pg-upsert/internal/control"
	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/pgerrors"
	"github.com/geocoug/pg-upsert/internal/prompt"
)

// Method selects which DML statements UpsertOne synthesizes.
type Method string

const (
	MethodUpsert Method = "upsert"
	MethodUpdate Method = "update"
	MethodInsert Method = "insert"
)

// DefaultSampleLimit bounds how many preview rows are shown to an
// interactive prompter before a destructive step.
const DefaultSampleLimit = 1000

// Engine synthesizes and runs upsert DML for a configured table list.
type Engine struct {
	conn        pgconn.Executor
	control     *control.Table
	prompter    prompt.Prompter
	method      Method
	logger      pterm.Logger
	sampleLimit int
}

// New creates an upsert Engine.
func New(conn pgconn.Executor, ctl *control.Table, prompter prompt.Prompter, method Method, logger pterm.Logger) *Engine {
	return &Engine{conn: conn, control: ctl, prompter: prompter, method: method, logger: logger, sampleLimit: DefaultSampleLimit}
}

// UpsertAll iterates tables in configuration order and invokes UpsertOne on
// each.
func (e *Engine) UpsertAll(ctx context.Context, descriptors []*catalog.TableDescriptor) error {
	for _, desc := range descriptors {
		if err := e.UpsertOne(ctx, desc); err != nil {
			return err
		}
	}
	return nil
}

// UpsertOne merges one table's staging rows into its base table. A table
// whose control record carries any QA error is skipped with a logged
// reason; that is not itself an error.
func (e *Engine) UpsertOne(ctx context.Context, desc *catalog.TableDescriptor) error {
	rec, err := e.control.Get(desc.BaseTable)
	if err != nil {
		return err
	}

	if rec.HasErrors() {
		e.logger.Info("skipping upsert: table failed QA", e.logger.Args("table", desc.BaseTable))
		return nil
	}

	if e.method != MethodInsert && len(desc.PrimaryKey) == 0 {
		return pgerrors.Schema(nil, "table %q has no primary key and upsert method %q requires one", desc.BaseTable, e.method)
	}

	dmlCols := subtract(desc.Columns, rec.ExcludeCols)
	updateSetCols := subtract(dmlCols, desc.PrimaryKey)
	insertCols := dmlCols

	var updated, inserted int

	switch e.method {
	case MethodUpdate:
		if updated, err = e.doUpdate(ctx, desc, rec, updateSetCols); err != nil {
			return err
		}
	case MethodInsert:
		if inserted, err = e.doInsert(ctx, desc, rec, insertCols); err != nil {
			return err
		}
	case MethodUpsert:
		if updated, err = e.doUpdate(ctx, desc, rec, updateSetCols); err != nil {
			return err
		}
		if inserted, err = e.doInsert(ctx, desc, rec, insertCols); err != nil {
			return err
		}
	default:
		return pgerrors.Config(nil, "unknown upsert method %q", e.method)
	}

	return e.control.SetRowCounts(ctx, desc.BaseTable, updated, inserted)
}

// doUpdate updates only the rows whose non-PK columns actually differ from
// staging, using IS DISTINCT FROM so that NULL = NULL counts as "same" and
// no-op writes are avoided.
func (e *Engine) doUpdate(ctx context.Context, desc *catalog.TableDescriptor, rec *control.Record, setCols []string) (int, error) {
	if len(setCols) == 0 {
		return 0, nil
	}

	pkEquality := joinPredicate(desc.PrimaryKey, "b", "s", "=", "AND")
	distinctPred := distinctFromPredicate(setCols)
	setClause := setClauseFor(setCols)

	if rec.Interactive {
		previewQ := fmt.Sprintf(`SELECT %s FROM %s b JOIN %s s ON %s WHERE %s LIMIT %d`,
			qualifiedList(setCols, "s"), desc.BaseIdent(), desc.StagingIdent(), pkEquality, distinctPred, e.sampleLimit)

		sample, err := collectSample(ctx, e.conn, previewQ, setCols)
		if err != nil {
			return 0, err
		}

		decision, err := e.prompter.Confirm(
			fmt.Sprintf("Update %s", desc.BaseTable),
			fmt.Sprintf("about to update rows in %s from %s", desc.BaseTable, desc.StagingTable), sample)
		if err != nil {
			return 0, pgerrors.Database(err, "prompting for update confirmation")
		}
		switch decision {
		case prompt.Cancel:
			return 0, pgerrors.Cancelled("operator cancelled before updating %q", desc.BaseTable)
		case prompt.Skip:
			return 0, nil
		}
	}

	q := fmt.Sprintf(`UPDATE %s b SET %s FROM %s s WHERE %s AND (%s)`,
		desc.BaseIdent(), setClause, desc.StagingIdent(), pkEquality, distinctPred)

	res, err := e.conn.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return affectedRows(res, e.conn, ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s b JOIN %s s ON %s WHERE %s`,
		desc.BaseIdent(), desc.StagingIdent(), pkEquality, distinctPred))
}

// doInsert inserts staging rows whose primary key is absent from the base
// table. A table with no primary key has every staging row inserted.
func (e *Engine) doInsert(ctx context.Context, desc *catalog.TableDescriptor, rec *control.Record, insertCols []string) (int, error) {
	colList := quotedList(insertCols)

	var whereClause string
	if len(desc.PrimaryKey) > 0 {
		pkEquality := joinPredicate(desc.PrimaryKey, "b", "s", "=", "AND")
		whereClause = fmt.Sprintf(`WHERE NOT EXISTS (SELECT 1 FROM %s b WHERE %s)`, desc.BaseIdent(), pkEquality)
	}

	if rec.Interactive {
		previewQ := fmt.Sprintf(`SELECT %s FROM %s s %s LIMIT %d`,
			qualifiedList(insertCols, "s"), desc.StagingIdent(), whereClause, e.sampleLimit)

		sample, err := collectSample(ctx, e.conn, previewQ, insertCols)
		if err != nil {
			return 0, err
		}

		decision, err := e.prompter.Confirm(
			fmt.Sprintf("Insert into %s", desc.BaseTable),
			fmt.Sprintf("about to insert rows into %s from %s", desc.BaseTable, desc.StagingTable), sample)
		if err != nil {
			return 0, pgerrors.Database(err, "prompting for insert confirmation")
		}
		switch decision {
		case prompt.Cancel:
			return 0, pgerrors.Cancelled("operator cancelled before inserting into %q", desc.BaseTable)
		case prompt.Skip:
			return 0, nil
		}
	}

	q := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s s %s`,
		desc.BaseIdent(), colList, qualifiedList(insertCols, "s"), desc.StagingIdent(), whereClause)

	res, err := e.conn.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return affectedRows(res, e.conn, ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s s %s`, desc.StagingIdent(), whereClause))
}

// affectedRows prefers the driver-reported affected-row count; if the
// driver cannot report one, it falls back to re-running fallbackCountQ,
// which must count the same rows the DML targeted before executing.
func affectedRows(res interface{ RowsAffected() (int64, error) }, conn pgconn.Executor, ctx context.Context, fallbackCountQ string) (int, error) {
	n, err := res.RowsAffected()
	if err == nil {
		return int(n), nil
	}

	var count int
	if qerr := conn.QueryScalar(ctx, fallbackCountQ, &count); qerr != nil {
		return 0, pgerrors.Database(qerr, "recovering affected row count")
	}
	return count, nil
}

func collectSample(ctx context.Context, conn pgconn.Executor, q string, cols []string) ([]prompt.SampleRow, error) {
	rows, err := conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sample []prompt.SampleRow
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, pgerrors.Database(err, "scanning preview row")
		}
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprintf("%v", v)
		}
		sample = append(sample, prompt.SampleRow{Columns: cols, Values: strs})
	}
	if err := rows.Err(); err != nil {
		return nil, pgerrors.Database(err, "iterating preview rows")
	}
	return sample, nil
}

func subtract(cols, exclude []string) []string {
	excl := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		excl[c] = true
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !excl[c] {
			out = append(out, c)
		}
	}
	return out
}

// joinPredicate builds "leftAlias.col op rightAlias.col" for each of cols,
// joined by sep (AND for equality, OR for IS DISTINCT FROM).
func joinPredicate(cols []string, leftAlias, rightAlias, op, sep string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		q := pq.QuoteIdentifier(c)
		parts[i] = fmt.Sprintf("%s.%s %s %s.%s", leftAlias, q, op, rightAlias, q)
	}
	return strings.Join(parts, " "+sep+" ")
}

// distinctFromPredicate ORs together an IS DISTINCT FROM comparison per
// column, so the UPDATE only touches rows that actually changed.
func distinctFromPredicate(cols []string) string {
	return joinPredicate(cols, "b", "s", "IS DISTINCT FROM", "OR")
}

// setClauseFor builds "col = s.col, ..." for an UPDATE ... FROM statement.
func setClauseFor(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		q := pq.QuoteIdentifier(c)
		parts[i] = fmt.Sprintf("%s = s.%s", q, q)
	}
	return strings.Join(parts, ", ")
}

// qualifiedList renders "alias.col, ..." for a SELECT list.
func qualifiedList(cols []string, alias string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s.%s", alias, pq.QuoteIdentifier(c))
	}
	return strings.Join(parts, ", ")
}

// quotedList renders "col, ..." for an INSERT column list.
func quotedList(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(parts, ", ")
}
