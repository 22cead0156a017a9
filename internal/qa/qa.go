// SPDX-License-Identifier: Apache-2.0

// Package qa implements the QAEngine capability: the four families of
// pre-merge integrity checks (not-null, primary key, foreign key, check
// constraint) run against each configured table's staging rows, with
// findings accumulated into the control table.
package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/geocoug/pg-upsert/internal/catalog"
	"github.com/geocoug/pg-upsert/internal/control"
	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/pgerrors"
	"github.com/geocoug/pg-upsert/internal/prompt"
)

// DefaultSampleLimit bounds how many rows are shown to an interactive
// prompter for a single finding.
const DefaultSampleLimit = 1000

// Engine runs the four QA check families over a configured table list.
type Engine struct {
	conn        pgconn.Executor
	control     *control.Table
	prompter    prompt.Prompter
	sampleLimit int
}

// New creates a QA Engine.
func New(conn pgconn.Executor, ctl *control.Table, prompter prompt.Prompter) *Engine {
	return &Engine{conn: conn, control: ctl, prompter: prompter, sampleLimit: DefaultSampleLimit}
}

// QAAll iterates tables in configuration order, invoking the four checks on
// each in the fixed order NOT-NULL -> PK -> FK -> CK. There is no
// short-circuit across families or tables: a table failing NOT-NULL is
// still subjected to PK/FK/CK checks so the final summary is complete.
// QAAll returns an error only for a database failure or operator
// cancellation; QA findings themselves are reported through the control
// table, not as a Go error.
func (e *Engine) QAAll(ctx context.Context, descriptors []*catalog.TableDescriptor) error {
	for _, desc := range descriptors {
		if err := e.QANotNull(ctx, desc); err != nil {
			return err
		}
		if err := e.QAPrimaryKey(ctx, desc); err != nil {
			return err
		}
		if err := e.QAForeignKeys(ctx, desc); err != nil {
			return err
		}
		if err := e.QACheckConstraints(ctx, desc); err != nil {
			return err
		}
	}
	return nil
}

// QANotNull counts, for each base NOT NULL column not exempted by the
// table's effective exclude_null_checks, staging rows where that column is
// NULL.
func (e *Engine) QANotNull(ctx context.Context, desc *catalog.TableDescriptor) error {
	rec, err := e.control.Get(desc.BaseTable)
	if err != nil {
		return err
	}
	exempt := toSet(rec.ExcludeNullChecks)

	for _, col := range desc.NotNullColumns {
		if exempt[col] {
			continue
		}

		quotedCol := pq.QuoteIdentifier(col)

		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s IS NULL`, desc.StagingIdent(), quotedCol)

		var count int
		if err := e.conn.QueryScalar(ctx, q, &count); err != nil {
			return err
		}
		if count > 0 {
			if err := e.control.AppendError(ctx, desc.BaseTable, control.FieldNullErrors,
				fmt.Sprintf("%s (%d)", col, count)); err != nil {
				return err
			}
		}
	}
	return nil
}

// QAPrimaryKey flags staging rows whose primary-key column tuple is
// duplicated. NULL in a PK column groups as its own distinct "missing" key,
// matching GROUP BY's default semantics; the NOT-NULL check is responsible
// for surfacing it separately.
func (e *Engine) QAPrimaryKey(ctx context.Context, desc *catalog.TableDescriptor) error {
	if len(desc.PrimaryKey) == 0 {
		return nil
	}

	rec, err := e.control.Get(desc.BaseTable)
	if err != nil {
		return err
	}

	pkCols := quoteIdentList(desc.PrimaryKey)
	pkList := strings.Join(pkCols, ", ")

	q := fmt.Sprintf(`SELECT %s, COUNT(*) AS n FROM %s GROUP BY %s HAVING COUNT(*) > 1`,
		pkList, desc.StagingIdent(), pkList)

	rows, err := e.conn.Query(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	groups := 0
	totalRows := 0
	var sample []prompt.SampleRow
	cols := append(append([]string{}, desc.PrimaryKey...), "count")

	for rows.Next() {
		vals := make([]any, len(desc.PrimaryKey)+1)
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return pgerrors.Database(err, "scanning duplicate key row for %q", desc.BaseTable)
		}

		groups++
		var n int
		if iv, ok := vals[len(vals)-1].(int64); ok {
			n = int(iv)
		}
		totalRows += n

		if len(sample) < e.sampleLimit {
			strs := make([]string, len(vals))
			for i, v := range vals {
				strs[i] = fmt.Sprintf("%v", v)
			}
			sample = append(sample, prompt.SampleRow{Columns: cols, Values: strs})
		}
	}
	if err := rows.Err(); err != nil {
		return pgerrors.Database(err, "iterating duplicate key rows for %q", desc.BaseTable)
	}

	if groups == 0 {
		return nil
	}

	summary := fmt.Sprintf("%d duplicate keys (%d rows) in table %s", groups, totalRows, desc.StagingIdent())
	if err := e.control.AppendError(ctx, desc.BaseTable, control.FieldPKErrors, summary); err != nil {
		return err
	}

	if rec.Interactive {
		decision, err := e.prompter.Confirm(
			fmt.Sprintf("Duplicate primary key in %s", desc.BaseTable),
			summary, sample)
		if err != nil {
			return pgerrors.Database(err, "prompting for duplicate key confirmation")
		}
		if decision == prompt.Cancel {
			return pgerrors.Cancelled("operator cancelled during primary-key QA for %q", desc.BaseTable)
		}
	}

	return nil
}

// QAForeignKeys flags staging rows whose local foreign-key columns are
// entirely non-NULL but whose value tuple is absent from the referenced
// base table. Rows with any NULL in the local columns are excluded here;
// they are the NOT-NULL check's responsibility.
func (e *Engine) QAForeignKeys(ctx context.Context, desc *catalog.TableDescriptor) error {
	rec, err := e.control.Get(desc.BaseTable)
	if err != nil {
		return err
	}

	for _, fk := range desc.ForeignKeys {
		localCols := quoteIdentList(fk.Columns)
		refCols := quoteIdentList(fk.ReferencedColumns)
		refIdent, err := catalog.QuoteQualified(fk.ReferencedSchema, fk.ReferencedTable)
		if err != nil {
			return err
		}

		localTuple := strings.Join(localCols, ", ")
		refTuple := strings.Join(refCols, ", ")
		notNullPred := notNullPredicate(localCols)

		countQ := fmt.Sprintf(`SELECT COUNT(*) FROM %s s WHERE %s AND (%s) NOT IN (SELECT %s FROM %s)`,
			desc.StagingIdent(), notNullPred, localTuple, refTuple, refIdent)

		var count int
		if err := e.conn.QueryScalar(ctx, countQ, &count); err != nil {
			return err
		}
		if count == 0 {
			continue
		}

		if err := e.control.AppendError(ctx, desc.BaseTable, control.FieldFKErrors,
			fmt.Sprintf("%s (%d)", fk.Name, count)); err != nil {
			return err
		}

		if rec.Interactive {
			sampleQ := fmt.Sprintf(`SELECT %s, COUNT(*) AS n FROM %s s
				WHERE %s AND (%s) NOT IN (SELECT %s FROM %s)
				GROUP BY %s LIMIT %d`,
				localTuple, desc.StagingIdent(), notNullPred, localTuple, refTuple, refIdent, localTuple, e.sampleLimit)

			sample, err := e.collectSample(ctx, sampleQ, append(append([]string{}, fk.Columns...), "count"))
			if err != nil {
				return err
			}

			decision, err := e.prompter.Confirm(
				fmt.Sprintf("Dangling foreign key %s on %s", fk.Name, desc.BaseTable),
				fmt.Sprintf("%d staging rows reference missing %s rows", count, fk.ReferencedTable), sample)
			if err != nil {
				return pgerrors.Database(err, "prompting for foreign key confirmation")
			}
			if decision == prompt.Cancel {
				return pgerrors.Cancelled("operator cancelled during foreign-key QA for %q", desc.BaseTable)
			}
		}
	}
	return nil
}

// QACheckConstraints evaluates each CHECK constraint's predicate verbatim
// against staging rows. A row where the predicate evaluates to NULL is not
// a violation: `WHERE NOT (<expr>)` already excludes it, mirroring how
// Postgres itself evaluates CHECK constraints. There is no interactive
// prompt for check constraints; there is no concise sample to display for
// an arbitrary boolean expression.
func (e *Engine) QACheckConstraints(ctx context.Context, desc *catalog.TableDescriptor) error {
	for _, ck := range desc.CheckConstraints {
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE NOT (%s)`, desc.StagingIdent(), ck.Expression)

		var count int
		if err := e.conn.QueryScalar(ctx, q, &count); err != nil {
			return err
		}
		if count > 0 {
			if err := e.control.AppendError(ctx, desc.BaseTable, control.FieldCKErrors,
				fmt.Sprintf("%s (%d)", ck.Name, count)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) collectSample(ctx context.Context, q string, cols []string) ([]prompt.SampleRow, error) {
	rows, err := e.conn.Query(ctx, q)
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
			return nil, pgerrors.Database(err, "scanning sample row")
		}
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprintf("%v", v)
		}
		sample = append(sample, prompt.SampleRow{Columns: cols, Values: strs})
	}
	if err := rows.Err(); err != nil {
		return nil, pgerrors.Database(err, "iterating sample rows")
	}
	return sample, nil
}

func quoteIdentList(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pq.QuoteIdentifier(c)
	}
	return out
}

func notNullPredicate(quotedCols []string) string {
	parts := make([]string, len(quotedCols))
	for i, c := range quotedCols {
		parts[i] = fmt.Sprintf("%s IS NOT NULL", c)
	}
	return strings.Join(parts, " AND ")
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
