// SPDX-License-Identifier: Apache-2.0

// Package catalog implements the CatalogInspector capability: it reads
// information_schema/pg_catalog to discover the shape and constraints of a
// base-schema table, confirms the matching staging table exists and shares
// the required columns, and is the sole place identifiers are validated
// before being concatenated into generated SQL.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/lib/pq"

	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/pgerrors"
)

// identifierPattern is the sole defence against SQL injection through
// table/column names: every identifier consumed from configuration must
// match this before it is concatenated into generated SQL.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

const maxIdentifierLength = 63

// ValidateIdentifier rejects any identifier that isn't a bare Postgres
// identifier: letters/digits/underscore/dollar, not starting with a digit,
// at most 63 characters. It is the single choke point every schema- or
// table-derived string must pass through before reaching a concatenated
// SQL statement.
func ValidateIdentifier(name string) error {
	if name == "" {
		return pgerrors.Config(nil, "identifier must not be empty")
	}
	if len(name) > maxIdentifierLength {
		return pgerrors.Config(nil, "identifier %q exceeds %d characters", name, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return pgerrors.Config(nil, "identifier %q contains characters outside [A-Za-z0-9_$]", name)
	}
	return nil
}

// QuoteQualified validates and double-quotes a schema.table (or
// schema.column) pair for use in generated SQL.
func QuoteQualified(schema, name string) (string, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name), nil
}

// ForeignKey describes a foreign key defined on a base table.
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedSchema  string
	ReferencedTable   string
	ReferencedColumns []string
}

// CheckConstraint describes a CHECK constraint defined on a base table.
type CheckConstraint struct {
	Name       string
	Expression string
}

// TableDescriptor is the catalog-derived, read-only view of one configured
// table: its shape in both schemas and the constraints declared on the base
// table.
type TableDescriptor struct {
	BaseSchema    string
	BaseTable     string
	StagingSchema string
	StagingTable  string

	// Columns common to both schemas, in base-table ordinal order.
	Columns []string

	PrimaryKey       []string
	NotNullColumns   []string
	ForeignKeys      []ForeignKey
	CheckConstraints []CheckConstraint
}

// BaseIdent returns the quoted, schema-qualified base table identifier.
func (t *TableDescriptor) BaseIdent() string {
	ident, _ := QuoteQualified(t.BaseSchema, t.BaseTable)
	return ident
}

// StagingIdent returns the quoted, schema-qualified staging table identifier.
func (t *TableDescriptor) StagingIdent() string {
	ident, _ := QuoteQualified(t.StagingSchema, t.StagingTable)
	return ident
}

// Inspector reads Postgres system catalogs through an Executor.
type Inspector struct {
	conn pgconn.Executor
}

// New creates an Inspector bound to conn.
func New(conn pgconn.Executor) *Inspector {
	return &Inspector{conn: conn}
}

// TableExists reports whether schema.name exists in information_schema.tables.
func (i *Inspector) TableExists(ctx context.Context, schema, name string) (bool, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return false, err
	}
	if err := ValidateIdentifier(name); err != nil {
		return false, err
	}

	q := fmt.Sprintf(`SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = %s AND table_name = %s`,
		pq.QuoteLiteral(schema), pq.QuoteLiteral(name))

	var count int
	if err := i.conn.QueryScalar(ctx, q, &count); err != nil {
		return false, pgerrors.Database(err, "checking existence of %s.%s", schema, name)
	}
	return count > 0, nil
}

// Columns returns the ordered list of column names for schema.name, in
// ordinal position.
func (i *Inspector) Columns(ctx context.Context, schema, name string) ([]string, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT column_name FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position`,
		pq.QuoteLiteral(schema), pq.QuoteLiteral(name))

	return i.queryStrings(ctx, q)
}

// NotNullColumns returns the set of columns declared NOT NULL on the base
// schema table.
func (i *Inspector) NotNullColumns(ctx context.Context, schema, name string) ([]string, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT column_name FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s AND is_nullable = 'NO'
		ORDER BY ordinal_position`,
		pq.QuoteLiteral(schema), pq.QuoteLiteral(name))

	return i.queryStrings(ctx, q)
}

// PrimaryKey returns the ordered columns making up the primary key of
// schema.name, or an empty slice if the table has no primary key.
func (i *Inspector) PrimaryKey(ctx context.Context, schema, name string) ([]string, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT a.attname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = %s AND c.relname = %s AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`,
		pq.QuoteLiteral(schema), pq.QuoteLiteral(name))

	return i.queryStrings(ctx, q)
}

// ForeignKeys returns the foreign keys declared on schema.name, preserving
// ordinal position of the local columns within each key.
func (i *Inspector) ForeignKeys(ctx context.Context, schema, name string) ([]ForeignKey, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT
			con.conname,
			array_agg(att.attname ORDER BY pos.ord) AS local_columns,
			refn.nspname,
			refc.relname,
			array_agg(refatt.attname ORDER BY pos.ord) AS ref_columns
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class refc ON refc.oid = con.confrelid
		JOIN pg_namespace refn ON refn.oid = refc.relnamespace
		JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS pos(localattnum, refattnum, ord) ON true
		JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = pos.localattnum
		JOIN pg_attribute refatt ON refatt.attrelid = con.confrelid AND refatt.attnum = pos.refattnum
		WHERE n.nspname = %s AND c.relname = %s AND con.contype = 'f'
		GROUP BY con.conname, refn.nspname, refc.relname
		ORDER BY con.conname`,
		pq.QuoteLiteral(schema), pq.QuoteLiteral(name))

	rows, err := i.conn.Query(ctx, q)
	if err != nil {
		return nil, pgerrors.Database(err, "reading foreign keys for %s.%s", schema, name)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var localCols, refCols pq.StringArray
		if err := rows.Scan(&fk.Name, &localCols, &fk.ReferencedSchema, &fk.ReferencedTable, &refCols); err != nil {
			return nil, pgerrors.Database(err, "scanning foreign key row")
		}
		fk.Columns = []string(localCols)
		fk.ReferencedColumns = []string(refCols)
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerrors.Database(err, "iterating foreign keys for %s.%s", schema, name)
	}
	return fks, nil
}

// CheckConstraints returns the CHECK constraints on schema.name, excluding
// the implicit constraints Postgres generates for NOT NULL attnotnull
// columns (those never show up as pg_constraint rows of type 'c', so no
// explicit filtering is required beyond contype = 'c').
func (i *Inspector) CheckConstraints(ctx context.Context, schema, name string) ([]CheckConstraint, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT con.conname, pg_get_expr(con.conbin, con.conrelid)
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = %s AND c.relname = %s AND con.contype = 'c'
		ORDER BY con.conname`,
		pq.QuoteLiteral(schema), pq.QuoteLiteral(name))

	rows, err := i.conn.Query(ctx, q)
	if err != nil {
		return nil, pgerrors.Database(err, "reading check constraints for %s.%s", schema, name)
	}
	defer rows.Close()

	var cks []CheckConstraint
	for rows.Next() {
		var ck CheckConstraint
		if err := rows.Scan(&ck.Name, &ck.Expression); err != nil {
			return nil, pgerrors.Database(err, "scanning check constraint row")
		}
		cks = append(cks, ck)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerrors.Database(err, "iterating check constraints for %s.%s", schema, name)
	}
	return cks, nil
}

// Describe builds the full TableDescriptor for one configured table: it
// validates every identifier, confirms the staging table exists and shares
// every column the base table's DML set requires, and reads the base
// table's constraints.
func (i *Inspector) Describe(ctx context.Context, baseSchema, stagingSchema, table string) (*TableDescriptor, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	baseExists, err := i.TableExists(ctx, baseSchema, table)
	if err != nil {
		return nil, err
	}
	if !baseExists {
		return nil, pgerrors.Schema(nil, "base table %s.%s does not exist", baseSchema, table)
	}

	stagingExists, err := i.TableExists(ctx, stagingSchema, table)
	if err != nil {
		return nil, err
	}
	if !stagingExists {
		return nil, pgerrors.Schema(nil, "staging table %s.%s does not exist", stagingSchema, table)
	}

	baseCols, err := i.Columns(ctx, baseSchema, table)
	if err != nil {
		return nil, err
	}
	stagingCols, err := i.Columns(ctx, stagingSchema, table)
	if err != nil {
		return nil, err
	}
	stagingSet := make(map[string]bool, len(stagingCols))
	for _, c := range stagingCols {
		stagingSet[c] = true
	}

	common := make([]string, 0, len(baseCols))
	var missing []string
	for _, c := range baseCols {
		if stagingSet[c] {
			common = append(common, c)
		} else {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, pgerrors.Schema(nil, "staging table %s.%s is missing columns required by base table %s.%s: %v",
			stagingSchema, table, baseSchema, table, missing)
	}

	pk, err := i.PrimaryKey(ctx, baseSchema, table)
	if err != nil {
		return nil, err
	}
	notNull, err := i.NotNullColumns(ctx, baseSchema, table)
	if err != nil {
		return nil, err
	}
	fks, err := i.ForeignKeys(ctx, baseSchema, table)
	if err != nil {
		return nil, err
	}
	cks, err := i.CheckConstraints(ctx, baseSchema, table)
	if err != nil {
		return nil, err
	}

	return &TableDescriptor{
		BaseSchema:       baseSchema,
		BaseTable:        table,
		StagingSchema:    stagingSchema,
		StagingTable:     table,
		Columns:          common,
		PrimaryKey:       pk,
		NotNullColumns:   notNull,
		ForeignKeys:      fks,
		CheckConstraints: cks,
	}, nil
}

func (i *Inspector) queryStrings(ctx context.Context, q string) ([]string, error) {
	rows, err := i.conn.Query(ctx, q)
	if err != nil {
		return nil, pgerrors.Database(err, "running catalog query")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, pgerrors.Database(err, "scanning catalog row")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerrors.Database(err, "iterating catalog rows")
	}
	return out, nil
}
