// SPDX-License-Identifier: Apache-2.0

package catalog_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geocoug/pg-upsert/internal/catalog"
	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestDescribeBooksScenario(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		t.Helper()

		db, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer db.Close()

		testutils.SeedBooksScenario(t, db, "public", "staging")

		inspector := catalog.New(conn)
		desc, err := inspector.Describe(context.Background(), "public", "staging", "books")
		require.NoError(t, err)

		require.ElementsMatch(t, []string{"book_id", "title", "genre_id", "pages"}, desc.Columns)
		require.Equal(t, []string{"book_id"}, desc.PrimaryKey)
		require.Contains(t, desc.NotNullColumns, "title")
		require.Len(t, desc.ForeignKeys, 1)
		require.Equal(t, "genres", desc.ForeignKeys[0].ReferencedTable)
		require.Len(t, desc.CheckConstraints, 1)
	})
}

func TestDescribeMissingStagingTableIsSchemaError(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		t.Helper()

		db, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`CREATE TABLE public.orphan (id INTEGER PRIMARY KEY)`)
		require.NoError(t, err)

		inspector := catalog.New(conn)
		_, err = inspector.Describe(context.Background(), "public", "staging", "orphan")
		require.Error(t, err)
	})
}
