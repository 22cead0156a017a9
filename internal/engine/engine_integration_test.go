// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"

	"github.com/geocoug/pg-upsert/internal/engine"
	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/prompt"
	"github.com/geocoug/pg-upsert/internal/testutils"
	"github.com/geocoug/pg-upsert/internal/upsert"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func basePlan() engine.Plan {
	return engine.Plan{
		BaseSchema:    "public",
		StagingSchema: "staging",
		Tables:        []string{"genres", "authors", "books", "book_authors"},
		Method:        upsert.MethodUpsert,
		Commit:        true,
	}
}

func TestRunCommitsOnCleanScenario(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		ctx := context.Background()

		db, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer db.Close()

		testutils.SeedBooksScenario(t, db, "public", "staging")
		_, err = db.Exec(`INSERT INTO staging.genres (genre_id, genre_name) VALUES (1, 'Sci-Fi')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.authors (author_id, author_name) VALUES (1, 'Frank Herbert')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.books (book_id, title, genre_id, pages) VALUES (1, 'Dune', 1, 412)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.book_authors (book_id, author_id) VALUES (1, 1)`)
		require.NoError(t, err)

		eng := engine.New(conn, basePlan(), prompt.Silent{}, pterm.DefaultLogger)

		outcome, err := eng.Run(ctx)
		require.NoError(t, err)
		require.Equal(t, engine.Committed, outcome)
		require.Equal(t, engine.StateClosed, eng.State())

		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM public.books WHERE book_id = 1`).Scan(&count))
		require.Equal(t, 1, count)
	})
}

func TestRunRollsBackOnQAFailure(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		ctx := context.Background()

		db, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer db.Close()

		testutils.SeedBooksScenario(t, db, "public", "staging")
		_, err = db.Exec(`INSERT INTO staging.genres (genre_id, genre_name) VALUES (1, NULL)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.authors (author_id, author_name) VALUES (1, 'Frank Herbert')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.books (book_id, title, genre_id, pages) VALUES (1, 'Dune', 1, 412)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.book_authors (book_id, author_id) VALUES (1, 1)`)
		require.NoError(t, err)

		eng := engine.New(conn, basePlan(), prompt.Silent{}, pterm.DefaultLogger)

		outcome, err := eng.Run(ctx)
		require.Error(t, err)
		require.Equal(t, engine.RolledBackQAFailed, outcome)

		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM public.genres WHERE genre_id = 1`).Scan(&count))
		require.Equal(t, 0, count)
	})
}

func TestRunRollsBackWhenCommitNotRequested(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		ctx := context.Background()

		db, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer db.Close()

		testutils.SeedBooksScenario(t, db, "public", "staging")
		_, err = db.Exec(`INSERT INTO staging.genres (genre_id, genre_name) VALUES (1, 'Sci-Fi')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.authors (author_id, author_name) VALUES (1, 'Frank Herbert')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.books (book_id, title, genre_id, pages) VALUES (1, 'Dune', 1, 412)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.book_authors (book_id, author_id) VALUES (1, 1)`)
		require.NoError(t, err)

		plan := basePlan()
		plan.Commit = false

		eng := engine.New(conn, plan, prompt.Silent{}, pterm.DefaultLogger)

		outcome, err := eng.Run(ctx)
		require.NoError(t, err)
		require.Equal(t, engine.RolledBackDryRun, outcome)
		require.Equal(t, engine.StateClosed, eng.State())

		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM public.books WHERE book_id = 1`).Scan(&count))
		require.Equal(t, 0, count)
	})
}
