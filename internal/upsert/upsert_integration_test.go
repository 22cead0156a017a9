// SPDX-License-Identifier: Apache-2.0

package upsert_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"

	"github.com/geocoug/pg-upsert/internal/catalog"
	"github.com/geocoug/pg-upsert/internal/control"
	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/prompt"
	"github.com/geocoug/pg-upsert/internal/testutils"
	"github.com/geocoug/pg-upsert/internal/upsert"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func describeGenres(t *testing.T, conn *pgconn.Conn) *catalog.TableDescriptor {
	t.Helper()
	desc, err := catalog.New(conn).Describe(context.Background(), "public", "staging", "genres")
	require.NoError(t, err)
	return desc
}

func TestUpsertOneInsertsAndUpdates(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		ctx := context.Background()

		db, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer db.Close()

		testutils.SeedBooksScenario(t, db, "public", "staging")

		_, err = db.Exec(`INSERT INTO public.genres (genre_id, genre_name) VALUES (1, 'Sci-Fi')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO staging.genres (genre_id, genre_name) VALUES
			(1, 'Science Fiction'), (2, 'Fantasy')`)
		require.NoError(t, err)

		desc := describeGenres(t, conn)

		ctl := control.New(conn)
		require.NoError(t, ctl.Create(ctx))
		require.NoError(t, ctl.Seed(ctx, []string{"genres"}, nil, nil, false))

		eng := upsert.New(conn, ctl, prompt.Silent{}, upsert.MethodUpsert, pterm.DefaultLogger)
		require.NoError(t, eng.UpsertOne(ctx, desc))

		rec, err := ctl.Get("genres")
		require.NoError(t, err)
		require.Equal(t, 1, rec.RowsUpdated)
		require.Equal(t, 1, rec.RowsInserted)

		var name string
		// Read through the session: the update is not committed, so db cannot see it.
		require.NoError(t, conn.QueryScalar(ctx, `SELECT genre_name FROM public.genres WHERE genre_id = 1`, &name))
		require.Equal(t, "Science Fiction", name)
	})
}

func TestUpsertOneSkipsTableWithQAErrors(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		ctx := context.Background()

		db, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer db.Close()

		testutils.SeedBooksScenario(t, db, "public", "staging")

		desc := describeGenres(t, conn)

		ctl := control.New(conn)
		require.NoError(t, ctl.Create(ctx))
		require.NoError(t, ctl.Seed(ctx, []string{"genres"}, nil, nil, false))
		require.NoError(t, ctl.AppendError(ctx, "genres", control.FieldNullErrors, "genre_name (1)"))

		eng := upsert.New(conn, ctl, prompt.Silent{}, upsert.MethodUpsert, pterm.DefaultLogger)
		require.NoError(t, eng.UpsertOne(ctx, desc))

		rec, err := ctl.Get("genres")
		require.NoError(t, err)
		require.Equal(t, 0, rec.RowsUpdated)
		require.Equal(t, 0, rec.RowsInserted)
	})
}

func TestUpsertOneRequiresPrimaryKeyUnlessInsertOnly(t *testing.T) {
	testutils.WithSession(t, func(conn *pgconn.Conn, connStr string) {
		ctx := context.Background()

		desc := &catalog.TableDescriptor{
			BaseSchema: "public", BaseTable: "genres",
			StagingSchema: "staging", StagingTable: "genres",
			Columns: []string{"genre_id", "genre_name"},
		}

		ctl := control.New(conn)
		require.NoError(t, ctl.Create(ctx))
		require.NoError(t, ctl.Seed(ctx, []string{"genres"}, nil, nil, false))

		eng := upsert.New(conn, ctl, prompt.Silent{}, upsert.MethodUpsert, pterm.DefaultLogger)
		err := eng.UpsertOne(ctx, desc)
		require.Error(t, err)
	})
}
