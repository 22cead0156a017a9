// SPDX-License-Identifier: Apache-2.0

package control_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoug/pg-upsert/internal/control"
	"github.com/geocoug/pg-upsert/internal/pgconn"
)

func TestSeedAndGet(t *testing.T) {
	ctx := context.Background()
	fake := &pgconn.FakeExecutor{}
	ctl := control.New(fake)

	require.NoError(t, ctl.Create(ctx))
	require.NoError(t, ctl.Seed(ctx, []string{"genres", "books"}, []string{"created_at"}, nil, true))

	rec, err := ctl.Get("books")
	require.NoError(t, err)
	assert.Equal(t, "books", rec.Table)
	assert.True(t, rec.Interactive)
	assert.False(t, rec.HasErrors())

	assert.Equal(t, []string{"genres", "books"}, ctl.Tables())
}

func TestGetUnknownTableIsInvariantError(t *testing.T) {
	ctl := control.New(&pgconn.FakeExecutor{})
	_, err := ctl.Get("missing")
	assert.Error(t, err)
}

func TestAppendErrorAccumulatesAndSetsHasErrors(t *testing.T) {
	ctx := context.Background()
	ctl := control.New(&pgconn.FakeExecutor{})
	require.NoError(t, ctl.Create(ctx))
	require.NoError(t, ctl.Seed(ctx, []string{"books"}, nil, nil, false))

	require.NoError(t, ctl.AppendError(ctx, "books", control.FieldNullErrors, "title (3)"))
	require.NoError(t, ctl.AppendError(ctx, "books", control.FieldNullErrors, "pages (1)"))

	rec, err := ctl.Get("books")
	require.NoError(t, err)
	assert.Equal(t, "title (3), pages (1)", rec.NullErrors)
	assert.True(t, rec.HasErrors())
	assert.True(t, ctl.AnyErrors())
}

func TestSetRowCounts(t *testing.T) {
	ctx := context.Background()
	ctl := control.New(&pgconn.FakeExecutor{})
	require.NoError(t, ctl.Create(ctx))
	require.NoError(t, ctl.Seed(ctx, []string{"books"}, nil, nil, false))

	require.NoError(t, ctl.SetRowCounts(ctx, "books", 4, 2))

	rec, err := ctl.Get("books")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.RowsUpdated)
	assert.Equal(t, 2, rec.RowsInserted)
}

func TestSnapshotPreservesSeedOrder(t *testing.T) {
	ctx := context.Background()
	ctl := control.New(&pgconn.FakeExecutor{})
	require.NoError(t, ctl.Create(ctx))
	require.NoError(t, ctl.Seed(ctx, []string{"genres", "authors", "books"}, nil, nil, false))

	snap := ctl.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"genres", "authors", "books"},
		[]string{snap[0].Table, snap[1].Table, snap[2].Table})
}
