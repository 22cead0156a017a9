// SPDX-License-Identifier: Apache-2.0

package pgerrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoug/pg-upsert/internal/pgerrors"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		kind pgerrors.Kind
		want int
	}{
		{pgerrors.KindConfig, 1},
		{pgerrors.KindSchema, 1},
		{pgerrors.KindQAFailure, 2},
		{pgerrors.KindCancelled, 3},
		{pgerrors.KindDatabase, 4},
		{pgerrors.KindInvariant, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.ExitCode())
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := pgerrors.Database(cause, "opening %s", "db")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "opening db")
}

func TestKindOf(t *testing.T) {
	err := pgerrors.Cancelled("operator said no")

	kind, ok := pgerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pgerrors.KindCancelled, kind)

	_, ok = pgerrors.KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestIsMatchesByKind(t *testing.T) {
	a := pgerrors.QAFailure("table genres failed")
	b := pgerrors.QAFailure("table authors failed")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, pgerrors.Cancelled("nope")))
}
