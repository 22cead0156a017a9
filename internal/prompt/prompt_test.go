// SPDX-License-Identifier: Apache-2.0

package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoug/pg-upsert/internal/prompt"
)

func TestSilentAlwaysProceeds(t *testing.T) {
	decision, err := prompt.Silent{}.Confirm("title", "message", nil)
	require.NoError(t, err)
	assert.Equal(t, prompt.Proceed, decision)
}

func TestGUIDelegatesToInjectedDisplay(t *testing.T) {
	called := false
	gui := prompt.GUI{
		Display: func(title, message string, sample []prompt.SampleRow) (prompt.Decision, error) {
			called = true
			assert.Equal(t, "dup keys", title)
			return prompt.Skip, nil
		},
	}

	decision, err := gui.Confirm("dup keys", "2 duplicate rows", nil)
	require.NoError(t, err)
	assert.Equal(t, prompt.Skip, decision)
	assert.True(t, called)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "proceed", prompt.Proceed.String())
	assert.Equal(t, "skip", prompt.Skip.String())
	assert.Equal(t, "cancel", prompt.Cancel.String())
}
