package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bondledger/pkg/domain-errors"
)

// TestParseAddress_Invariants validates the parsing invariant:
// "addresses must be non-empty after trimming".
func TestParseAddress_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseAddress("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects whitespace-only string", func(t *testing.T) {
		_, err := ParseAddress("   ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		addr, err := ParseAddress("  holder-1  ")
		require.NoError(t, err)
		assert.Equal(t, Address("holder-1"), addr)
	})
}

func TestParseInstrumentID(t *testing.T) {
	t.Run("rejects non-numeric input", func(t *testing.T) {
		_, err := ParseInstrumentID("bond-one")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects zero and negatives", func(t *testing.T) {
		for _, raw := range []string{"0", "-1"} {
			_, err := ParseInstrumentID(raw)
			require.Error(t, err, raw)
		}
	})

	t.Run("accepts positive integers", func(t *testing.T) {
		id, err := ParseInstrumentID("42")
		require.NoError(t, err)
		assert.Equal(t, InstrumentID(42), id)
	})
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleRegistrar.Valid())
	assert.True(t, RoleRegulator.Valid())
	assert.True(t, RoleParticipant.Valid())
	assert.False(t, Role("auditor").Valid())
	assert.False(t, Role("").Valid())
}
