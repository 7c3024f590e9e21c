package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "agentpass/pkg/domain-errors"
)

func TestNewPassportID(t *testing.T) {
	t.Run("matches the passport id format", func(t *testing.T) {
		for range 50 {
			pid, err := NewPassportID()
			require.NoError(t, err)
			assert.Regexp(t, `^ap_[a-z0-9]{12}$`, pid.String())
		}
	})

	t.Run("successive ids differ", func(t *testing.T) {
		a, err := NewPassportID()
		require.NoError(t, err)
		b, err := NewPassportID()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestParsePassportID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParsePassportID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("rejects wrong prefix, case and length", func(t *testing.T) {
		for _, s := range []string{"xp_abcdefghijkl", "ap_ABCDEFGHIJKL", "ap_abc", "ap_abcdefghijklm", "ap_abcdefghijk-"} {
			_, err := ParsePassportID(s)
			assert.Error(t, err, s)
		}
	})

	t.Run("accepts generated ids", func(t *testing.T) {
		pid, err := NewPassportID()
		require.NoError(t, err)
		parsed, err := ParsePassportID(pid.String())
		require.NoError(t, err)
		assert.Equal(t, pid, parsed)
	})
}

func TestParseApprovalID(t *testing.T) {
	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseApprovalID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("round-trips through text encoding", func(t *testing.T) {
		id := NewApprovalID()
		text, err := id.MarshalText()
		require.NoError(t, err)

		var decoded ApprovalID
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, id, decoded)
	})
}
