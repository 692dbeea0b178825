package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgramID(t *testing.T) {
	id, err := ParseProgramID("0x2")
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("0", 63)+"2", id)

	full := "0x" + strings.Repeat("AB", 32)
	id, err = ParseProgramID(full)
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("ab", 32), id)

	for _, bad := range []string{"", "0x", "abcd", "0xzz", "0x" + strings.Repeat("1", 65)} {
		_, err := ParseProgramID(bad)
		assert.ErrorIs(t, err, ErrInvalidProgramID, bad)
	}
}
