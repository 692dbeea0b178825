package identity

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	addr := id.Address()
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 66)
	assert.Equal(t, DeriveAddress(id.PublicKey()), addr)

	other, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, addr, other.Address())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	restored, err := Decode(id.Encode())
	require.NoError(t, err)
	assert.Equal(t, id.Address(), restored.Address())
	assert.Equal(t, id.PublicKey(), restored.PublicKey())
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("update batch")
	sig := id.Sign(msg)
	assert.True(t, Verify(id.PublicKey(), msg, sig))
	assert.False(t, Verify(id.PublicKey(), []byte("tampered"), sig))
	assert.False(t, Verify(nil, msg, sig))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("not base64!!")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Decode(base64.StdEncoding.EncodeToString([]byte{0x00, 0x01}))
	assert.ErrorIs(t, err, ErrInvalidKey)

	raw := make([]byte, 33)
	raw[0] = 0x01
	_, err = Decode(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	_, err = FromSeed(seed[:10])
	assert.ErrorIs(t, err, ErrInvalidKey)
}
