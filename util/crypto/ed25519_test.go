package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SignVerify(t *testing.T) {
	privKey, pubKey, err := GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	msg := make([]byte, 32000)
	_, err = rand.Read(msg)
	require.NoError(t, err)
	sign, err := privKey.Sign(msg)
	require.NoError(t, err)
	res, err := pubKey.Verify(msg, sign)
	require.NoError(t, err)
	require.True(t, res)

	msg[0] ^= 0xff
	res, err = pubKey.Verify(msg, sign)
	require.NoError(t, err)
	require.False(t, res)
}

func TestPubKeyString(t *testing.T) {
	_, pubKey, err := GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	decoded, err := DecodePublicKey(pubKey.String())
	require.NoError(t, err)
	assert.True(t, pubKey.Equals(decoded))
	assert.Equal(t, pubKey.String(), decoded.String())

	_, err = DecodePublicKey("0OIl")
	require.ErrorIs(t, err, ErrMalformedKey)
	_, err = DecodePublicKey("abc")
	require.ErrorIs(t, err, ErrMalformedKey)
}

func TestUnmarshal(t *testing.T) {
	privKey, pubKey, err := GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	raw, err := privKey.Raw()
	require.NoError(t, err)
	privKey2, err := UnmarshalEd25519PrivateKey(raw)
	require.NoError(t, err)
	assert.True(t, privKey.Equals(privKey2))
	assert.True(t, pubKey.Equals(privKey2.GetPublic()))

	_, err = UnmarshalEd25519PrivateKey(raw[:10])
	require.ErrorIs(t, err, ErrMalformedKey)
	_, err = UnmarshalEd25519PublicKey(pubKey.Bytes()[:10])
	require.ErrorIs(t, err, ErrMalformedKey)
}

func TestSameKey(t *testing.T) {
	privKey, pubKey, err := GenerateRandomEd25519KeyPair()
	require.NoError(t, err)
	_, other, err := GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	assert.True(t, SameKey(pubKey, privKey.GetPublic()))
	assert.False(t, SameKey(pubKey, other))
	assert.False(t, SameKey(pubKey, privKey))
}
