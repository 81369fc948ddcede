package cryptoutils

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSecretScalar(t *testing.T) {
	n := crypto.S256().Params().N

	tests := []struct {
		name   string
		scalar []byte
		valid  bool
	}{
		{"zero", make([]byte, 32), false},
		{"one", append(make([]byte, 31), 1), true},
		{"n minus one", scalarOf(new(big.Int).Sub(n, big.NewInt(1))), true},
		{"n", scalarOf(n), false},
		{"all ones", bytes.Repeat([]byte{0xff}, 32), false},
		{"short", []byte{1, 2, 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidSecretScalar(tt.scalar))
		})
	}
}

func scalarOf(k *big.Int) []byte {
	return k.FillBytes(make([]byte, SecretKeySize))
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	scalar := key.D.FillBytes(make([]byte, SecretKeySize))
	restored, err := PrivateKeyFromScalar(scalar)
	require.NoError(t, err)

	pub := PublicKeyOf(restored)
	assert.True(t, IsOnCurve(pub))
	assert.Equal(t, PublicKeyOf(key), pub)

	hash := crypto.Keccak256([]byte("message"))
	sig, err := crypto.Sign(hash, restored)
	require.NoError(t, err)
	require.NoError(t, VerifySignature(pub, hash, sig))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	assert.Error(t, VerifySignature(PublicKeyOf(other), hash, sig))
	assert.Error(t, VerifySignature(pub, hash, sig[:64]))

	_, err = PrivateKeyFromScalar(make([]byte, 32))
	assert.Error(t, err)

	assert.False(t, IsOnCurve(pub[:33]))
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
	Zero(nil)
}
