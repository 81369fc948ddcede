package cryptoutils

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-keyseal/interfaces"
)

// SecretKeySize is the length of a secp256k1 secret scalar.
const SecretKeySize = 32

// SignatureSize is the length of a recoverable [R || S || V] signature.
const SignatureSize = crypto.SignatureLength

var secp256k1N = crypto.S256().Params().N

// ValidSecretScalar reports whether b encodes a scalar in [1, N-1].
func ValidSecretScalar(b []byte) bool {
	if len(b) != SecretKeySize {
		return false
	}
	k := new(big.Int).SetBytes(b)
	return k.Sign() > 0 && k.Cmp(secp256k1N) < 0
}

// PrivateKeyFromScalar converts a validated scalar into a private key.
func PrivateKeyFromScalar(b []byte) (*ecdsa.PrivateKey, error) {
	if !ValidSecretScalar(b) {
		return nil, errors.New("invalid secret scalar")
	}
	return crypto.ToECDSA(b)
}

// PublicKeyOf returns the uncompressed encoding of the key's public point.
func PublicKeyOf(key *ecdsa.PrivateKey) interfaces.PublicKey {
	return interfaces.PublicKey(crypto.FromECDSAPub(&key.PublicKey))
}

// IsOnCurve reports whether pub decodes to a valid secp256k1 point.
func IsOnCurve(pub interfaces.PublicKey) bool {
	key, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return false
	}
	return crypto.S256().IsOnCurve(key.X, key.Y)
}

// VerifySignature checks a recoverable signature over hash against pub.
func VerifySignature(pub interfaces.PublicKey, hash, sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}
	recovered, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}
	if !bytes.Equal(recovered, pub) {
		return errors.New("signature does not match public key")
	}
	return nil
}

// Zero overwrites b with zeroes.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
