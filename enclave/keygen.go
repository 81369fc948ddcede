package enclave

import (
	"crypto/ecdsa"
	"errors"
	"io"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/interfaces"
)

// maxKeygenAttempts bounds rejection sampling of secret scalars.
const maxKeygenAttempts = 8

var errKeygenExhausted = errors.New("no valid secret scalar after maximum attempts")

// newSecretKey samples 32 random bytes until they form a scalar in [1, N-1].
func (e *Enclave) newSecretKey() (*ecdsa.PrivateKey, error) {
	candidate := make([]byte, cryptoutils.SecretKeySize)
	defer cryptoutils.Zero(candidate)

	for attempt := 0; attempt < maxKeygenAttempts; attempt++ {
		if _, err := io.ReadFull(e.rand, candidate); err != nil {
			return nil, err
		}
		if !cryptoutils.ValidSecretScalar(candidate) {
			continue
		}
		return cryptoutils.PrivateKeyFromScalar(candidate)
	}

	return nil, errKeygenExhausted
}

func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}

func (e *Enclave) ecallGenerateKeypair(in, out [][]byte) Status {
	if len(in) != 0 || len(out) != 1 {
		return StatusInvalidParameter
	}
	if st := checkOut(out[0], interfaces.PublicKeySize); st != StatusSuccess {
		return st
	}

	key, err := e.newSecretKey()
	if err != nil {
		e.log.Error("key generation failed", "enclave", e.id, "err", err)
		return StatusUnexpected
	}
	defer zeroKey(key)

	copy(out[0], cryptoutils.PublicKeyOf(key))
	return StatusSuccess
}

func (e *Enclave) ecallGenerateSealedKeypair(in, out [][]byte) Status {
	if len(in) != 2 || len(out) != 2 {
		return StatusInvalidParameter
	}
	policy, ok := policyFrom(in[1])
	if !ok {
		return StatusInvalidParameter
	}
	if st := checkOut(out[0], interfaces.PublicKeySize); st != StatusSuccess {
		return st
	}

	key, err := e.newSecretKey()
	if err != nil {
		e.log.Error("key generation failed", "enclave", e.id, "err", err)
		return StatusUnexpected
	}
	defer zeroKey(key)

	secret := key.D.FillBytes(make([]byte, cryptoutils.SecretKeySize))
	defer cryptoutils.Zero(secret)

	if st := e.sealInto(out[1], secret, in[0], policy); st != StatusSuccess {
		return st
	}

	copy(out[0], cryptoutils.PublicKeyOf(key))
	return StatusSuccess
}
