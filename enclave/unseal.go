package enclave

import (
	"crypto/ecdsa"
	"crypto/subtle"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/interfaces"
)

// unsealInto authenticates blob against aad and writes its payload to dst.
// Any inconsistency between the header, the supplied aad and dst is reported
// as a MAC mismatch: the header is authenticated data, so a modified header
// is tampering. A policy the enclave's identity does not satisfy derives a
// different key and fails the same way. dst is written only on success.
func (e *Enclave) unsealInto(dst, blob, aad []byte) Status {
	if len(blob) < SealOverhead || len(dst) == 0 {
		return StatusInvalidParameter
	}

	h := parseSealedHeader(blob[:HeaderSize])
	if h.version != sealVersion || !h.policy.Valid() || h.reserved != 0 {
		return StatusMACMismatch
	}
	if uint64(h.payloadLen) != uint64(len(dst)) || uint64(h.aadLen) != uint64(len(aad)) {
		return StatusMACMismatch
	}
	size, err := CalcSealedSize(len(dst), len(aad))
	if err != nil || size != len(blob) {
		return StatusMACMismatch
	}

	authenticated := HeaderSize + len(aad)
	if subtle.ConstantTimeCompare(blob[HeaderSize:authenticated], aad) != 1 {
		return StatusMACMismatch
	}

	aead, err := e.sealingAEAD(h.policy, h.keyID)
	if err != nil {
		return StatusUnexpected
	}

	plaintext, err := aead.Open(nil, h.nonce[:], blob[authenticated:], blob[:authenticated])
	if err != nil {
		return StatusMACMismatch
	}
	defer cryptoutils.Zero(plaintext)

	copy(dst, plaintext)
	return StatusSuccess
}

// unsealSecretKey recovers a private key sealed by GenerateSealedKeypair.
// Callers must zero the key with zeroKey.
func (e *Enclave) unsealSecretKey(blob, aad []byte) (*ecdsa.PrivateKey, Status) {
	secret := make([]byte, cryptoutils.SecretKeySize)
	defer cryptoutils.Zero(secret)

	if st := e.unsealInto(secret, blob, aad); st != StatusSuccess {
		return nil, st
	}

	key, err := cryptoutils.PrivateKeyFromScalar(secret)
	if err != nil {
		// Authentic blob that does not hold a key.
		return nil, StatusInvalidParameter
	}
	return key, StatusSuccess
}

func (e *Enclave) ecallUnseal(in, out [][]byte) Status {
	if len(in) != 2 || len(out) != 1 {
		return StatusInvalidParameter
	}
	return e.unsealInto(out[0], in[0], in[1])
}

func (e *Enclave) ecallSignWithSealedKey(in, out [][]byte) Status {
	if len(in) != 3 || len(out) != 1 {
		return StatusInvalidParameter
	}
	if len(in[2]) != HashSize {
		return StatusInvalidParameter
	}
	if st := checkOut(out[0], cryptoutils.SignatureSize); st != StatusSuccess {
		return st
	}

	key, st := e.unsealSecretKey(in[0], in[1])
	if st != StatusSuccess {
		return st
	}
	defer zeroKey(key)

	sig, err := crypto.Sign(in[2], key)
	if err != nil {
		return StatusUnexpected
	}

	copy(out[0], sig)
	return StatusSuccess
}

func (e *Enclave) ecallPublicKeyFromSealed(in, out [][]byte) Status {
	if len(in) != 2 || len(out) != 1 {
		return StatusInvalidParameter
	}
	if st := checkOut(out[0], interfaces.PublicKeySize); st != StatusSuccess {
		return st
	}

	key, st := e.unsealSecretKey(in[0], in[1])
	if st != StatusSuccess {
		return st
	}
	defer zeroKey(key)

	copy(out[0], cryptoutils.PublicKeyOf(key))
	return StatusSuccess
}
