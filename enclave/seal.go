package enclave

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/ruteri/tee-keyseal/kms"
)

// Sealed blob layout, big-endian:
//
//	0   version     1
//	1   policy      1
//	2   reserved    2
//	4   key id      32
//	36  nonce       12
//	48  payload len 4
//	52  aad len     4
//	56  aad         aad len
//	..  ciphertext  payload len
//	..  tag         16
//
// The header and aad are authenticated as GCM additional data.
const (
	sealVersion = 1

	keyIDSize = 32
	nonceSize = 12
	tagSize   = 16

	// HeaderSize is the fixed part of a sealed blob.
	HeaderSize = 56

	// SealOverhead is the size of a sealed blob with no payload and no aad.
	SealOverhead = HeaderSize + tagSize
)

// CalcSealedSize returns the exact size of a sealed blob for the given
// payload and aad lengths. It depends only on its inputs.
func CalcSealedSize(payloadLen, aadLen int) (int, error) {
	if payloadLen < 0 || aadLen < 0 {
		return 0, fmt.Errorf("%w: negative length", interfaces.ErrInvalidParameter)
	}
	total := uint64(SealOverhead) + uint64(payloadLen) + uint64(aadLen)
	if total > math.MaxUint32 {
		return 0, fmt.Errorf("%w: sealed size overflows", interfaces.ErrInvalidParameter)
	}
	return int(total), nil
}

type sealedHeader struct {
	version    uint8
	policy     interfaces.DisclosurePolicy
	reserved   uint16
	keyID      [keyIDSize]byte
	nonce      [nonceSize]byte
	payloadLen uint32
	aadLen     uint32
}

func (h *sealedHeader) marshalTo(b []byte) {
	b[0] = h.version
	b[1] = byte(h.policy)
	binary.BigEndian.PutUint16(b[2:4], h.reserved)
	copy(b[4:36], h.keyID[:])
	copy(b[36:48], h.nonce[:])
	binary.BigEndian.PutUint32(b[48:52], h.payloadLen)
	binary.BigEndian.PutUint32(b[52:56], h.aadLen)
}

func parseSealedHeader(b []byte) sealedHeader {
	var h sealedHeader
	h.version = b[0]
	h.policy = interfaces.DisclosurePolicy(b[1])
	h.reserved = binary.BigEndian.Uint16(b[2:4])
	copy(h.keyID[:], b[4:36])
	copy(h.nonce[:], b[36:48])
	h.payloadLen = binary.BigEndian.Uint32(b[48:52])
	h.aadLen = binary.BigEndian.Uint32(b[52:56])
	return h
}

func (e *Enclave) sealingAEAD(policy interfaces.DisclosurePolicy, keyID [keyIDSize]byte) (cipher.AEAD, error) {
	key, err := e.keys.SealKey(kms.SealKeyRequest{
		Policy:     policy,
		Identity:   e.identity.For(policy),
		Attributes: e.identity.Attributes(),
		KeyID:      keyID,
	})
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// sealInto seals payload bound to aad under policy and writes the blob to
// dst, which must be exactly CalcSealedSize bytes.
func (e *Enclave) sealInto(dst, payload, aad []byte, policy interfaces.DisclosurePolicy) Status {
	if len(payload) == 0 || !policy.Valid() {
		return StatusInvalidParameter
	}
	size, err := CalcSealedSize(len(payload), len(aad))
	if err != nil {
		return StatusInvalidParameter
	}
	if st := checkOut(dst, size); st != StatusSuccess {
		return st
	}

	h := sealedHeader{
		version:    sealVersion,
		policy:     policy,
		payloadLen: uint32(len(payload)),
		aadLen:     uint32(len(aad)),
	}
	if _, err := io.ReadFull(e.rand, h.keyID[:]); err != nil {
		return StatusUnexpected
	}
	if _, err := io.ReadFull(e.rand, h.nonce[:]); err != nil {
		return StatusUnexpected
	}

	aead, err := e.sealingAEAD(policy, h.keyID)
	if err != nil {
		return StatusUnexpected
	}

	authenticated := HeaderSize + len(aad)
	ad := make([]byte, authenticated)
	h.marshalTo(ad[:HeaderSize])
	copy(ad[HeaderSize:], aad)

	// dst and the additional data must not overlap.
	sealed := make([]byte, authenticated, size)
	copy(sealed, ad)
	sealed = aead.Seal(sealed, h.nonce[:], payload, ad)

	copy(dst, sealed)
	return StatusSuccess
}

func (e *Enclave) ecallSeal(in, out [][]byte) Status {
	if len(in) != 3 || len(out) != 1 {
		return StatusInvalidParameter
	}
	policy, ok := policyFrom(in[2])
	if !ok {
		return StatusInvalidParameter
	}
	return e.sealInto(out[0], in[0], in[1], policy)
}
