package enclave

import (
	"fmt"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/interfaces"
)

// Operation selects the trusted function an ECall runs.
//
// Buffer conventions, inputs then outputs:
//
//	OpGenerateKeypair        in: -                       out: [public key]
//	OpGenerateSealedKeypair  in: [aad, policy]           out: [public key, sealed secret]
//	OpSeal                   in: [payload, aad, policy]  out: [sealed blob]
//	OpUnseal                 in: [blob, aad]             out: [record]
//	OpSignWithSealedKey      in: [blob, aad, hash]       out: [signature]
//	OpPublicKeyFromSealed    in: [blob, aad]             out: [public key]
//
// The policy buffer is a single DisclosurePolicy byte.
type Operation uint32

const (
	OpGenerateKeypair Operation = iota + 1
	OpGenerateSealedKeypair
	OpSeal
	OpUnseal
	OpSignWithSealedKey
	OpPublicKeyFromSealed
)

func (op Operation) String() string {
	switch op {
	case OpGenerateKeypair:
		return "generate_keypair"
	case OpGenerateSealedKeypair:
		return "generate_sealed_keypair"
	case OpSeal:
		return "seal"
	case OpUnseal:
		return "unseal"
	case OpSignWithSealedKey:
		return "sign_with_sealed_key"
	case OpPublicKeyFromSealed:
		return "public_key_from_sealed"
	default:
		return fmt.Sprintf("op(%d)", uint32(op))
	}
}

// HashSize is the length of the digest accepted for signing.
const HashSize = 32

type bufferSpec struct {
	names []string
}

var inputBuffers = map[Operation]bufferSpec{
	OpGenerateKeypair:       {},
	OpGenerateSealedKeypair: {names: []string{"aad", "policy"}},
	OpSeal:                  {names: []string{"payload", "aad", "policy"}},
	OpUnseal:                {names: []string{"sealed blob", "aad"}},
	OpSignWithSealedKey:     {names: []string{"sealed blob", "aad", "hash"}},
	OpPublicKeyFromSealed:   {names: []string{"sealed blob", "aad"}},
}

var outputBuffers = map[Operation]bufferSpec{
	OpGenerateKeypair:       {names: []string{"public key"}},
	OpGenerateSealedKeypair: {names: []string{"public key", "sealed secret"}},
	OpSeal:                  {names: []string{"sealed blob"}},
	OpUnseal:                {names: []string{"record"}},
	OpSignWithSealedKey:     {names: []string{"signature"}},
	OpPublicKeyFromSealed:   {names: []string{"public key"}},
}

func paramError(op Operation, buffer string, format string, args ...any) error {
	return &interfaces.BoundaryError{
		Op:     op.String(),
		Buffer: buffer,
		Err:    fmt.Errorf("%w: "+format, append([]any{interfaces.ErrInvalidParameter}, args...)...),
	}
}

// ValidateBuffers checks the caller's buffers for op before the boundary is
// crossed. Every declared output size must equal the size op will write.
// For the ops that consume a sealed blob, the blob must be exactly
// CalcSealedSize of the record and the supplied aad.
func ValidateBuffers(op Operation, in [][]byte, outSizes []int) error {
	inSpec, ok := inputBuffers[op]
	if !ok {
		return paramError(op, "", "unknown operation")
	}
	outSpec := outputBuffers[op]

	if len(in) != len(inSpec.names) {
		return paramError(op, "in", "expected %d input buffers, got %d", len(inSpec.names), len(in))
	}
	if len(outSizes) != len(outSpec.names) {
		return paramError(op, "out", "expected %d output buffers, got %d", len(outSpec.names), len(outSizes))
	}

	required := make([]int, len(outSizes))
	switch op {
	case OpGenerateKeypair:
		required[0] = interfaces.PublicKeySize

	case OpGenerateSealedKeypair:
		if err := validatePolicyBuffer(op, in[1]); err != nil {
			return err
		}
		sealedSize, err := CalcSealedSize(cryptoutils.SecretKeySize, len(in[0]))
		if err != nil {
			return paramError(op, inSpec.names[0], "%v", err)
		}
		required[0] = interfaces.PublicKeySize
		required[1] = sealedSize

	case OpSeal:
		if len(in[0]) == 0 {
			return paramError(op, inSpec.names[0], "empty payload")
		}
		if err := validatePolicyBuffer(op, in[2]); err != nil {
			return err
		}
		sealedSize, err := CalcSealedSize(len(in[0]), len(in[1]))
		if err != nil {
			return paramError(op, inSpec.names[0], "%v", err)
		}
		required[0] = sealedSize

	case OpUnseal:
		if outSizes[0] <= 0 {
			return paramError(op, outSpec.names[0], "record size must be positive")
		}
		if err := validateBlobSize(op, outSpec.names[0], in[0], in[1], outSizes[0]); err != nil {
			return err
		}
		required[0] = outSizes[0]

	case OpSignWithSealedKey:
		if err := validateBlobSize(op, inSpec.names[0], in[0], in[1], cryptoutils.SecretKeySize); err != nil {
			return err
		}
		if len(in[2]) != HashSize {
			return paramError(op, inSpec.names[2], "hash must be %d bytes, got %d", HashSize, len(in[2]))
		}
		required[0] = cryptoutils.SignatureSize

	case OpPublicKeyFromSealed:
		if err := validateBlobSize(op, inSpec.names[0], in[0], in[1], cryptoutils.SecretKeySize); err != nil {
			return err
		}
		required[0] = interfaces.PublicKeySize
	}

	for i, size := range outSizes {
		if size != required[i] {
			return paramError(op, outSpec.names[i], "declared size %d, operation writes %d", size, required[i])
		}
	}
	return nil
}

func validatePolicyBuffer(op Operation, b []byte) error {
	if len(b) != 1 || !interfaces.DisclosurePolicy(b[0]).Valid() {
		return paramError(op, "policy", "invalid disclosure policy")
	}
	return nil
}

func validateBlobSize(op Operation, buffer string, blob, aad []byte, recordSize int) error {
	want, err := CalcSealedSize(recordSize, len(aad))
	if err != nil {
		return paramError(op, buffer, "%v", err)
	}
	if len(blob) != want {
		return paramError(op, buffer, "blob of %d bytes does not seal a %d byte record with %d bytes of aad", len(blob), recordSize, len(aad))
	}
	return nil
}

// checkOut is the enclave-side check of a destination buffer.
func checkOut(buf []byte, want int) Status {
	switch {
	case len(buf) < want:
		return StatusOutOfMemory
	case len(buf) > want:
		return StatusInvalidParameter
	default:
		return StatusSuccess
	}
}

func policyFrom(b []byte) (interfaces.DisclosurePolicy, bool) {
	if len(b) != 1 {
		return 0, false
	}
	p := interfaces.DisclosurePolicy(b[0])
	return p, p.Valid()
}
