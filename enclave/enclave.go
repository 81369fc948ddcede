package enclave

import (
	"io"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-keyseal/kms"
	"go.uber.org/atomic"
)

// Enclave is an emulated enclave instance. Secret keys and plaintext exist
// only inside ECall and are zeroed before it returns. All exported methods are
// safe for concurrent use, though calls are processed one at a time.
type Enclave struct {
	id       uint64
	identity Identity
	keys     *kms.RootKeys
	rand     io.Reader
	drbg     *drbg

	mu        sync.Mutex
	destroyed *atomic.Bool
	log       *slog.Logger
}

// ID is the platform-assigned instance number.
func (e *Enclave) ID() uint64 {
	return e.id
}

// Identity returns the identity the enclave was launched with.
func (e *Enclave) Identity() Identity {
	return e.identity
}

// ECall runs op inside the enclave. Outputs are written into the caller's
// out buffers, which must be preallocated. The first status is the
// operation's result; the second reports whether the crossing itself
// succeeded. Out buffers are left untouched unless the operation succeeds.
func (e *Enclave) ECall(op Operation, in, out [][]byte) (ret Status, crossing Status) {
	if e.destroyed.Load() {
		return StatusUnexpected, StatusInvalidEnclaveID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Destroy may have won the race for the lock.
	if e.destroyed.Load() {
		return StatusUnexpected, StatusInvalidEnclaveID
	}

	switch op {
	case OpGenerateKeypair:
		ret = e.ecallGenerateKeypair(in, out)
	case OpGenerateSealedKeypair:
		ret = e.ecallGenerateSealedKeypair(in, out)
	case OpSeal:
		ret = e.ecallSeal(in, out)
	case OpUnseal:
		ret = e.ecallUnseal(in, out)
	case OpSignWithSealedKey:
		ret = e.ecallSignWithSealedKey(in, out)
	case OpPublicKeyFromSealed:
		ret = e.ecallPublicKeyFromSealed(in, out)
	default:
		return StatusUnexpected, StatusInvalidFunction
	}

	if ret != StatusSuccess {
		e.log.Debug("ecall failed", "enclave", e.id, "op", op, "status", ret)
	}
	return ret, StatusSuccess
}

// Destroy tears the instance down. Destroying twice returns
// StatusInvalidEnclaveID.
func (e *Enclave) Destroy() Status {
	if !e.destroyed.CompareAndSwap(false, true) {
		return StatusInvalidEnclaveID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.drbg != nil {
		e.drbg.close()
	}
	e.rand = nil
	e.keys = nil

	e.log.Debug("enclave destroyed", "enclave", e.id)
	return StatusSuccess
}
