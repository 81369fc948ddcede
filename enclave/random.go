package enclave

import (
	"fmt"
	"io"
	"sync"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"golang.org/x/crypto/chacha20"
)

// drbg is the enclave's private random source: a ChaCha20 keystream keyed
// from platform entropy at enclave creation. Its state never leaves the
// enclave.
type drbg struct {
	mu     sync.Mutex
	stream *chacha20.Cipher
}

func newDRBG(entropy io.Reader) (*drbg, error) {
	seed := make([]byte, chacha20.KeySize+chacha20.NonceSize)
	defer cryptoutils.Zero(seed)

	if _, err := io.ReadFull(entropy, seed); err != nil {
		return nil, fmt.Errorf("failed to seed random source: %w", err)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(seed[:chacha20.KeySize], seed[chacha20.KeySize:])
	if err != nil {
		return nil, fmt.Errorf("failed to create random source: %w", err)
	}
	return &drbg{stream: stream}, nil
}

func (d *drbg) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return 0, io.ErrClosedPipe
	}
	clear(p)
	d.stream.XORKeyStream(p, p)
	return len(p), nil
}

func (d *drbg) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = nil
}
