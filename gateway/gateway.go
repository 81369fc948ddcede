package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/enclave"
	"github.com/ruteri/tee-keyseal/interfaces"
	"go.uber.org/atomic"
)

// Gateway is the untrusted side of the boundary. It owns a single enclave
// instance, checks every call's buffers before crossing and translates
// statuses into errors. Calls are serialized.
type Gateway struct {
	mu      sync.Mutex
	enclave *enclave.Enclave

	identity     enclave.Identity
	token        interfaces.LaunchToken
	tokenUpdated bool

	crossings *atomic.Uint64
	metrics   *Metrics
	log       *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records every call in m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the gateway logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// Create launches module on platform and returns a gateway owning the
// instance. token may be empty; when it is missing or invalid a new one is
// issued and LaunchTokenUpdated reports true.
func Create(platform *enclave.Platform, module *enclave.Module, token interfaces.LaunchToken, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		crossings: atomic.NewUint64(0),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if platform == nil {
		return nil, &interfaces.BoundaryError{Op: "create", Err: fmt.Errorf("%w: no platform", interfaces.ErrUnexpected)}
	}

	e, issued, updated, err := platform.Launch(module, token)
	if err != nil {
		g.log.Error("failed to create enclave", "err", err)
		return nil, &interfaces.BoundaryError{Op: "create", Err: err}
	}

	g.enclave = e
	g.identity = e.Identity()
	g.token = issued
	g.tokenUpdated = updated

	g.log.Info("enclave created", "enclave", e.ID(), "tokenUpdated", updated)
	return g, nil
}

// With creates a gateway, runs fn and destroys the instance on every path,
// including panics in fn.
func With(platform *enclave.Platform, module *enclave.Module, token interfaces.LaunchToken, fn func(*Gateway) error, opts ...Option) (err error) {
	g, err := Create(platform, module, token, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if derr := g.Destroy(); derr != nil && err == nil {
			err = derr
		}
	}()

	return fn(g)
}

// Identity returns the identity of the owned enclave.
func (g *Gateway) Identity() enclave.Identity {
	return g.identity
}

// LaunchToken returns the token the enclave was launched with.
func (g *Gateway) LaunchToken() interfaces.LaunchToken {
	return g.token
}

// LaunchTokenUpdated reports whether a new token was issued at creation and
// should be persisted.
func (g *Gateway) LaunchTokenUpdated() bool {
	return g.tokenUpdated
}

// Crossings returns how many calls actually entered the enclave.
func (g *Gateway) Crossings() uint64 {
	return g.crossings.Load()
}

// Destroy tears the instance down. Calls after Destroy, including a second
// Destroy, fail with ErrNotInitialized.
func (g *Gateway) Destroy() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.enclave == nil {
		return &interfaces.BoundaryError{Op: "destroy", Err: interfaces.ErrNotInitialized}
	}

	id := g.enclave.ID()
	st := g.enclave.Destroy()
	g.enclave = nil
	if err := st.Err(); err != nil {
		return &interfaces.BoundaryError{Op: "destroy", Err: err}
	}

	g.log.Info("enclave destroyed", "enclave", id)
	return nil
}

// Call runs op with the given inputs. outSizes declares the size of every
// output buffer; each must equal what op writes or the call fails with
// ErrInvalidParameter without crossing the boundary.
func (g *Gateway) Call(op enclave.Operation, in [][]byte, outSizes []int) ([][]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	out, err := g.call(op, in, outSizes)
	g.metrics.observe(op, err, time.Since(start))

	if err != nil && !errors.Is(err, interfaces.ErrInvalidParameter) && !errors.Is(err, interfaces.ErrIntegrity) {
		g.log.Warn("boundary call failed", "op", op, "err", err)
	}
	return out, err
}

func (g *Gateway) call(op enclave.Operation, in [][]byte, outSizes []int) ([][]byte, error) {
	if g.enclave == nil {
		return nil, &interfaces.BoundaryError{Op: op.String(), Err: interfaces.ErrNotInitialized}
	}

	if err := enclave.ValidateBuffers(op, in, outSizes); err != nil {
		return nil, err
	}

	out := make([][]byte, len(outSizes))
	for i, size := range outSizes {
		out[i] = make([]byte, size)
	}

	g.crossings.Inc()
	ret, crossing := g.enclave.ECall(op, in, out)
	if err := crossing.Err(); err != nil {
		return nil, &interfaces.BoundaryError{Op: op.String(), Err: fmt.Errorf("crossing failed: %w", err)}
	}
	if err := ret.Err(); err != nil {
		for _, buf := range out {
			cryptoutils.Zero(buf)
		}
		return nil, &interfaces.BoundaryError{Op: op.String(), Err: err}
	}

	return out, nil
}

// GenerateKeypair creates a fresh key and returns only its public half.
func (g *Gateway) GenerateKeypair() (interfaces.PublicKey, error) {
	out, err := g.Call(enclave.OpGenerateKeypair, nil, []int{interfaces.PublicKeySize})
	if err != nil {
		return nil, err
	}
	return interfaces.PublicKey(out[0]), nil
}

// GenerateSealedKeypair creates a key and returns its public half together
// with the secret sealed under policy and bound to aad.
func (g *Gateway) GenerateSealedKeypair(aad []byte, policy interfaces.DisclosurePolicy) (interfaces.PublicKey, interfaces.SealedBlob, error) {
	sealedSize, err := enclave.CalcSealedSize(cryptoutils.SecretKeySize, len(aad))
	if err != nil {
		return nil, nil, &interfaces.BoundaryError{Op: enclave.OpGenerateSealedKeypair.String(), Buffer: "aad", Err: err}
	}

	out, err := g.Call(enclave.OpGenerateSealedKeypair, [][]byte{aad, {byte(policy)}}, []int{interfaces.PublicKeySize, sealedSize})
	if err != nil {
		return nil, nil, err
	}
	return interfaces.PublicKey(out[0]), interfaces.SealedBlob(out[1]), nil
}

// Seal seals record under policy, bound to aad.
func (g *Gateway) Seal(record, aad []byte, policy interfaces.DisclosurePolicy) (interfaces.SealedBlob, error) {
	sealedSize, err := enclave.CalcSealedSize(len(record), len(aad))
	if err != nil {
		return nil, &interfaces.BoundaryError{Op: enclave.OpSeal.String(), Buffer: "payload", Err: err}
	}

	out, err := g.Call(enclave.OpSeal, [][]byte{record, aad, {byte(policy)}}, []int{sealedSize})
	if err != nil {
		return nil, err
	}
	return interfaces.SealedBlob(out[0]), nil
}

// Unseal recovers a record of recordSize bytes from blob. aad must equal
// the aad supplied when sealing.
func (g *Gateway) Unseal(blob interfaces.SealedBlob, aad []byte, recordSize int) ([]byte, error) {
	out, err := g.Call(enclave.OpUnseal, [][]byte{blob, aad}, []int{recordSize})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SignWithSealedKey signs a 32-byte hash with the key sealed in blob and
// returns a 65-byte recoverable signature.
func (g *Gateway) SignWithSealedKey(blob interfaces.SealedBlob, aad, hash []byte) ([]byte, error) {
	out, err := g.Call(enclave.OpSignWithSealedKey, [][]byte{blob, aad, hash}, []int{cryptoutils.SignatureSize})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// PublicKeyFromSealed returns the public key of the key sealed in blob.
func (g *Gateway) PublicKeyFromSealed(blob interfaces.SealedBlob, aad []byte) (interfaces.PublicKey, error) {
	out, err := g.Call(enclave.OpPublicKeyFromSealed, [][]byte{blob, aad}, []int{interfaces.PublicKeySize})
	if err != nil {
		return nil, err
	}
	return interfaces.PublicKey(out[0]), nil
}
