package gateway

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/enclave"
	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/ruteri/tee-keyseal/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func testPlatform(t *testing.T) *enclave.Platform {
	keys, err := kms.NewRootKeys(bytes.Repeat([]byte{0x17}, kms.RootKeySize))
	require.NoError(t, err)
	return enclave.NewPlatform(keys, nil)
}

func testModule(t *testing.T, code string, authority *ecdsa.PrivateKey) *enclave.Module {
	if authority == nil {
		var err error
		authority, err = crypto.GenerateKey()
		require.NoError(t, err)
	}
	m, err := enclave.SignModule([]byte(code), false, authority)
	require.NoError(t, err)
	return m
}

func testGateway(t *testing.T, opts ...Option) *Gateway {
	g, err := Create(testPlatform(t), testModule(t, "keyseal", nil), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Destroy() })
	return g
}

func TestSealUnseal(t *testing.T) {
	g := testGateway(t)
	assert.True(t, g.LaunchTokenUpdated())
	assert.Len(t, g.LaunchToken(), interfaces.LaunchTokenSize)

	record := []byte("account balance: 100")
	aad := []byte("account-7")

	blob, err := g.Seal(record, aad, interfaces.ExactIdentity)
	require.NoError(t, err)

	unsealed, err := g.Unseal(blob, aad, len(record))
	require.NoError(t, err)
	assert.Equal(t, record, unsealed)

	_, err = g.Unseal(blob, []byte("account-8"), len(record))
	assert.ErrorIs(t, err, interfaces.ErrIntegrity)

	_, err = g.Seal(nil, aad, interfaces.ExactIdentity)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)

	_, err = g.Seal(record, aad, interfaces.DisclosurePolicy(0))
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)
}

func TestSealedKeypair(t *testing.T) {
	g := testGateway(t)
	aad := []byte("wallet")

	pub, blob, err := g.GenerateSealedKeypair(aad, interfaces.AuthorityIdentity)
	require.NoError(t, err)
	require.NoError(t, pub.Validate())

	expectedSize, err := enclave.CalcSealedSize(cryptoutils.SecretKeySize, len(aad))
	require.NoError(t, err)
	assert.Len(t, blob, expectedSize)
	assert.False(t, bytes.Contains(blob, pub[1:33]), "Blob should not contain the public key")

	recovered, err := g.PublicKeyFromSealed(blob, aad)
	require.NoError(t, err)
	assert.Equal(t, pub, recovered)

	hash := crypto.Keccak256([]byte("transfer"))
	sig, err := g.SignWithSealedKey(blob, aad, hash)
	require.NoError(t, err)
	assert.NoError(t, cryptoutils.VerifySignature(pub, hash, sig))

	_, err = g.SignWithSealedKey(blob, aad, hash[:16])
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)
}

func TestAuthorityPolicyAcrossVersions(t *testing.T) {
	authority, err := crypto.GenerateKey()
	require.NoError(t, err)
	platform := testPlatform(t)

	var exactBlob, authorityBlob interfaces.SealedBlob
	var pub interfaces.PublicKey
	err = With(platform, testModule(t, "v1", authority), nil, func(g *Gateway) error {
		var err error
		pub, authorityBlob, err = g.GenerateSealedKeypair(nil, interfaces.AuthorityIdentity)
		if err != nil {
			return err
		}
		exactBlob, err = g.Seal([]byte("v1 only"), nil, interfaces.ExactIdentity)
		return err
	})
	require.NoError(t, err)

	err = With(platform, testModule(t, "v2", authority), nil, func(g *Gateway) error {
		recovered, err := g.PublicKeyFromSealed(authorityBlob, nil)
		require.NoError(t, err)
		assert.Equal(t, pub, recovered)

		_, err = g.Unseal(exactBlob, nil, len("v1 only"))
		assert.ErrorIs(t, err, interfaces.ErrIntegrity)
		return nil
	})
	require.NoError(t, err)
}

func TestSizeMismatchDoesNotCross(t *testing.T) {
	g := testGateway(t)
	payload := []byte("payload")
	size, err := enclave.CalcSealedSize(len(payload), 0)
	require.NoError(t, err)
	policy := []byte{byte(interfaces.ExactIdentity)}

	for _, declared := range []int{size - 1, size + 1, 0} {
		_, err := g.Call(enclave.OpSeal, [][]byte{payload, nil, policy}, []int{declared})
		require.ErrorIs(t, err, interfaces.ErrInvalidParameter)

		var boundaryErr *interfaces.BoundaryError
		require.ErrorAs(t, err, &boundaryErr)
		assert.Equal(t, "seal", boundaryErr.Op)
		assert.Equal(t, "sealed blob", boundaryErr.Buffer)
	}

	_, err = g.Unseal(make([]byte, enclave.SealOverhead+3), nil, 4)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)

	assert.Equal(t, uint64(0), g.Crossings(), "Rejected calls must not enter the enclave")

	_, err = g.Call(enclave.OpSeal, [][]byte{payload, nil, policy}, []int{size})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.Crossings())

	record := make([]byte, 32)
	aad := []byte("account-9")
	blob, err := g.Seal(record, aad, interfaces.ExactIdentity)
	require.NoError(t, err)
	_, keyBlob, err := g.GenerateSealedKeypair(aad, interfaces.ExactIdentity)
	require.NoError(t, err)
	crossings := g.Crossings()

	for _, declared := range []int{31, 33, 41} {
		_, err = g.Unseal(blob, aad, declared)
		require.ErrorIs(t, err, interfaces.ErrInvalidParameter, "declared record size %d", declared)
		assert.NotErrorIs(t, err, interfaces.ErrIntegrity)

		var boundaryErr *interfaces.BoundaryError
		require.ErrorAs(t, err, &boundaryErr)
		assert.Equal(t, "record", boundaryErr.Buffer)
	}

	_, err = g.Unseal(blob, aad[:8], len(record))
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter, "Shorter aad changes the expected blob size")

	_, err = g.PublicKeyFromSealed(keyBlob, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)

	_, err = g.SignWithSealedKey(keyBlob[:len(keyBlob)-1], aad, make([]byte, 32))
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)

	_, err = g.PublicKeyFromSealed(keyBlob, aad)
	require.NoError(t, err)
	assert.Equal(t, crossings+1, g.Crossings(), "Only the well-sized call may enter the enclave")
}

func TestDestroy(t *testing.T) {
	g, err := Create(testPlatform(t), testModule(t, "keyseal", nil), nil)
	require.NoError(t, err)

	blob, err := g.Seal([]byte("x"), nil, interfaces.ExactIdentity)
	require.NoError(t, err)
	_, keyBlob, err := g.GenerateSealedKeypair(nil, interfaces.ExactIdentity)
	require.NoError(t, err)

	require.NoError(t, g.Destroy())

	err = g.Destroy()
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)

	_, err = g.GenerateKeypair()
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)

	_, err = g.Seal([]byte("x"), nil, interfaces.ExactIdentity)
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)

	_, _, err = g.GenerateSealedKeypair(nil, interfaces.ExactIdentity)
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)

	_, err = g.Unseal(blob, nil, 1)
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)

	_, err = g.SignWithSealedKey(keyBlob, nil, make([]byte, 32))
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)

	_, err = g.PublicKeyFromSealed(keyBlob, nil)
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)

	assert.Equal(t, uint64(2), g.Crossings(), "Calls after Destroy must not enter the enclave")
}

func TestCreateFailures(t *testing.T) {
	m := testModule(t, "keyseal", nil)
	m.Signature[0] ^= 1

	_, err := Create(testPlatform(t), m, nil)
	assert.ErrorIs(t, err, interfaces.ErrUnexpected)

	_, err = Create(nil, testModule(t, "keyseal", nil), nil)
	assert.ErrorIs(t, err, interfaces.ErrUnexpected)
}

func TestLaunchTokenReuse(t *testing.T) {
	platform := testPlatform(t)
	module := testModule(t, "keyseal", nil)

	g1, err := Create(platform, module, nil)
	require.NoError(t, err)
	require.NoError(t, g1.Destroy())
	require.True(t, g1.LaunchTokenUpdated())

	g2, err := Create(platform, module, g1.LaunchToken())
	require.NoError(t, err)
	defer g2.Destroy()
	assert.False(t, g2.LaunchTokenUpdated())
	assert.Equal(t, g1.Identity(), g2.Identity())
}

func TestUnexpectedOnRandomExhaustion(t *testing.T) {
	g, err := Create(testPlatform(t).WithRandomSource(zeroReader{}), testModule(t, "keyseal", nil), nil)
	require.NoError(t, err)
	defer g.Destroy()

	_, err = g.GenerateKeypair()
	assert.ErrorIs(t, err, interfaces.ErrUnexpected)
}

func TestWith(t *testing.T) {
	platform := testPlatform(t)
	module := testModule(t, "keyseal", nil)

	var captured *Gateway
	fnErr := errors.New("fn failed")
	err := With(platform, module, nil, func(g *Gateway) error {
		captured = g
		return fnErr
	})
	assert.ErrorIs(t, err, fnErr)
	_, err = captured.GenerateKeypair()
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized, "Instance should be destroyed after fn returns")

	assert.Panics(t, func() {
		_ = With(platform, module, nil, func(g *Gateway) error {
			captured = g
			panic("boom")
		})
	})
	_, err = captured.GenerateKeypair()
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized, "Instance should be destroyed after a panic")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := testGateway(t, WithMetrics(NewMetrics(reg)))

	_, err := g.GenerateKeypair()
	require.NoError(t, err)
	_, err = g.Unseal(make([]byte, enclave.SealOverhead), nil, 1)
	require.Error(t, err)

	blob, err := g.Seal([]byte("abc"), nil, interfaces.ExactIdentity)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 1
	_, err = g.Unseal(blob, nil, 3)
	require.ErrorIs(t, err, interfaces.ErrIntegrity)

	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.calls.WithLabelValues("generate_keypair", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.calls.WithLabelValues("unseal", "invalid_parameter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.calls.WithLabelValues("unseal", "integrity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.calls.WithLabelValues("seal", "ok")))

	count, err := testutil.GatherAndCount(reg, "keyseal_gateway_call_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "One histogram series per operation")
}

func TestConcurrentCalls(t *testing.T) {
	g := testGateway(t)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record := []byte{byte(i), 1, 2, 3}
			blob, err := g.Seal(record, []byte{byte(i)}, interfaces.ExactIdentity)
			if err != nil {
				errs <- err
				return
			}
			unsealed, err := g.Unseal(blob, []byte{byte(i)}, len(record))
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(record, unsealed) {
				errs <- errors.New("record mismatch")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(64), g.Crossings())
}
