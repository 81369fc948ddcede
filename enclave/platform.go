package enclave

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/ruteri/tee-keyseal/kms"
	"go.uber.org/atomic"
)

var launchTokenMagic = [4]byte{'L', 'T', 'K', '1'}

const (
	tokenCodeOffset       = 4
	tokenSignerOffset     = tokenCodeOffset + 32
	tokenAttributesOffset = tokenSignerOffset + 32
	tokenQuoteHashOffset  = tokenAttributesOffset + 1
	tokenMACOffset        = tokenQuoteHashOffset + 32
	tokenUsedSize         = tokenMACOffset + sha256.Size
)

// Platform emulates the trusted hardware: it owns the root key, verifies
// module signatures, attests launches and issues launch tokens.
type Platform struct {
	keys         *kms.RootKeys
	attestation  cryptoutils.AttestationProvider
	entropy      io.Reader
	randomSource io.Reader
	nextID       *atomic.Uint64
	log          *slog.Logger
}

// NewPlatform creates a platform around the given root key material.
// Launches are attested with the dummy provider until another is configured.
func NewPlatform(keys *kms.RootKeys, log *slog.Logger) *Platform {
	if log == nil {
		log = slog.Default()
	}
	return &Platform{
		keys:        keys,
		attestation: cryptoutils.DumyAttestationProvider{},
		entropy:     rand.Reader,
		nextID:      atomic.NewUint64(0),
		log:         log,
	}
}

// WithAttestationProvider returns a platform attesting launches with ap.
func (p *Platform) WithAttestationProvider(ap cryptoutils.AttestationProvider) *Platform {
	np := *p
	np.attestation = ap
	return &np
}

// WithEntropySource returns a platform seeding enclave random sources from r.
func (p *Platform) WithEntropySource(r io.Reader) *Platform {
	np := *p
	np.entropy = r
	return &np
}

// WithRandomSource returns a platform whose enclaves read randomness
// directly from r instead of a private generator. Only meant for tests.
func (p *Platform) WithRandomSource(r io.Reader) *Platform {
	np := *p
	np.randomSource = r
	return &np
}

// Launch verifies the module and creates an enclave instance. A valid token
// for the module's identity skips launch attestation; otherwise a fresh
// token is issued and updated is true.
func (p *Platform) Launch(module *Module, token interfaces.LaunchToken) (e *Enclave, issued interfaces.LaunchToken, updated bool, err error) {
	if module == nil {
		return nil, nil, false, fmt.Errorf("%w: no module", interfaces.ErrUnexpected)
	}
	if err := module.Verify(); err != nil {
		return nil, nil, false, fmt.Errorf("%w: module rejected: %v", interfaces.ErrUnexpected, err)
	}

	identity := module.Identity()

	launchKey, err := p.keys.LaunchKey()
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: %v", interfaces.ErrUnexpected, err)
	}
	defer cryptoutils.Zero(launchKey)

	issued = token
	if err := verifyLaunchToken(launchKey, identity, token); err != nil {
		if !token.Empty() {
			p.log.Warn("launch token rejected, requesting a new one", "err", err)
		}

		issued, err = p.issueLaunchToken(launchKey, identity)
		if err != nil {
			return nil, nil, false, fmt.Errorf("%w: %v", interfaces.ErrUnexpected, err)
		}
		updated = true
	}

	random := p.randomSource
	var generator *drbg
	if random == nil {
		generator, err = newDRBG(p.entropy)
		if err != nil {
			return nil, nil, false, fmt.Errorf("%w: %v", interfaces.ErrUnexpected, err)
		}
		random = generator
	}

	e = &Enclave{
		id:        p.nextID.Inc(),
		identity:  identity,
		keys:      p.keys,
		rand:      random,
		drbg:      generator,
		destroyed: atomic.NewBool(false),
		log:       p.log,
	}

	p.log.Debug("enclave launched",
		"enclave", e.id,
		"code", fmt.Sprintf("%x", identity.CodeMeasurement),
		"signer", fmt.Sprintf("%x", identity.SignerMeasurement),
		"debug", identity.Debug,
		"tokenUpdated", updated)

	return e, issued, updated, nil
}

func (p *Platform) issueLaunchToken(launchKey []byte, identity Identity) (interfaces.LaunchToken, error) {
	quote, err := p.attestation.Attest(identity.ReportData())
	if err != nil {
		return nil, fmt.Errorf("launch attestation failed: %w", err)
	}

	token := make(interfaces.LaunchToken, interfaces.LaunchTokenSize)
	copy(token, launchTokenMagic[:])
	copy(token[tokenCodeOffset:], identity.CodeMeasurement[:])
	copy(token[tokenSignerOffset:], identity.SignerMeasurement[:])
	token[tokenAttributesOffset] = identity.Attributes()
	quoteHash := sha256.Sum256(quote)
	copy(token[tokenQuoteHashOffset:], quoteHash[:])

	mac := hmac.New(sha256.New, launchKey)
	mac.Write(token[:tokenMACOffset])
	copy(token[tokenMACOffset:], mac.Sum(nil))

	return token, nil
}

func verifyLaunchToken(launchKey []byte, identity Identity, token interfaces.LaunchToken) error {
	if token.Empty() {
		return errors.New("no launch token")
	}
	if len(token) != interfaces.LaunchTokenSize {
		return fmt.Errorf("invalid launch token length %d", len(token))
	}
	if [4]byte(token[:4]) != launchTokenMagic {
		return errors.New("invalid launch token format")
	}

	mac := hmac.New(sha256.New, launchKey)
	mac.Write(token[:tokenMACOffset])
	if !hmac.Equal(mac.Sum(nil), token[tokenMACOffset:tokenUsedSize]) {
		return errors.New("launch token authentication failed")
	}
	for _, b := range token[tokenUsedSize:] {
		if b != 0 {
			return errors.New("launch token padding is corrupt")
		}
	}

	if [32]byte(token[tokenCodeOffset:tokenSignerOffset]) != identity.CodeMeasurement ||
		[32]byte(token[tokenSignerOffset:tokenAttributesOffset]) != identity.SignerMeasurement ||
		token[tokenAttributesOffset] != identity.Attributes() {
		return errors.New("launch token issued for a different module")
	}

	return nil
}
