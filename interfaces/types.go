package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// PublicKeySize is the length of an uncompressed secp256k1 public key.
const PublicKeySize = 65

// LaunchTokenSize is the fixed length of a launch token.
const LaunchTokenSize = 1024

// DisclosurePolicy selects which future enclave identities may unseal a blob.
type DisclosurePolicy uint8

const (
	// ExactIdentity allows only enclaves built from bit-identical code.
	ExactIdentity DisclosurePolicy = 1
	// AuthorityIdentity allows any enclave signed by the same authority.
	AuthorityIdentity DisclosurePolicy = 2
)

// ParseDisclosurePolicy parses the textual policy names accepted on the command line
// and in configuration files.
func ParseDisclosurePolicy(s string) (DisclosurePolicy, error) {
	switch strings.ToLower(s) {
	case "exact", "exact-identity", "mrenclave":
		return ExactIdentity, nil
	case "authority", "authority-identity", "mrsigner":
		return AuthorityIdentity, nil
	default:
		return 0, fmt.Errorf("%w: unknown disclosure policy %q", ErrInvalidParameter, s)
	}
}

// Valid reports whether p is one of the defined policies.
func (p DisclosurePolicy) Valid() bool {
	return p == ExactIdentity || p == AuthorityIdentity
}

// String returns the policy name.
func (p DisclosurePolicy) String() string {
	switch p {
	case ExactIdentity:
		return "exact"
	case AuthorityIdentity:
		return "authority"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// PublicKey is an uncompressed secp256k1 point (0x04 || X || Y).
type PublicKey []byte

// Validate checks that the key decodes to a point on the curve.
func (k PublicKey) Validate() error {
	if len(k) != PublicKeySize {
		return fmt.Errorf("invalid public key length %d", len(k))
	}
	if _, err := crypto.UnmarshalPubkey(k); err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	return nil
}

// Compressed returns the 33-byte compressed encoding of the key.
func (k PublicKey) Compressed() ([]byte, error) {
	pub, err := crypto.UnmarshalPubkey(k)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return crypto.CompressPubkey(pub), nil
}

// String returns the hex representation of the key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k)
}

// SealedBlob is the opaque output of sealing. The host stores and loads it
// but never interprets it.
type SealedBlob []byte

// ContentID returns the content address of the blob.
func (b SealedBlob) ContentID() ContentID {
	return ContentID(sha256.Sum256(b))
}

// LaunchToken is an opaque platform artifact that lets an enclave be
// recreated without repeating launch attestation.
type LaunchToken []byte

// Empty reports whether no token is present.
func (t LaunchToken) Empty() bool {
	return len(t) == 0
}

// NewLaunchTokenFromBytes returns a copy of data when it has the exact token
// length, and nil otherwise.
func NewLaunchTokenFromBytes(data []byte) (LaunchToken, error) {
	if len(data) != LaunchTokenSize {
		return nil, errors.New("invalid launch token length")
	}
	token := make(LaunchToken, LaunchTokenSize)
	copy(token, data)
	return token, nil
}
