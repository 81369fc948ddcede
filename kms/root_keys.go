package kms

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ruteri/tee-keyseal/interfaces"
	"golang.org/x/crypto/hkdf"
)

// RootKeySize is the size of the platform root key.
const RootKeySize = 32

const (
	sealKeyLabel   = "tee-keyseal/seal/v1"
	launchKeyLabel = "tee-keyseal/launch/v1"
)

// SealKeyRequest selects a sealing key. The same request always yields the
// same key on the same platform.
type SealKeyRequest struct {
	Policy     interfaces.DisclosurePolicy
	Identity   [32]byte // code or signer measurement, depending on Policy
	Attributes uint8
	KeyID      [32]byte
}

// RootKeys holds the emulated platform fused key. Every enclave key is
// derived from it and it never leaves the platform.
type RootKeys struct {
	mu      sync.RWMutex
	rootKey []byte
}

// NewRootKeys creates key material from the provided root key.
// The root key must be exactly RootKeySize bytes long.
func NewRootKeys(rootKey []byte) (*RootKeys, error) {
	if len(rootKey) != RootKeySize {
		return nil, fmt.Errorf("root key must be %d bytes", RootKeySize)
	}

	k := &RootKeys{rootKey: make([]byte, RootKeySize)}
	copy(k.rootKey, rootKey)
	return k, nil
}

// GenerateRootKey returns a fresh random root key.
func GenerateRootKey() ([]byte, error) {
	rootKey := make([]byte, RootKeySize)
	if _, err := io.ReadFull(rand.Reader, rootKey); err != nil {
		return nil, fmt.Errorf("failed to generate root key: %w", err)
	}
	return rootKey, nil
}

// SealKey derives the AES-256 sealing key for a request.
// Policy, identity and attributes are bound into the HKDF info so keys for
// different policies are never interchangeable.
func (k *RootKeys) SealKey(req SealKeyRequest) ([]byte, error) {
	if !req.Policy.Valid() {
		return nil, fmt.Errorf("%w: unknown policy %d", interfaces.ErrInvalidParameter, req.Policy)
	}

	info := make([]byte, 0, len(sealKeyLabel)+1+32+1)
	info = append(info, sealKeyLabel...)
	info = append(info, byte(req.Policy))
	info = append(info, req.Identity[:]...)
	info = append(info, req.Attributes)

	return k.derive(req.KeyID[:], info)
}

// LaunchKey derives the key used to authenticate launch tokens.
func (k *RootKeys) LaunchKey() ([]byte, error) {
	return k.derive(nil, []byte(launchKeyLabel))
}

func (k *RootKeys) derive(salt, info []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.rootKey == nil {
		return nil, errors.New("root key material destroyed")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.rootKey, salt, info), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Fingerprint identifies the root key without revealing it.
func (k *RootKeys) Fingerprint() [32]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return sha256.Sum256(append([]byte("tee-keyseal/fingerprint/v1"), k.rootKey...))
}

// Destroy zeroes the root key. Subsequent derivations fail.
func (k *RootKeys) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := range k.rootKey {
		k.rootKey[i] = 0
	}
	k.rootKey = nil
}
