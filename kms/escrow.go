package kms

import (
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// SplitRootKey splits the root key into shares using Shamir's Secret Sharing.
// Any threshold of the returned shares reconstructs the key with CombineRootKey.
func (k *RootKeys) SplitRootKey(shares, threshold int) ([][]byte, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.rootKey == nil {
		return nil, errors.New("root key material destroyed")
	}

	parts, err := shamir.Split(k.rootKey, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split root key: %w", err)
	}
	return parts, nil
}

// CombineRootKey reconstructs root key material from escrow shares.
// It cannot detect a wrong share set by itself; compare Fingerprint against a
// recorded value to confirm the result.
func CombineRootKey(parts [][]byte) (*RootKeys, error) {
	if len(parts) < 2 {
		return nil, errors.New("at least 2 shares are required")
	}

	rootKey, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	defer func() {
		for i := range rootKey {
			rootKey[i] = 0
		}
	}()

	return NewRootKeys(rootKey)
}

// Export returns a copy of the root key so a recovered key can be written
// back to the platform key file.
func (k *RootKeys) Export() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.rootKey == nil {
		return nil, errors.New("root key material destroyed")
	}

	rootKey := make([]byte, len(k.rootKey))
	copy(rootKey, k.rootKey)
	return rootKey, nil
}
