// Package kms manages the emulated platform root key.
//
// RootKeys plays the role of the fused hardware key: the enclave platform
// derives every sealing key and the launch token MAC key from it with
// HKDF-SHA256, and the raw key never crosses the enclave boundary.
//
// Seal keys are bound to the disclosure policy, the identity measurement the
// policy selects, the enclave attributes and a per-blob key ID:
//
//	key, err := keys.SealKey(kms.SealKeyRequest{
//	    Policy:   interfaces.AuthorityIdentity,
//	    Identity: identity.SignerMeasurement,
//	    KeyID:    keyID,
//	})
//
// # Escrow
//
// The root key can be split into Shamir shares with SplitRootKey and
// recovered with CombineRootKey. A recovered key derives the same seal keys,
// so blobs sealed before a platform loss stay readable. Compare Fingerprint
// values to confirm a recovery.
package kms
