// Package interfaces defines the types and contracts shared between the
// enclave, the boundary gateway and the host persistence layer.
//
// # Boundary Types
//
//   - PublicKey: uncompressed secp256k1 public key returned by key generation
//   - SealedBlob: opaque authenticated ciphertext produced by sealing
//   - DisclosurePolicy: ExactIdentity or AuthorityIdentity, fixed at seal time
//   - LaunchToken: opaque 1024-byte artifact that speeds up enclave creation
//
// # Error Kinds
//
// Every boundary failure wraps exactly one of ErrUnexpected,
// ErrInvalidParameter, ErrIntegrity, ErrNotInitialized or ErrOutOfMemory.
// The gateway wraps them in BoundaryError, which names the operation and
// buffer involved:
//
//	pub, err := gw.Unseal(blob, aad, 32)
//	if errors.Is(err, interfaces.ErrIntegrity) {
//	    // tampered blob or wrong enclave identity, never retried
//	}
//
// # Storage Interfaces
//
// StorageBackend provides content-addressed storage (SHA-256 ContentID) for
// sealed blobs across the file, S3, IPFS and Vault backends in package storage.
package interfaces
