// Package enclave emulates a trusted execution environment that generates,
// seals and uses secp256k1 keys.
//
// A Platform owns the root keys and launches signed Modules. Each launch
// yields an Enclave whose only entry point is ECall: the caller passes input
// buffers and caller-allocated output buffers, and gets back two Status
// values, one for the boundary crossing and one for the operation itself.
//
// # Operations
//
//   - OpGenerateKeypair: fresh key, public half only
//   - OpGenerateSealedKeypair: fresh key, public half plus the sealed secret
//   - OpSeal / OpUnseal: seal and recover arbitrary records
//   - OpSignWithSealedKey: sign a 32-byte hash with a sealed key
//   - OpPublicKeyFromSealed: recover the public key of a sealed key
//
// Secret keys exist in plaintext only inside an ECall and are zeroed before
// it returns.
//
// # Sealing
//
// Blobs are AES-256-GCM encrypted under a key derived from the platform root
// key, the disclosure policy, the identity the policy selects and a random
// key ID. With ExactIdentity only the same code measurement can unseal; with
// AuthorityIdentity any module signed by the same authority can. Any
// modification of a blob, its aad or the unsealing identity is reported as
// MACMismatch and leaves the output buffer untouched.
//
// # Launch Tokens
//
// Launch verifies the module signature, then either accepts a valid launch
// token or attests the launch and issues a new one. Callers persist tokens
// between runs; a missing or stale token only costs an attestation.
package enclave
