// Package cryptoutils holds the secp256k1 helpers and launch attestation
// providers shared by the enclave and the host.
//
// Secret keys are raw 32-byte big-endian scalars in [1, N-1]. Public keys are
// 65-byte uncompressed points and signatures are 65-byte [R || S || V] values
// as produced by go-ethereum's crypto.Sign.
//
// # Attestation Providers
//
//   - dummy: deterministic fake quotes, for development and tests
//   - qemu-tdx: TDX quotes through configfs-tsm or the TDX guest device
//   - remote: quotes fetched from an HTTP quote service at <address>/attest/<hex>
package cryptoutils
