// Package storage persists sealed blobs in content-addressed backends.
//
// Sealed blobs are opaque and already encrypted, so backends only need to
// keep bytes intact. Every blob is addressed by the SHA-256 of its bytes and
// kept in a namespace per content type:
//
//   - sealed-keys: secret keys sealed by GenerateSealedKeypair
//   - sealed-records: any other sealed record
//
// # Storage URI Format
//
// Backends are selected with URIs:
//
//	file:///var/lib/keyseal/blobs
//	s3://bucket-name/prefix?region=us-west-2&endpoint=http://minio:9000
//	ipfs://127.0.0.1:5001/keyseal?timeout=30s
//	vault://vault.example.com:8200/secret/keyseal
//
// S3 credentials are taken from the URI user info or the AWS_ACCESS_KEY_ID
// and AWS_SECRET_ACCESS_KEY environment variables. Vault tokens are taken
// from the URI user or VAULT_TOKEN; add tls=false for plain HTTP.
//
// # Redundancy
//
// StorageBackendFactory.CreateMultiBackend wraps several backends in a
// MultiStorageBackend, which writes to every available backend and reads
// from the first one holding the blob.
package storage
