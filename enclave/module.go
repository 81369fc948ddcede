package enclave

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-keyseal/interfaces"
)

const moduleDigestLabel = "tee-keyseal/module/v1"

// Identity is the public identity of an enclave. It is computable from the
// module alone.
type Identity struct {
	// CodeMeasurement is the SHA-256 of the module code.
	CodeMeasurement [32]byte
	// SignerMeasurement is the SHA-256 of the signing authority's public key.
	SignerMeasurement [32]byte
	// Debug enclaves derive different sealing keys than production ones.
	Debug bool
}

// Attributes returns the attribute byte bound into key derivation.
func (id Identity) Attributes() uint8 {
	if id.Debug {
		return 1
	}
	return 0
}

// For returns the measurement a policy binds to.
func (id Identity) For(policy interfaces.DisclosurePolicy) [32]byte {
	if policy == interfaces.AuthorityIdentity {
		return id.SignerMeasurement
	}
	return id.CodeMeasurement
}

// ReportData is the data attested when the platform launches the enclave.
func (id Identity) ReportData() [64]byte {
	var reportData [64]byte
	copy(reportData[:32], id.CodeMeasurement[:])
	copy(reportData[32:], id.SignerMeasurement[:])
	return reportData
}

// Module is a signed enclave code module.
type Module struct {
	Code      hexutil.Bytes `json:"code"`
	Debug     bool          `json:"debug"`
	Signer    hexutil.Bytes `json:"signer"`
	Signature hexutil.Bytes `json:"signature"`
}

// SignModule signs code with the authority key.
func SignModule(code []byte, debug bool, authority *ecdsa.PrivateKey) (*Module, error) {
	if len(code) == 0 {
		return nil, errors.New("module code is empty")
	}

	m := &Module{
		Code:   append(hexutil.Bytes(nil), code...),
		Debug:  debug,
		Signer: crypto.FromECDSAPub(&authority.PublicKey),
	}

	digest := m.Digest()
	sig, err := crypto.Sign(digest[:], authority)
	if err != nil {
		return nil, fmt.Errorf("failed to sign module: %w", err)
	}
	m.Signature = sig

	return m, nil
}

// Digest is the hash the authority signs.
func (m *Module) Digest() common.Hash {
	codeHash := sha256.Sum256(m.Code)
	attributes := byte(0)
	if m.Debug {
		attributes = 1
	}
	return crypto.Keccak256Hash([]byte(moduleDigestLabel), codeHash[:], []byte{attributes})
}

// Verify checks that the signature was produced by the declared signer.
func (m *Module) Verify() error {
	if len(m.Code) == 0 {
		return errors.New("module code is empty")
	}
	if len(m.Signature) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length %d", len(m.Signature))
	}
	if err := interfaces.PublicKey(m.Signer).Validate(); err != nil {
		return fmt.Errorf("invalid signer: %w", err)
	}

	digest := m.Digest()
	recovered, err := crypto.Ecrecover(digest[:], m.Signature)
	if err != nil {
		return fmt.Errorf("could not recover module signer: %w", err)
	}
	if !bytes.Equal(recovered, m.Signer) {
		return errors.New("module signature does not match signer")
	}
	if !crypto.VerifySignature(m.Signer, digest[:], m.Signature[:64]) {
		return errors.New("module signature is not canonical")
	}

	return nil
}

// Identity computes the enclave identity of the module.
func (m *Module) Identity() Identity {
	return Identity{
		CodeMeasurement:   sha256.Sum256(m.Code),
		SignerMeasurement: sha256.Sum256(m.Signer),
		Debug:             m.Debug,
	}
}

// LoadModule reads a module file written by Save.
func LoadModule(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}

	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse module: %w", err)
	}
	return &m, nil
}

// Save writes the module as JSON.
func (m *Module) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode module: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write module: %w", err)
	}
	return nil
}
