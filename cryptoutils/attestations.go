package cryptoutils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	tdx_client "github.com/google/go-tdx-guest/client"
)

// AttestationType names the mechanism a platform uses to attest launches.
type AttestationType string

const (
	DCAPAttestation   AttestationType = "qemu-tdx"
	RemoteAttestation AttestationType = "remote"
	DummyAttestation  AttestationType = "dummy"
)

// AttestationProvider produces a platform quote over 64 bytes of report data.
type AttestationProvider interface {
	AttestationType() AttestationType
	Attest(reportData [64]byte) ([]byte, error)
}

// NewAttestationProvider returns the provider for a configured type.
// address is only used by the remote provider.
func NewAttestationProvider(kind string, address string) (AttestationProvider, error) {
	switch AttestationType(kind) {
	case "", DummyAttestation:
		return DumyAttestationProvider{}, nil
	case DCAPAttestation:
		return DCAPAttestationProvider{}, nil
	case RemoteAttestation:
		if address == "" {
			return nil, errors.New("remote attestation provider requires an address")
		}
		return &RemoteAttestationProvider{Address: address}, nil
	default:
		return nil, fmt.Errorf("unsupported attestation type %q: %w", kind, errors.ErrUnsupported)
	}
}

type RemoteAttestationProvider struct {
	Address string
}

func (*RemoteAttestationProvider) AttestationType() AttestationType { return RemoteAttestation }

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	extraDataHex := hex.EncodeToString(reportData[:])

	url := fmt.Sprintf("%s/attest/%s", p.Address, extraDataHex)
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// DCAPAttestationProvider requests a TDX quote from the local platform,
// through configfs-tsm when available and the TDX guest device otherwise.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) AttestationType() AttestationType { return DCAPAttestation }

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

type DumyAttestationProvider struct{}

func (DumyAttestationProvider) AttestationType() AttestationType {
	return DummyAttestation
}

func (DumyAttestationProvider) Attest(userData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("Attestation for launch %x", userData)), nil
}
