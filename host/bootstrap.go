package host

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/enclave"
	"github.com/ruteri/tee-keyseal/gateway"
	"github.com/ruteri/tee-keyseal/kms"
	"github.com/ruteri/tee-keyseal/storage"
)

// LoadRootKeys reads a hex-encoded root key file.
func LoadRootKeys(path string) (*kms.RootKeys, error) {
	if path == "" {
		return nil, errors.New("no root key file configured")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root key: %w", err)
	}

	rootKey, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid root key encoding: %w", err)
	}
	defer cryptoutils.Zero(rootKey)

	return kms.NewRootKeys(rootKey)
}

// SaveRootKey writes rootKey hex-encoded to path. It refuses to overwrite an
// existing file.
func SaveRootKey(path string, rootKey []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create root key file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(hex.EncodeToString(rootKey) + "\n"); err != nil {
		return fmt.Errorf("failed to write root key: %w", err)
	}
	return nil
}

// NewPlatform creates the emulated platform described by cfg.
func NewPlatform(cfg Config, log *slog.Logger) (*enclave.Platform, error) {
	keys, err := LoadRootKeys(cfg.RootKeyFile)
	if err != nil {
		return nil, err
	}

	attestation, err := cryptoutils.NewAttestationProvider(cfg.Attestation.Type, cfg.Attestation.Address)
	if err != nil {
		return nil, err
	}

	return enclave.NewPlatform(keys, log).WithAttestationProvider(attestation), nil
}

// OpenGateway launches the configured module and returns its gateway. The
// launch token is read from and, when the platform issued a new one, saved
// back to cfg.TokenPath. Failing to save the token is only logged.
func OpenGateway(cfg Config, log *slog.Logger, opts ...gateway.Option) (*gateway.Gateway, error) {
	if log == nil {
		log = slog.Default()
	}

	platform, err := NewPlatform(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.Module == "" {
		return nil, errors.New("no module configured")
	}
	module, err := enclave.LoadModule(cfg.Module)
	if err != nil {
		return nil, err
	}

	tokens := NewTokenFile(cfg.TokenPath, log)
	opts = append([]gateway.Option{gateway.WithLogger(log)}, opts...)

	gw, err := gateway.Create(platform, module, tokens.Load(), opts...)
	if err != nil {
		return nil, err
	}

	if gw.LaunchTokenUpdated() {
		if err := tokens.Save(gw.LaunchToken()); err != nil {
			log.Warn("Failed to save the launch token", "path", tokens.Path(), "err", err)
		}
	}

	return gw, nil
}

// OpenKeyStore creates the key store over the configured storage backends.
func OpenKeyStore(cfg Config, log *slog.Logger) (*KeyStore, error) {
	if len(cfg.Storage) == 0 {
		return nil, errors.New("no storage configured")
	}

	backend, err := storage.NewStorageBackendFactory(log).CreateMultiBackend(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return NewKeyStore(backend, log), nil
}
