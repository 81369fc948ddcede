package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/interfaces"
	"gopkg.in/yaml.v3"
)

// DefaultTokenFile is the launch token file name in the user's home directory.
const DefaultTokenFile = "enclave.token"

// Config is the host-side configuration of the key sealing service.
type Config struct {
	// Module is the signed module file the enclave is launched from.
	Module string `yaml:"module"`

	// TokenPath is where the launch token is cached.
	// Default: $HOME/enclave.token
	TokenPath string `yaml:"token_path"`

	// RootKeyFile holds the hex-encoded platform root key.
	RootKeyFile string `yaml:"root_key_file"`

	// Storage lists the location URIs sealed blobs are written to.
	Storage []string `yaml:"storage"`

	// Policy is the default disclosure policy: exact or authority.
	Policy string `yaml:"policy"`

	// Attestation configures launch attestation.
	Attestation AttestationConfig `yaml:"attestation"`
}

// AttestationConfig selects the attestation provider used when a launch
// token has to be issued.
type AttestationConfig struct {
	// Type is one of dummy, qemu-tdx or remote.
	Type string `yaml:"type"`

	// Address is the remote provider address, only used with type remote.
	Address string `yaml:"address"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		TokenPath: DefaultTokenPath(),
		Policy:    interfaces.ExactIdentity.String(),
		Attestation: AttestationConfig{
			Type: string(cryptoutils.DummyAttestation),
		},
	}
}

// DefaultTokenPath returns $HOME/enclave.token, or enclave.token in the
// working directory when the home directory is unknown.
func DefaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultTokenFile
	}
	return filepath.Join(home, DefaultTokenFile)
}

// LoadConfig reads the YAML file at path on top of the defaults and applies
// KEYSEAL_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides fields from KEYSEAL_* environment variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("KEYSEAL_MODULE")); v != "" {
		cfg.Module = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYSEAL_TOKEN_PATH")); v != "" {
		cfg.TokenPath = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYSEAL_ROOT_KEY_FILE")); v != "" {
		cfg.RootKeyFile = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYSEAL_STORAGE")); v != "" {
		cfg.Storage = nil
		for _, uri := range strings.Split(v, ",") {
			if uri = strings.TrimSpace(uri); uri != "" {
				cfg.Storage = append(cfg.Storage, uri)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("KEYSEAL_POLICY")); v != "" {
		cfg.Policy = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYSEAL_ATTESTATION")); v != "" {
		cfg.Attestation.Type = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYSEAL_ATTESTATION_ADDRESS")); v != "" {
		cfg.Attestation.Address = v
	}
}

// Validate checks the values that can be checked without touching files.
func (c Config) Validate() error {
	var errs []error
	if _, err := interfaces.ParseDisclosurePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	if _, err := cryptoutils.NewAttestationProvider(c.Attestation.Type, c.Attestation.Address); err != nil {
		errs = append(errs, err)
	}
	for _, uri := range c.Storage {
		if _, err := interfaces.NewStorageBackendLocation(uri); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// DisclosurePolicy returns the parsed default policy.
func (c Config) DisclosurePolicy() interfaces.DisclosurePolicy {
	policy, err := interfaces.ParseDisclosurePolicy(c.Policy)
	if err != nil {
		return interfaces.ExactIdentity
	}
	return policy
}
