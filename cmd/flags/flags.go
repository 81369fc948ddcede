package flags

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/tee-keyseal/common"
	"github.com/ruteri/tee-keyseal/host"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads the config file named by --config and applies the
// command line overrides on top of it.
func LoadConfig(cCtx *cli.Context) (host.Config, error) {
	cfg, err := host.LoadConfig(cCtx.String(ConfigFlag.Name))
	if err != nil {
		return cfg, err
	}

	if cCtx.IsSet(ModuleFlag.Name) {
		cfg.Module = cCtx.String(ModuleFlag.Name)
	}
	if cCtx.IsSet(TokenPathFlag.Name) {
		cfg.TokenPath = cCtx.String(TokenPathFlag.Name)
	}
	if cCtx.IsSet(RootKeyFileFlag.Name) {
		cfg.RootKeyFile = cCtx.String(RootKeyFileFlag.Name)
	}
	if cCtx.IsSet(StorageFlag.Name) {
		cfg.Storage = cCtx.StringSlice(StorageFlag.Name)
	}
	if cCtx.IsSet(PolicyFlag.Name) {
		cfg.Policy = cCtx.String(PolicyFlag.Name)
	}
	if cCtx.IsSet(AttestationTypeFlag.Name) {
		cfg.Attestation.Type = cCtx.String(AttestationTypeFlag.Name)
	}
	if cCtx.IsSet(RemoteAttestationFlag.Name) {
		cfg.Attestation.Address = cCtx.String(RemoteAttestationFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"KEYSEAL_CONFIG"},
	Usage:   "YAML configuration file",
}

var ModuleFlag = &cli.StringFlag{
	Name:  "module",
	Usage: "signed enclave module file",
}

var TokenPathFlag = &cli.StringFlag{
	Name:  "token-path",
	Usage: "launch token cache file (default $HOME/enclave.token)",
}

var RootKeyFileFlag = &cli.StringFlag{
	Name:  "root-key-file",
	Usage: "hex-encoded platform root key",
}

var StorageFlag = &cli.StringSliceFlag{
	Name:  "storage",
	Usage: "sealed blob storage URI (file://, s3://, ipfs://, vault://), may be repeated",
}

var PolicyFlag = &cli.StringFlag{
	Name:  "policy",
	Usage: "disclosure policy for new blobs: 'exact' or 'authority'",
}

var AttestationTypeFlag = &cli.StringFlag{
	Name:  "attestation-type",
	Usage: "launch attestation provider: 'dummy', 'qemu-tdx' or 'remote'",
}

var RemoteAttestationFlag = &cli.StringFlag{
	Name:  "remote-attestation-provider",
	Usage: "remote attestation provider address, used with --attestation-type remote",
}

var MetricsFileFlag = &cli.StringFlag{
	Name:  "metrics-file",
	Usage: "write boundary call metrics in Prometheus text format to this file on exit",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var EnclaveFlags = []cli.Flag{
	ConfigFlag,
	ModuleFlag,
	TokenPathFlag,
	RootKeyFileFlag,
	StorageFlag,
	PolicyFlag,
	AttestationTypeFlag,
	RemoteAttestationFlag,
	MetricsFileFlag,
}
