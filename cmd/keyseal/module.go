package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-keyseal/cmd/flags"
	"github.com/ruteri/tee-keyseal/enclave"
	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/urfave/cli/v2"
)

var flagAuthorityKey = &cli.StringFlag{
	Name:  "authority-key",
	Value: "authority.key",
	Usage: "hex-encoded secp256k1 module signing key",
}

var genAuthorityCommand = &cli.Command{
	Name:  "gen-authority",
	Usage: "generate a module signing authority key",
	Flags: []cli.Flag{flagAuthorityKey},
	Action: func(cCtx *cli.Context) error {
		path := cCtx.String(flagAuthorityKey.Name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate authority key: %w", err)
		}
		if err := crypto.SaveECDSA(path, key); err != nil {
			return fmt.Errorf("failed to save authority key: %w", err)
		}

		return printJSON(map[string]string{
			"authority": interfaces.PublicKey(crypto.FromECDSAPub(&key.PublicKey)).String(),
			"keyFile":   path,
		})
	},
}

var signModuleCommand = &cli.Command{
	Name:  "sign-module",
	Usage: "sign enclave module code with the authority key",
	Flags: []cli.Flag{
		flagAuthorityKey,
		&cli.StringFlag{Name: "code", Required: true, Usage: "module code file"},
		&cli.BoolFlag{Name: "debug", Usage: "mark the module as a debug build"},
		&cli.StringFlag{Name: "out", Value: "module.json", Usage: "signed module output file"},
	},
	Action: func(cCtx *cli.Context) error {
		log := flags.SetupLogger(cCtx)

		authority, err := crypto.LoadECDSA(cCtx.String(flagAuthorityKey.Name))
		if err != nil {
			return fmt.Errorf("failed to load authority key: %w", err)
		}

		code, err := os.ReadFile(cCtx.String("code"))
		if err != nil {
			return fmt.Errorf("failed to read module code: %w", err)
		}

		module, err := enclave.SignModule(code, cCtx.Bool("debug"), authority)
		if err != nil {
			return err
		}
		if err := module.Save(cCtx.String("out")); err != nil {
			return err
		}

		log.Info("Module signed", "out", cCtx.String("out"), "debug", module.Debug)
		return printIdentity(module.Identity())
	},
}

var identityCommand = &cli.Command{
	Name:  "identity",
	Usage: "print the enclave identity of the configured module",
	Flags: flags.EnclaveFlags,
	Action: func(cCtx *cli.Context) error {
		cfg, err := flags.LoadConfig(cCtx)
		if err != nil {
			return err
		}

		module, err := enclave.LoadModule(cfg.Module)
		if err != nil {
			return err
		}
		if err := module.Verify(); err != nil {
			return fmt.Errorf("module signature is invalid: %w", err)
		}

		return printIdentity(module.Identity())
	},
}

func printIdentity(id enclave.Identity) error {
	return printJSON(map[string]any{
		"codeMeasurement":   fmt.Sprintf("%x", id.CodeMeasurement),
		"signerMeasurement": fmt.Sprintf("%x", id.SignerMeasurement),
		"debug":             id.Debug,
	})
}
