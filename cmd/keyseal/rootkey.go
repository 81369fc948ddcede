package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/tee-keyseal/cmd/flags"
	"github.com/ruteri/tee-keyseal/cryptoutils"
	"github.com/ruteri/tee-keyseal/host"
	"github.com/ruteri/tee-keyseal/kms"
	"github.com/urfave/cli/v2"
)

var flagRootKeyOut = &cli.StringFlag{
	Name:  "root-key-file",
	Value: "root.key",
	Usage: "hex-encoded platform root key",
}

var rootKeyCommand = &cli.Command{
	Name:  "rootkey",
	Usage: "manage the emulated platform root key",
	Subcommands: []*cli.Command{
		{
			Name:  "generate",
			Usage: "generate a new root key",
			Flags: []cli.Flag{flagRootKeyOut},
			Action: func(cCtx *cli.Context) error {
				rootKey, err := kms.GenerateRootKey()
				if err != nil {
					return err
				}
				defer cryptoutils.Zero(rootKey)

				if err := host.SaveRootKey(cCtx.String(flagRootKeyOut.Name), rootKey); err != nil {
					return err
				}

				keys, err := kms.NewRootKeys(rootKey)
				if err != nil {
					return err
				}
				defer keys.Destroy()

				fingerprint := keys.Fingerprint()
				return printJSON(map[string]string{
					"rootKeyFile": cCtx.String(flagRootKeyOut.Name),
					"fingerprint": hex.EncodeToString(fingerprint[:]),
				})
			},
		},
		{
			Name:  "split",
			Usage: "split the root key into escrow shares",
			Flags: []cli.Flag{
				flagRootKeyOut,
				&cli.IntFlag{Name: "shares", Value: 3, Usage: "number of shares"},
				&cli.IntFlag{Name: "threshold", Value: 2, Usage: "shares needed to recover the key"},
				&cli.StringFlag{Name: "out-dir", Value: ".", Usage: "directory for share files"},
			},
			Action: func(cCtx *cli.Context) error {
				log := flags.SetupLogger(cCtx)

				keys, err := host.LoadRootKeys(cCtx.String(flagRootKeyOut.Name))
				if err != nil {
					return err
				}
				defer keys.Destroy()

				shares, err := keys.SplitRootKey(cCtx.Int("shares"), cCtx.Int("threshold"))
				if err != nil {
					return err
				}

				files := make([]string, 0, len(shares))
				for i, share := range shares {
					path := filepath.Join(cCtx.String("out-dir"), fmt.Sprintf("root-key-share-%d.hex", i+1))
					if err := os.WriteFile(path, []byte(hex.EncodeToString(share)+"\n"), 0600); err != nil {
						return fmt.Errorf("failed to write share: %w", err)
					}
					cryptoutils.Zero(share)
					files = append(files, path)
				}

				log.Info("Root key split", "shares", len(files), "threshold", cCtx.Int("threshold"))
				return printJSON(map[string]any{"shares": files})
			},
		},
		{
			Name:  "combine",
			Usage: "recover the root key from escrow shares",
			Flags: []cli.Flag{
				flagRootKeyOut,
				&cli.StringSliceFlag{Name: "share", Required: true, Usage: "share file, repeat for each share"},
			},
			Action: func(cCtx *cli.Context) error {
				var parts [][]byte
				for _, path := range cCtx.StringSlice("share") {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read share: %w", err)
					}
					part, err := hex.DecodeString(strings.TrimSpace(string(data)))
					if err != nil {
						return fmt.Errorf("invalid share %s: %w", path, err)
					}
					parts = append(parts, part)
				}

				keys, err := kms.CombineRootKey(parts)
				if err != nil {
					return err
				}
				defer keys.Destroy()

				rootKey, err := keys.Export()
				if err != nil {
					return err
				}
				defer cryptoutils.Zero(rootKey)

				if err := host.SaveRootKey(cCtx.String(flagRootKeyOut.Name), rootKey); err != nil {
					return err
				}

				fingerprint := keys.Fingerprint()
				return printJSON(map[string]string{
					"rootKeyFile": cCtx.String(flagRootKeyOut.Name),
					"fingerprint": hex.EncodeToString(fingerprint[:]),
				})
			},
		},
	},
}
