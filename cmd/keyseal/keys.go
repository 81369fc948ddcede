package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tee-keyseal/cmd/flags"
	"github.com/ruteri/tee-keyseal/enclave"
	"github.com/ruteri/tee-keyseal/gateway"
	"github.com/ruteri/tee-keyseal/host"
	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/urfave/cli/v2"
)

var flagAAD = &cli.StringFlag{
	Name:  "aad",
	Usage: "additional authenticated data bound to the sealed blob",
}

var flagID = &cli.StringFlag{
	Name:     "id",
	Required: true,
	Usage:    "content ID of the sealed blob",
}

type session struct {
	cfg   host.Config
	log   *slog.Logger
	gw    *gateway.Gateway
	store *host.KeyStore
}

// withSession launches the configured enclave, opens the key store and runs
// fn against them.
func withSession(cCtx *cli.Context, fn func(s *session) error) error {
	log := flags.SetupLogger(cCtx)

	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}

	store, err := host.OpenKeyStore(cfg, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	gw, err := host.OpenGateway(cfg, log, gateway.WithMetrics(gateway.NewMetrics(registry)))
	if err != nil {
		return err
	}

	s := &session{cfg: cfg, log: log, gw: gw, store: store}
	return runSession(s, registry, cCtx.String(flags.MetricsFileFlag.Name), fn)
}

// runSession runs fn and then destroys the enclave on every exit path,
// panics included. Boundary metrics are written to metricsFile when it is
// set.
func runSession(s *session, registry *prometheus.Registry, metricsFile string, fn func(s *session) error) error {
	defer func() {
		if err := s.gw.Destroy(); err != nil {
			s.log.Warn("Failed to destroy the enclave", "err", err)
		}
		if metricsFile != "" {
			if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil {
				s.log.Warn("Failed to write metrics", "path", metricsFile, "err", err)
			}
		}
	}()

	return fn(s)
}

func (s *session) loadKey(cCtx *cli.Context) (interfaces.SealedBlob, error) {
	id, err := interfaces.NewContentIDFromHex(cCtx.String(flagID.Name))
	if err != nil {
		return nil, err
	}
	return s.store.GetSealedKey(cCtx.Context, id)
}

func commandFlags(extra ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, flags.EnclaveFlags...), extra...)
}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "generate a secp256k1 key inside the enclave and store it sealed",
	Flags: commandFlags(
		flagAAD,
		&cli.BoolFlag{Name: "ephemeral", Usage: "only print a fresh public key, nothing is sealed or stored"},
	),
	Action: func(cCtx *cli.Context) error {
		return withSession(cCtx, func(s *session) error {
			if cCtx.Bool("ephemeral") {
				pub, err := s.gw.GenerateKeypair()
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"publicKey": pub.String()})
			}

			pub, blob, err := s.gw.GenerateSealedKeypair([]byte(cCtx.String(flagAAD.Name)), s.cfg.DisclosurePolicy())
			if err != nil {
				return err
			}

			id, err := s.store.PutSealedKey(cCtx.Context, blob)
			if err != nil {
				return err
			}

			s.log.Info("Sealed key stored", "id", id.String(), "policy", s.cfg.DisclosurePolicy().String())
			return printJSON(map[string]string{
				"id":        id.String(),
				"publicKey": pub.String(),
				"address":   addressOf(pub),
			})
		})
	},
}

var pubkeyCommand = &cli.Command{
	Name:  "pubkey",
	Usage: "print the public key of a stored sealed key",
	Flags: commandFlags(flagID, flagAAD),
	Action: func(cCtx *cli.Context) error {
		return withSession(cCtx, func(s *session) error {
			blob, err := s.loadKey(cCtx)
			if err != nil {
				return err
			}

			pub, err := s.gw.PublicKeyFromSealed(blob, []byte(cCtx.String(flagAAD.Name)))
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"publicKey": pub.String(),
				"address":   addressOf(pub),
			})
		})
	},
}

var signCommand = &cli.Command{
	Name:  "sign",
	Usage: "sign a message or a 32-byte hash with a stored sealed key",
	Flags: commandFlags(
		flagID,
		flagAAD,
		&cli.StringFlag{Name: "message", Usage: "message to sign, hashed with keccak256"},
		&cli.StringFlag{Name: "hash", Usage: "hex-encoded 32-byte hash to sign"},
	),
	Action: func(cCtx *cli.Context) error {
		hash, err := signingHash(cCtx.String("message"), cCtx.String("hash"), cCtx.IsSet("message"))
		if err != nil {
			return err
		}

		return withSession(cCtx, func(s *session) error {
			blob, err := s.loadKey(cCtx)
			if err != nil {
				return err
			}

			sig, err := s.gw.SignWithSealedKey(blob, []byte(cCtx.String(flagAAD.Name)), hash)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"hash":      hex.EncodeToString(hash),
				"signature": hex.EncodeToString(sig),
			})
		})
	},
}

func signingHash(message, hashHex string, hasMessage bool) ([]byte, error) {
	switch {
	case hasMessage && hashHex != "":
		return nil, errors.New("--message and --hash are mutually exclusive")
	case hasMessage:
		return crypto.Keccak256([]byte(message)), nil
	case hashHex != "":
		hash, err := hex.DecodeString(strings.TrimPrefix(hashHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid hash: %w", err)
		}
		if len(hash) != enclave.HashSize {
			return nil, fmt.Errorf("hash must be %d bytes", enclave.HashSize)
		}
		return hash, nil
	default:
		return nil, errors.New("one of --message or --hash is required")
	}
}

var sealCommand = &cli.Command{
	Name:  "seal",
	Usage: "seal a file and store the blob",
	Flags: commandFlags(
		flagAAD,
		&cli.StringFlag{Name: "in", Required: true, Usage: "file to seal"},
	),
	Action: func(cCtx *cli.Context) error {
		record, err := os.ReadFile(cCtx.String("in"))
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		return withSession(cCtx, func(s *session) error {
			blob, err := s.gw.Seal(record, []byte(cCtx.String(flagAAD.Name)), s.cfg.DisclosurePolicy())
			if err != nil {
				return err
			}

			id, err := s.store.PutSealedRecord(cCtx.Context, blob)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"id": id.String(), "size": len(blob)})
		})
	},
}

var unsealCommand = &cli.Command{
	Name:  "unseal",
	Usage: "load a stored sealed record and write its contents",
	Flags: commandFlags(
		flagID,
		flagAAD,
		&cli.StringFlag{Name: "out", Required: true, Usage: "output file"},
	),
	Action: func(cCtx *cli.Context) error {
		id, err := interfaces.NewContentIDFromHex(cCtx.String(flagID.Name))
		if err != nil {
			return err
		}

		return withSession(cCtx, func(s *session) error {
			blob, err := s.store.GetSealedRecord(cCtx.Context, id)
			if err != nil {
				return err
			}

			aad := []byte(cCtx.String(flagAAD.Name))
			overhead, err := enclave.CalcSealedSize(0, len(aad))
			if err != nil {
				return err
			}
			if len(blob) < overhead {
				return fmt.Errorf("%w: blob is shorter than its sealing overhead", interfaces.ErrIntegrity)
			}

			record, err := s.gw.Unseal(blob, aad, len(blob)-overhead)
			if err != nil {
				return err
			}
			if err := os.WriteFile(cCtx.String("out"), record, 0600); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return printJSON(map[string]any{"out": cCtx.String("out"), "size": len(record)})
		})
	},
}

func addressOf(pub interfaces.PublicKey) string {
	key, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return ""
	}
	return crypto.PubkeyToAddress(*key).Hex()
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
