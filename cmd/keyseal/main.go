package main

import (
	"log"
	"os"

	"github.com/ruteri/tee-keyseal/cmd/flags"
	"github.com/ruteri/tee-keyseal/common"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "keyseal",
		Usage:   "Generate, seal and use secp256k1 keys inside an emulated enclave",
		Version: common.Version,
		Flags:   append([]cli.Flag{flags.LogServiceFlagFn("keyseal")}, flags.CommonFlags...),
		Commands: []*cli.Command{
			genAuthorityCommand,
			signModuleCommand,
			identityCommand,
			rootKeyCommand,
			keygenCommand,
			pubkeyCommand,
			signCommand,
			sealCommand,
			unsealCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
