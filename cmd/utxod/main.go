package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "utxod",
		Usage: "UTXO index node: maintain the unspent-output index and answer owner queries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "configuration file (TOML, YAML or JSON)",
				EnvVars: []string{"UTXOD_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "memory",
				Usage: "keep all stores in memory",
			},
		},
		Commands: []*cli.Command{
			keygenCommand,
			initCommand,
			mintCommand,
			sendCommand,
			reindexCommand,
			utxosCommand,
			balanceCommand,
			spendableCommand,
			serveCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
