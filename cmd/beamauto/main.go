// Command beamauto operates a beamline's Automator and pump-flow engine
// from the command line, one action at a time or interactively via the
// console subcommand.
package main

import (
	"fmt"
	"os"

	"beamauto/cmd/beamauto/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
