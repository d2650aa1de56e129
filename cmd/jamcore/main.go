// Package main provides the jamcore command-line tool.
//
// jamcore drives the audio transport core without a network: the simulate
// command pushes synthetic audio through a simulated lossy link, and the
// loopback command plays the sound card's input back through the same link.
// Configuration comes from $XDG_CONFIG_HOME/jamcore/jamcore.toml, JAMCORE_*
// environment variables and flags.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
