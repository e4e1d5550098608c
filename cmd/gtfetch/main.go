// Package main is the entry point for the gtfetch CLI.
package main

import (
	"os"

	"github.com/jmylchreest/gtfetch/cmd/gtfetch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
