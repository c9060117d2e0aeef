// Package main provides the entry point for redstore-cli.
//
// redstore-cli is the command-line client for redstore, supporting both
// single-command mode and interactive REPL mode.
package main

import (
	"fmt"
	"os"

	"github.com/yxlane/redstore-go/internal/cli/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
