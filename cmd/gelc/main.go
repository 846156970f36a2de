// Package main provides gelc, the command-line front end of the IR to
// SQL tree compiler.
package main

import (
	"os"

	"github.com/geldata/gel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
