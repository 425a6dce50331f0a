// Package main is the entry point for the duckbi binary.
package main

import (
	"os"

	cli "duck-bi/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
