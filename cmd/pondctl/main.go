// Package main is the entry point for the pondwatch operator CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/pondwatch/cmd/pondctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
