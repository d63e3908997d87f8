// Package main is the entry point for the trahl application.
package main

import (
	"os"

	"github.com/trahl-dev/trahl/cmd/trahl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
