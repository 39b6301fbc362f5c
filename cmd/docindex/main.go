// Package main provides the entry point for the docindex CLI.
package main

import (
	"fmt"
	"os"

	"github.com/docindex/docindex/cmd/docindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
