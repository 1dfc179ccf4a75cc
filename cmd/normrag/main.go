// Package main provides the entry point for the normrag CLI.
package main

import (
	"os"

	"github.com/normatech/normrag/cmd/normrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
