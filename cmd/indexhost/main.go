// Package main provides the entry point for the indexhost CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/indexhost/cmd/indexhost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
