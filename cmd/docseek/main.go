// Package main provides the entry point for the docseek CLI.
package main

import (
	"os"

	"github.com/docseek/docseek/cmd/docseek/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
