// Package main provides the entry point for the fixhow CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/fixhow/fixhow/internal/cli"
)

func main() {
	// Optional; API keys usually live in the environment already.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
