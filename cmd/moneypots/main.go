// Package main is the entry point for the moneypots CLI.
package main

import (
	"os"

	"github.com/wrenhall/moneypots/cmd/moneypots/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
