// Package main provides the entry point for the ei CLI.
package main

import (
	"fmt"
	"os"

	"github.com/eicompanion/ei/cmd/ei/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
