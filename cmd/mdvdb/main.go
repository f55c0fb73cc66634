// Package main provides the entry point for the mdvdb CLI.
package main

import (
	"os"

	"github.com/kestrel-dev/mdvdb/cmd/mdvdb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
