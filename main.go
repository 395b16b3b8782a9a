// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for rds-proxy.
//
// Usage:
//
//	go run . [flags]
//	./rds-proxy [flags]
//
// This launches the rds-proxy CLI. See --help for options.
package main

import (
	"os"

	"github.com/metosin/aws-tools/internal/cli"
)

// main is the entrypoint for the rds-proxy CLI.
func main() {
	if err := cli.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}
