// ============================================================================
// Instant Recovery CLI - Main Entry Point
// ============================================================================
//
// File: cmd/ircli/main.go
// Purpose: application entry point and CLI initialization, adapted from
// cmd/queue/main.go's panic-recovery + version-injection shape.
//
// Usage:
//   ./ircli --help                        # Show help
//   ./ircli --version                     # Show version
//   ./ircli run -c configs/default.yaml   # Start the recovery engine
//   ./ircli status -c configs/default.yaml
//   ./ircli checkpoint
//   ./ircli validate-config -c configs/default.yaml
//   ./ircli restart-sim -c configs/default.yaml
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/raft-recovery/internal/cli"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
