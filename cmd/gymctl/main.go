// Command gymctl is the front-desk operator CLI: it prices drafts against
// the plan catalog seed and mints operator API keys, without a running server.
package main

import (
	"fmt"
	"os"
)

// Build info - set by ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
