// Command kake is a thin CLI front end over internal/engine: it resolves
// CLI target arguments to a build plan, runs it, and renders the resulting
// diagnostics report. Rule registration itself is a host/Go-code concern —
// see registerDemoRules for the illustrative set this binary ships with.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
