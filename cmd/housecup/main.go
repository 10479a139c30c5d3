// Command housecup runs the House Cup points engine: the HTTP API, the
// scheduled jobs and the operator tools that share its configuration.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}
