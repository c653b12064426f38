// Package main runs the offload benchmark: the same payload inline on an
// event loop, then offloaded through the executor, and prints the comparison.
package main

import (
	"os"

	"github.com/aristath/sentinel-offload/internal/pool/procpool"
)

func main() {
	// Worker children never return from here
	procpool.MaybeServe()

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
