// Package main is the entry point for the heatmap reporting backend.
package main

import (
	"fmt"
	"os"

	"github.com/dp-cuteam/yclients-heatmap/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
