// Package main is the pipeline-sentry entry point.
package main

import (
	"fmt"
	"os"

	"github.com/nathantilsley/pipeline-sentry/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
