// Package main is the entry point for the glycemia command
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mrcode/glycemia/internal/commands"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "0.0.0-dev"

func main() {
	if err := commands.NewRootCmd(Version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
