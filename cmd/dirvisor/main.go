package main

import (
	"fmt"
	"os"

	"github.com/loykin/dirvisor/internal/process"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	// the spawn helper re-executes this binary; it must not reach cobra
	if process.IsHelper() {
		os.Exit(process.RunHelper())
	}

	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
