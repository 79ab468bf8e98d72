//go:build linux

// Command logrelay prepares stdout/stderr log relays for container workloads.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinalkan/container-logger/logrelay"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	os.Exit(Run(os.Stdin, os.Stdout, os.Stderr, os.Args, logrelay.EnvironFromOS(), sigCh))
}
