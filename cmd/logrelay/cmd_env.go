//go:build linux

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/calvinalkan/container-logger/logrelay"
	flag "github.com/spf13/pflag"
)

// EnvCmd creates the env command, which prints the environment sinks are
// started with.
func EnvCmd(cfg *Config, env map[string]string) *Command {
	flags := flag.NewFlagSet("env", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.Int("worker-threads", 0, "Sink worker thread `count` (overrides config)")

	return &Command{
		Flags: flags,
		Usage: "env [flags]",
		Short: "Print the sink environment",
		Long:  "Print the environment a sink would be started with, derived from the\ncurrent environment, one KEY=VALUE per line sorted by key.",
		Exec: func(_ context.Context, _ io.Reader, stdout, _ io.Writer, _ []string) error {
			workerThreads := cfg.WorkerThreads
			if flags.Changed("worker-threads") {
				workerThreads, _ = flags.GetInt("worker-threads")
			}

			if workerThreads <= 0 {
				return fmt.Errorf("%w: got %d", ErrInvalidWorkerThreads, workerThreads)
			}

			for _, kv := range logrelay.EnvironSlice(logrelay.ComposeEnvironment(env, workerThreads)) {
				fprintln(stdout, kv)
			}

			return nil
		},
	}
}
