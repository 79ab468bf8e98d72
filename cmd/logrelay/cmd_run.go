//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/calvinalkan/container-logger/logrelay"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

// ErrNoCommand is returned when run is called without a workload command.
var ErrNoCommand = errors.New("no command specified")

// RunCmd creates the run command, which prepares a relay for a workload and
// runs the workload with its stdout and stderr bound to the relay.
func RunCmd(cfg *Config, env map[string]string, log *zap.Logger) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetInterspersed(false) // Stop parsing at command
	flags.BoolP("help", "h", false, "Show help")
	flags.String("companion-dir", "", "Directory holding the sink executable (overrides config)")
	flags.String("sink-name", "", "Sink executable `name` in the companion directory (overrides config)")
	flags.Int("worker-threads", 0, "Sink worker thread `count` (overrides config)")
	flags.String("lifetime-cgroup", "", "Cgroup `dir` sinks are moved into after start (overrides config)")
	addIdentityFlags(flags)

	return &Command{
		Flags: flags,
		Usage: "run [flags] <command> [args]",
		Short: "Run a command with its output relayed to sinks",
		Long: "Start one sink for stdout and one for stderr, then run the command with its\n" +
			"output bound to them. Exits with the command's exit code.",
		Exec: func(ctx context.Context, stdin io.Reader, _, _ io.Writer, args []string) error {
			if len(args) == 0 {
				return ErrNoCommand
			}

			applyRunFlags(cfg, flags)

			err := cfg.Validate()
			if err != nil {
				return err
			}

			id, err := identityFromFlags(flags)
			if err != nil {
				return err
			}

			relay, err := logrelay.Start(logrelay.Config{
				CompanionDir:  cfg.CompanionDir,
				SinkName:      cfg.SinkName,
				WorkerThreads: cfg.WorkerThreads,
				Environment:   env,
				Hooks: logrelay.Hooks{
					Lifetime: logrelay.CgroupExtender{Dir: cfg.LifetimeCgroup},
				},
				Log: log,
			})
			if err != nil {
				return err
			}

			defer relay.Stop()

			res, err := relay.Prepare(ctx, logrelay.Request{Identity: id})
			if err != nil {
				return err
			}

			exitCode, err := runWorkload(ctx, args, env, stdin, res, log)
			if err != nil {
				return err
			}

			return NewExitCodeError(exitCode)
		},
	}
}

// applyRunFlags applies CLI flag overrides to the config.
// Only flags that were explicitly set override config values.
func applyRunFlags(cfg *Config, flags *flag.FlagSet) {
	if flags.Changed("companion-dir") {
		cfg.CompanionDir, _ = flags.GetString("companion-dir")
	}

	if flags.Changed("sink-name") {
		cfg.SinkName, _ = flags.GetString("sink-name")
	}

	if flags.Changed("worker-threads") {
		cfg.WorkerThreads, _ = flags.GetInt("worker-threads")
	}

	if flags.Changed("lifetime-cgroup") {
		cfg.LifetimeCgroup, _ = flags.GetString("lifetime-cgroup")
	}
}

// runWorkload runs command with stdout and stderr bound to the relay write
// ends and returns its exit code. The write ends are closed once the workload
// holds its own copies, so the sinks see EOF when it exits.
//
// When ctx is cancelled, SIGTERM is sent to the workload.
func runWorkload(
	ctx context.Context,
	command []string,
	env map[string]string,
	stdin io.Reader,
	res logrelay.Result,
	log *zap.Logger,
) (int, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = res.Out
	cmd.Stderr = res.Err
	cmd.Env = logrelay.EnvironSlice(env)

	err := cmd.Start()

	closeErr := res.Close()
	if closeErr != nil {
		log.Warn("closing relay write ends", zap.Error(closeErr))
	}

	if err != nil {
		return 1, fmt.Errorf("starting %s: %w", command[0], err)
	}

	log.Info("workload started", zap.Int("pid", cmd.Process.Pid), zap.Strings("command", command))

	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
		case <-done:
		}
	}()

	err = cmd.Wait()

	close(done)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return workloadExitCode(exitErr), nil
		}

		return 1, fmt.Errorf("waiting for %s: %w", command[0], err)
	}

	return 0, nil
}

// workloadExitCode follows the shell convention of 128+signal for a workload killed
// by a signal.
func workloadExitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}

	return exitErr.ExitCode()
}
