//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Run is the main entry point. Returns exit code.
// sigCh can be nil if signal handling is not needed (e.g., in tests).
func Run(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("logrelay", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagVersion := globalFlags.BoolP("version", "v", false, "Show version and exit")
	flagConfig := globalFlags.String("config", "", "Use specified config `file`")
	flagDebug := globalFlags.Bool("debug", false, "Log at debug level")

	err := globalFlags.Parse(args[1:])
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		printGlobalOptions(stderr)

		return 1
	}

	if *flagVersion {
		if commit == "none" && date == "unknown" {
			fprintf(stdout, "logrelay %s (built from source)\n", version)
		} else {
			fprintf(stdout, "logrelay %s (%s, %s)\n", version, commit, date)
		}

		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := LoadConfig(LoadConfigInput{
		ConfigPath: *flagConfig,
		Env:        env,
	})
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	if *flagDebug {
		cfg.Log.Level = "debug"
	}

	log, err := NewLogger(stderr, cfg.Log)
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	defer func() { _ = log.Sync() }()

	log.Debug("configuration loaded",
		zap.String("companion_dir", cfg.CompanionDir),
		zap.String("sink_name", cfg.SinkName),
		zap.Int("worker_threads", cfg.WorkerThreads),
		zap.String("lifetime_cgroup", cfg.LifetimeCgroup),
		zap.Strings("config_files", cfg.LoadedFrom),
	)

	commands := []*Command{
		RunCmd(&cfg, env, log),
		EnvCmd(&cfg, env),
		LabelsCmd(),
	}

	commandMap := make(map[string]*Command, len(commands)*2)
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases {
			commandMap[alias] = cmd
		}
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(stdout, commands)

		return 0
	}

	cmd, ok := commandMap[commandAndArgs[0]]
	if !ok {
		fprintError(stderr, fmt.Errorf("%w: %q", ErrUnknownCommand, commandAndArgs[0]))
		fprintln(stderr)
		printGlobalOptions(stderr)

		return 1
	}

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, stdin, stdout, stderr, commandAndArgs[1:])
	}()

	if sigCh == nil {
		return <-done
	}

	select {
	case exitCode := <-done:
		return exitCode
	case <-sigCh:
		fprintln(stderr, "Interrupted, waiting up to 10s for cleanup... (Ctrl+C again to force exit)")
		cancel()
	}

	select {
	case <-done:
		fprintln(stderr, "Cleanup complete.")

		return 130
	case <-time.After(10 * time.Second):
		fprintln(stderr, "Cleanup timed out, forced exit.")

		return 130
	case <-sigCh:
		fprintln(stderr, "Forced exit.")

		return 130
	}
}

func fprint(output io.Writer, a ...any) {
	_, _ = fmt.Fprint(output, a...)
}

func fprintln(output io.Writer, a ...any) {
	_, _ = fmt.Fprintln(output, a...)
}

func fprintf(output io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(output, format, a...)
}

// ANSI color codes for terminal output.
const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// fprintError prints an error message with optional red coloring for TTY.
func fprintError(output io.Writer, err error) {
	if IsTerminal() {
		fprintln(output, colorRed+"error:"+colorReset, err)
	} else {
		fprintln(output, "error:", err)
	}
}

const globalOptionsHelp = `  -h, --help             Show help
  -v, --version          Show version and exit
      --config <file>    Use specified config file
      --debug            Log at debug level`

func printGlobalOptions(output io.Writer) {
	fprintln(output, "Usage: logrelay [flags] <command> [args]")
	fprintln(output)
	fprintln(output, "Global flags:")
	fprintln(output, globalOptionsHelp)
	fprintln(output)
	fprintln(output, "Run 'logrelay --help' for a list of commands.")
}

func printUsage(output io.Writer, commands []*Command) {
	fprintln(output, "logrelay - relay container stdout/stderr to log sink processes")
	fprintln(output)
	fprintln(output, "Usage: logrelay [flags] <command> [args]")
	fprintln(output)
	fprintln(output, "Flags:")
	fprintln(output, globalOptionsHelp)
	fprintln(output)
	fprintln(output, "Commands:")

	for _, cmd := range commands {
		fprintln(output, cmd.HelpLine())
	}

	fprintln(output)
	fprintln(output, "Run 'logrelay <command> --help' for more information on a command.")
}

// isTerminal reports whether stdin is a terminal. Tests override it.
var isTerminal = func() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	return (stat.Mode() & os.ModeCharDevice) != 0
}

// IsTerminal returns true if stdin is a terminal.
func IsTerminal() bool {
	return isTerminal()
}
