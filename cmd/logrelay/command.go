//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

var (
	// ErrSilentExit makes a command exit with status 1 without printing an error.
	ErrSilentExit = errors.New("silent exit")
	// ErrUnknownCommand is returned for a command name no command answers to.
	ErrUnknownCommand = errors.New("unknown command")
)

// ExitCodeError carries the exit status of a command that ran a child process.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewExitCodeError returns an error that makes the command exit with code.
func NewExitCodeError(code int) error {
	return &ExitCodeError{Code: code}
}

// Command is a subcommand of logrelay.
type Command struct {
	Flags   *flag.FlagSet
	Usage   string // "name [flags] <args>"; the first word is the command name
	Short   string
	Long    string
	Aliases []string
	Exec    func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error
}

// Name returns the command name taken from Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the one-line summary shown in the global help.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-24s %s", c.Usage, c.Short)
}

// Run parses args and executes the command. Returns the exit code.
func (c *Command) Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
	c.Flags.Usage = func() {}
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		c.printUsage(stderr)

		return 1
	}

	if help, _ := c.Flags.GetBool("help"); help {
		c.printUsage(stdout)

		return 0
	}

	err = c.Exec(ctx, stdin, stdout, stderr, c.Flags.Args())
	if err == nil {
		return 0
	}

	if errors.Is(err, ErrSilentExit) {
		return 1
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	fprintError(stderr, err)

	return 1
}

func (c *Command) printUsage(output io.Writer) {
	fprintln(output, "Usage: logrelay "+c.Usage)
	fprintln(output)

	if c.Long != "" {
		fprintln(output, c.Long)
		fprintln(output)
	}

	fprintln(output, "Flags:")
	fprint(output, c.Flags.FlagUsages())
}
