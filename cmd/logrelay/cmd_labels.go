//go:build linux

package main

import (
	"context"
	"io"

	"github.com/calvinalkan/container-logger/logrelay"
	flag "github.com/spf13/pflag"
)

// LabelsCmd creates the labels command, which prints the label set a sink
// would receive for a workload.
func LabelsCmd() *Command {
	flags := flag.NewFlagSet("labels", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.Bool("json", false, "Print only the JSON document, without the flag name")
	addIdentityFlags(flags)

	return &Command{
		Flags: flags,
		Usage: "labels [flags]",
		Short: "Print the sink labels for a workload",
		Long:  "Print the labels argument passed to both sinks of a workload: extra labels\nfirst, then FRAMEWORK_ID, EXECUTOR_ID and CONTAINER_ID.",
		Exec: func(_ context.Context, _ io.Reader, stdout, _ io.Writer, _ []string) error {
			id, err := identityFromFlags(flags)
			if err != nil {
				return err
			}

			labels := logrelay.BuildLabels(id)

			var out string

			if asJSON, _ := flags.GetBool("json"); asJSON {
				out, err = labels.JSON()
			} else {
				out, err = labels.Flag()
			}

			if err != nil {
				return err
			}

			fprintln(stdout, out)

			return nil
		},
	}
}
