//go:build linux

package main

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/container-logger/logrelay"
	flag "github.com/spf13/pflag"
)

// ErrMissingIdentity is returned when a workload identity flag is not set.
var ErrMissingIdentity = errors.New("missing workload identity")

func addIdentityFlags(flags *flag.FlagSet) {
	flags.String("framework-id", "", "Framework `id` of the workload")
	flags.String("executor-id", "", "Executor `id` of the workload")
	flags.String("sandbox", "", "Sandbox `dir`ectory; its last component is the container id")
	flags.StringArray("label", nil, "Extra sink label `KEY=VALUE` (repeatable)")
}

// identityFromFlags builds the workload identity from the flags added by
// addIdentityFlags. All three ids are required.
func identityFromFlags(flags *flag.FlagSet) (logrelay.WorkloadIdentity, error) {
	frameworkID, _ := flags.GetString("framework-id")
	executorID, _ := flags.GetString("executor-id")
	sandbox, _ := flags.GetString("sandbox")

	required := []struct{ flag, value string }{
		{"--framework-id", frameworkID},
		{"--executor-id", executorID},
		{"--sandbox", sandbox},
	}

	for _, r := range required {
		if r.value == "" {
			return logrelay.WorkloadIdentity{}, fmt.Errorf("%w: %s is required", ErrMissingIdentity, r.flag)
		}
	}

	raw, _ := flags.GetStringArray("label")

	labels := make([]logrelay.Label, 0, len(raw))

	for _, s := range raw {
		label, err := logrelay.ParseLabel(s)
		if err != nil {
			return logrelay.WorkloadIdentity{}, err
		}

		labels = append(labels, label)
	}

	return logrelay.WorkloadIdentity{
		FrameworkID:      frameworkID,
		ExecutorID:       executorID,
		SandboxDirectory: sandbox,
		Labels:           labels,
	}, nil
}
