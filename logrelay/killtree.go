//go:build linux

package logrelay

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// killTree sends sig to pid, to its process group, and to every descendant
// found in /proc. The tree is stopped first so that it cannot fork new
// children while it is being walked.
func killTree(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return internalErrorf("killTree", "invalid pid %d", pid)
	}

	var errs []error

	record := func(err error) {
		if err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, err)
		}
	}

	record(unix.Kill(pid, unix.SIGSTOP))

	descendants, err := descendantsOf(pid)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing descendants of %d: %w", pid, err))
	}

	for _, child := range descendants {
		record(unix.Kill(child, unix.SIGSTOP))
	}

	// Sinks run as session leaders, so their pid is also their process group id.
	// A group that does not exist yields ESRCH, which is ignored.
	record(unix.Kill(-pid, sig))

	for _, p := range append([]int{pid}, descendants...) {
		record(unix.Kill(p, sig))
		record(unix.Kill(p, unix.SIGCONT))
	}

	return errors.Join(errs...)
}

// descendantsOf returns the pids of all processes below pid, parents before
// children.
func descendantsOf(pid int) ([]int, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, err
	}

	children := make(map[int][]int, len(procs))

	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			// The process exited while /proc was being read.
			continue
		}

		children[stat.PPID] = append(children[stat.PPID], stat.PID)
	}

	var out []int

	queue := []int{pid}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for _, child := range children[parent] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}

	return out, nil
}
