//go:build linux

package logrelay

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// LifetimeExtender decouples a started sink from the supervisor's lifetime,
// so the sink keeps running when the supervisor (or the service unit wrapping
// it) is stopped.
//
// ExtendLifetime is best effort. A returned error is logged and the setup
// proceeds.
type LifetimeExtender interface {
	ExtendLifetime(pid int) error
}

// SessionDetacher amends the process attributes of a sink before it starts so
// that signals aimed at the supervisor's session or process group do not reach
// it.
type SessionDetacher interface {
	Detach(attr *syscall.SysProcAttr)
}

// NoopExtender leaves the sink where it was started.
type NoopExtender struct{}

func (NoopExtender) ExtendLifetime(int) error { return nil }

// CgroupExtender moves sinks into the cgroup at Dir, typically a cgroup owned
// by a different service unit than the supervisor's. An empty Dir disables it.
type CgroupExtender struct {
	Dir string
}

func (c CgroupExtender) ExtendLifetime(pid int) error {
	if c.Dir == "" {
		return nil
	}

	if pid <= 0 {
		return fmt.Errorf("cgroup %s: invalid pid %d", c.Dir, pid)
	}

	procs := filepath.Join(c.Dir, "cgroup.procs")

	f, err := os.OpenFile(procs, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", procs, err)
	}

	_, writeErr := f.WriteString(strconv.Itoa(pid))
	closeErr := f.Close()

	if writeErr != nil {
		return fmt.Errorf("moving pid %d to %s: %w", pid, c.Dir, writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", procs, closeErr)
	}

	return nil
}

// SetsidDetacher starts sinks in a new session and clears any parent-death
// signal.
type SetsidDetacher struct{}

func (SetsidDetacher) Detach(attr *syscall.SysProcAttr) {
	attr.Setsid = true
	attr.Setpgid = false
	attr.Pdeathsig = 0
}
