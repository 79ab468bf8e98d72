//go:build linux

// Package logrelay connects a workload's stdout and stderr to external log sink
// processes.
//
// For every workload the relay allocates two pipes and starts one sink process
// per pipe. The sink reads the workload's output from its stdin and receives the
// workload's identity as a JSON labels flag on its command line. The caller gets
// back the two pipe write ends and wires them into the workload.
//
// # Ownership
//
// Setup is all-or-nothing. On success the caller is the sole owner of exactly two
// write ends, each backed by a running sink. On failure every descriptor and
// every sink started by the call has been released before the error is
// returned.
//
// Sinks are started in a new session and are not tied to the lifetime of the
// supervising process. Once handed off, a sink runs until its pipe reaches EOF
// (all write ends closed) and is reaped in the background.
//
// # Serialization
//
// [Relay] performs one setup synchronously on the calling goroutine. [Logger]
// wraps a Relay in a single actor goroutine so concurrent requests are
// processed strictly one at a time.
//
// This package is Linux-only.
package logrelay

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultSinkName is the file name of the sink executable inside the companion
// directory.
const DefaultSinkName = "journald-logger"

// Direction identifies which workload stream a pipeline carries.
type Direction string

const (
	DirectionOut Direction = "out"
	DirectionErr Direction = "err"
)

// WorkloadIdentity identifies the workload whose output is relayed.
//
// The container id is not passed explicitly; it is the final path component of
// SandboxDirectory.
type WorkloadIdentity struct {
	FrameworkID      string
	ExecutorID       string
	SandboxDirectory string

	// Labels are caller-supplied labels. They precede the identity labels in the
	// set handed to the sink.
	Labels []Label
}

// ContainerID returns the container id derived from the sandbox directory.
func (w WorkloadIdentity) ContainerID() string {
	return filepath.Base(w.SandboxDirectory)
}

// Result holds the caller-owned write ends of a successful setup.
type Result struct {
	Out *os.File
	Err *os.File
}

// Close closes both write ends. The sinks see EOF and exit once every other
// copy of the write ends is closed as well.
func (r Result) Close() error {
	return closeFiles(r.Out, r.Err)
}

// Hooks are the process capabilities applied to every sink.
type Hooks struct {
	// Lifetime runs in the supervisor right after a sink has started.
	// Defaults to [NoopExtender].
	Lifetime LifetimeExtender

	// Session amends the sink's process attributes before it starts.
	// Defaults to [SetsidDetacher].
	Session SessionDetacher
}

// Relay performs relay setups. A Relay holds no per-setup state; it is safe
// for concurrent use, although [Logger] never uses it concurrently.
type Relay struct {
	hooks Hooks
	log   *zap.Logger
	sys   sysOps
}

// NewRelay returns a Relay applying hooks to every sink. A nil log discards
// log output.
func NewRelay(hooks Hooks, log *zap.Logger) *Relay {
	if hooks.Lifetime == nil {
		hooks.Lifetime = NoopExtender{}
	}

	if hooks.Session == nil {
		hooks.Session = SetsidDetacher{}
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Relay{
		hooks: hooks,
		log:   log,
		sys:   defaultSysOps(),
	}
}

// sysOps are the system calls a setup depends on. Tests replace individual
// entries to force failures at a given step.
type sysOps struct {
	pipe2 func(fds []int, flags int) error
	fcntl func(fd uintptr, cmd, arg int) (int, error)
	start func(cmd *exec.Cmd) error
}

func defaultSysOps() sysOps {
	return sysOps{
		pipe2: unix.Pipe2,
		fcntl: unix.FcntlInt,
		start: (*exec.Cmd).Start,
	}
}

// internalErrorf reports an internal invariant violation.
func internalErrorf(op, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)

	if op == "" {
		return fmt.Errorf("logrelay: internal error: %s", detail)
	}

	return fmt.Errorf("logrelay: internal error: %s: %s", op, detail)
}
