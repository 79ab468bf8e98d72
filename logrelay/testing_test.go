//go:build linux

package logrelay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Test sinks - shell scripts that record what they were started with
// ============================================================================

const waitTimeout = 5 * time.Second

// testSink is a sink script in its own companion directory. Every started
// instance appends its pid to <records>/pids, writes its argv to
// <records>/args.<pid> and its environment to <records>/env.<pid>, then copies
// stdin to <records>/out.<pid>.
type testSink struct {
	CompanionDir string
	Path         string
	Records      string
}

func newTestSink(t *testing.T) *testSink {
	t.Helper()

	return newTestSinkWithPrelude(t, "")
}

// newTestSinkWithPrelude is newTestSink with extra shell lines run before the
// sink starts copying stdin.
func newTestSinkWithPrelude(t *testing.T, prelude string) *testSink {
	t.Helper()

	companion := t.TempDir()
	records := t.TempDir()

	script := fmt.Sprintf(`#!/bin/sh
R=%q
echo "$$" >> "$R/pids"
printf '%%s\n' "$@" > "$R/args.$$"
env > "$R/env.$$"
%s
exec cat > "$R/out.$$"
`, records, prelude)

	path := filepath.Join(companion, DefaultSinkName)
	mustWriteFile(t, path, []byte(script), 0o755)

	return &testSink{CompanionDir: companion, Path: path, Records: records}
}

// waitPids waits until n sink instances have recorded their pid.
func (s *testSink) waitPids(t *testing.T, n int) []int {
	t.Helper()

	var pids []int

	waitFor(t, fmt.Sprintf("%d sink pids", n), func() bool {
		data, err := os.ReadFile(filepath.Join(s.Records, "pids"))
		if err != nil {
			return false
		}

		pids = pids[:0]

		for _, line := range strings.Fields(string(data)) {
			pid, err := strconv.Atoi(line)
			if err != nil {
				t.Fatalf("bad pid line %q", line)
			}

			pids = append(pids, pid)
		}

		return len(pids) >= n
	})

	return pids
}

// waitRecord waits until the sink with pid has written a non-empty record of
// the given kind ("args", "env", "out") and returns it.
func (s *testSink) waitRecord(t *testing.T, kind string, pid int) string {
	t.Helper()

	path := filepath.Join(s.Records, kind+"."+strconv.Itoa(pid))

	var content string

	waitFor(t, path, func() bool {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return false
		}

		content = string(data)

		return true
	})

	return content
}

// ============================================================================
// Process and descriptor helpers
// ============================================================================

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

// processGone reports whether pid has exited. Zombies count as gone.
func processGone(pid int) bool {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return true
	}

	stat, err := proc.Stat()
	if err != nil {
		return true
	}

	return stat.State == "Z"
}

func waitGone(t *testing.T, pid int) {
	t.Helper()

	waitFor(t, fmt.Sprintf("pid %d to exit", pid), func() bool { return processGone(pid) })
}

// openFDs returns the number of descriptors open in the test process.
func openFDs(t *testing.T) int {
	t.Helper()

	self, err := procfs.Self()
	if err != nil {
		t.Fatalf("procfs.Self: %v", err)
	}

	n, err := self.FileDescriptorsLen()
	if err != nil {
		t.Fatalf("FileDescriptorsLen: %v", err)
	}

	return n
}

// pipeTarget returns the /proc fd link target of the pipe f belongs to.
func pipeTarget(t *testing.T, f *os.File) string {
	t.Helper()

	var st unix.Stat_t

	err := unix.Fstat(int(f.Fd()), &st)
	if err != nil {
		t.Fatalf("fstat: %v", err)
	}

	return "pipe:[" + strconv.FormatUint(st.Ino, 10) + "]"
}

// fdTargets maps each descriptor of pid to its link target.
func fdTargets(t *testing.T, pid int) map[int]string {
	t.Helper()

	dir := filepath.Join("/proc", strconv.Itoa(pid), "fd")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}

	out := make(map[int]string, len(entries))

	for _, entry := range entries {
		fd, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		target, err := os.Readlink(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}

		out[fd] = target
	}

	return out
}

func isCloexec(t *testing.T, f *os.File) bool {
	t.Helper()

	flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("F_GETFD: %v", err)
	}

	return flags&unix.FD_CLOEXEC != 0
}

// ============================================================================
// Hook doubles
// ============================================================================

type recordingExtender struct {
	pids chan int
	err  error
}

func newRecordingExtender(err error) *recordingExtender {
	return &recordingExtender{pids: make(chan int, 16), err: err}
}

func (r *recordingExtender) ExtendLifetime(pid int) error {
	r.pids <- pid

	return r.err
}

func (r *recordingExtender) recorded() []int {
	var out []int

	for {
		select {
		case pid := <-r.pids:
			out = append(out, pid)
		default:
			return out
		}
	}
}

type recordingDetacher struct {
	calls int
}

func (r *recordingDetacher) Detach(attr *syscall.SysProcAttr) {
	r.calls++
	SetsidDetacher{}.Detach(attr)
}

// blockingExtender blocks every ExtendLifetime call until release is closed.
type blockingExtender struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingExtender() *blockingExtender {
	return &blockingExtender{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingExtender) ExtendLifetime(int) error {
	b.entered <- struct{}{}
	<-b.release

	return nil
}

// ============================================================================
// Misc
// ============================================================================

var errInjected = errors.New("injected failure")

func testEnv() map[string]string {
	return map[string]string{"PATH": os.Getenv("PATH")}
}

func mustWriteFile(t *testing.T, path string, data []byte, perm os.FileMode) {
	t.Helper()

	err := os.WriteFile(path, data, perm)
	if err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func mustClose(t *testing.T, r Result) {
	t.Helper()

	err := r.Close()
	if err != nil {
		t.Fatalf("closing result: %v", err)
	}
}
