//go:build linux

package logrelay

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// pipelineInput is what one relay pipeline needs beyond its direction.
type pipelineInput struct {
	sinkPath   string
	env        []string
	labelsFlag string
	log        *zap.Logger
}

// sinkProcess is a started sink. It is tracked only until the setup that
// started it either succeeds (release) or rolls back (kill).
type sinkProcess struct {
	cmd *exec.Cmd
}

func (s *sinkProcess) pid() int {
	return s.cmd.Process.Pid
}

// kill terminates the sink's whole process tree and reaps the sink.
func (s *sinkProcess) kill() error {
	err := killTree(s.pid(), unix.SIGKILL)

	// The sink was killed, so a non-nil wait error is expected.
	_ = s.cmd.Wait()

	return err
}

// release stops tracking the sink. A background goroutine reaps it once its
// pipe reaches EOF.
func (s *sinkProcess) release(log *zap.Logger) {
	go func() {
		err := s.cmd.Wait()
		log.Debug("sink exited", zap.Int("pid", s.cmd.Process.Pid), zap.Error(err))
	}()
}

// setupPipeline allocates a pipe for one direction and starts a sink reading
// its read end. On success the caller owns the returned write end and sink;
// on failure nothing allocated here survives.
func (r *Relay) setupPipeline(dir Direction, in pipelineInput) (*os.File, *sinkProcess, error) {
	read, write, err := r.openPipe(dir)
	if err != nil {
		return nil, nil, err
	}

	defer func() { _ = read.Close() }()
	defer func() { _ = write.Close() }()

	cmd := &exec.Cmd{
		Path:        in.sinkPath,
		Args:        []string{filepath.Base(in.sinkPath), in.labelsFlag},
		Env:         in.env,
		Stdin:       read.File(),
		Stdout:      nil, // os/exec binds /dev/null
		Stderr:      os.Stderr,
		SysProcAttr: &syscall.SysProcAttr{},
	}

	r.hooks.Session.Detach(cmd.SysProcAttr)

	err = r.sys.start(cmd)
	if err != nil {
		return nil, nil, &Error{Kind: KindSpawnFailed, Direction: dir, Err: fmt.Errorf("starting %s: %w", in.sinkPath, err)}
	}

	// The sink holds its own copy of the read end as fd 0.
	_ = read.Close()

	sink := &sinkProcess{cmd: cmd}

	err = r.hooks.Lifetime.ExtendLifetime(sink.pid())
	if err != nil {
		in.log.Warn("extending sink lifetime failed",
			zap.String("direction", string(dir)),
			zap.Int("pid", sink.pid()),
			zap.Error(err),
		)
	}

	in.log.Debug("sink started",
		zap.String("direction", string(dir)),
		zap.Int("pid", sink.pid()),
	)

	return write.Release(), sink, nil
}

// openPipe allocates a pipe with close-on-exec set on both ends.
//
// The pipe is created without O_CLOEXEC and the flag is applied afterwards, all
// under syscall.ForkLock so that no concurrent fork in this process can
// inherit either end in between. The write end must never reach a sink: a
// sink holding a write end of its own pipe never sees EOF.
func (r *Relay) openPipe(dir Direction) (ownedFile, ownedFile, error) {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()

	fds := make([]int, 2)

	err := r.sys.pipe2(fds, 0)
	if err != nil {
		return ownedFile{}, ownedFile{}, &Error{Kind: KindResourceExhausted, Direction: dir, Err: fmt.Errorf("creating pipe: %w", err)}
	}

	readFile := os.NewFile(uintptr(fds[0]), "logrelay-"+string(dir)+"-read")
	writeFile := os.NewFile(uintptr(fds[1]), "logrelay-"+string(dir)+"-write")

	if readFile == nil || writeFile == nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])

		return ownedFile{}, ownedFile{}, internalErrorf("openPipe", "os.NewFile returned nil for pipe %v", fds)
	}

	read, write := own(readFile), own(writeFile)

	for _, fd := range []int{fds[1], fds[0]} {
		_, err = r.sys.fcntl(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
		if err != nil {
			_ = read.Close()
			_ = write.Close()

			return ownedFile{}, ownedFile{}, &Error{Kind: KindSetupFailed, Direction: dir, Err: fmt.Errorf("setting close-on-exec on fd %d: %w", fd, err)}
		}
	}

	return read, write, nil
}
