package child

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"stracefuzz/pkg/stream"
)

// TracerHandle is the external ptrace-based observer process (typically
// strace). Its stderr is captured through a dedicated, non-blocking pipe
// read by the parent.
type TracerHandle struct {
	base

	Executable string   // tracer binary, default "strace"
	ExtraArgs  []string // e.g. ["-e", fault.Directive()]

	errFD  int
	reader *stream.Reader
}

// NewTracerHandle constructs a handle that, once Spawn is given the pid to
// attach to, runs executable (e.g. "strace") with any extraArgs appended
// after "-p <pid>".
func NewTracerHandle(program, executable string, extraArgs []string) *TracerHandle {
	if executable == "" {
		executable = "strace"
	}
	return &TracerHandle{base: base{program: program}, Executable: executable, ExtraArgs: extraArgs}
}

// Spawn forks and execs the tracer attached to tracedPID, with its
// stderr dup'd onto a pipe this handle reads from.
func (t *TracerHandle) Spawn(tracedPID int) error {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("tracer: pipe: %w", err)
	}
	rfd, wfd := fds[0], fds[1]
	wFile := os.NewFile(uintptr(wfd), "tracer-stderr-w")

	args := append([]string{"-p", strconv.Itoa(tracedPID)}, t.ExtraArgs...)
	cmd := exec.Command(t.Executable, args...)
	cmd.Stderr = wFile
	cmd.Stdin = nil
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		wFile.Close()
		unix.Close(rfd)
		return fmt.Errorf("cannot run %s: %w", t.Executable, err)
	}

	wFile.Close() // the child owns the only other reference; ours would mask EOF
	t.pid = cmd.Process.Pid
	if err := unix.SetNonblock(rfd, true); err != nil {
		unix.Close(rfd)
		return fmt.Errorf("tracer: set nonblocking: %w", err)
	}

	t.errFD = rfd
	t.reader = stream.NewReader(rfd, func() bool {
		_, done := t.ExitStatus(false)
		return done
	})
	return nil
}

// Basename returns the tracer executable's basename, as used to match
// the "<basename>: Process <pid> attached" attach line.
func (t *TracerHandle) Basename() string {
	return filepath.Base(t.Executable)
}

// ReadBuffer blocks up to timeout and returns any new stderr bytes.
func (t *TracerHandle) ReadBuffer(timeout time.Duration) ([]byte, error) {
	return t.reader.ReadBuffer(timeout)
}

// Terminate is idempotent: SIGKILL if still running, blocking reap, then
// close the stderr pipe.
func (t *TracerHandle) Terminate() {
	t.terminate()
	if t.errFD != 0 {
		unix.Close(t.errFD)
		t.errFD = 0
	}
}
