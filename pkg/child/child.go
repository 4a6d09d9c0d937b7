// Package child implements the two child-process handles that fork-exec
// a child connected to the parent via pipes, track its exit status, and
// guarantee idempotent cleanup on every exit path.
package child

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitStatus encodes a reaped child's termination: a non-negative value
// is a normal exit code, a negative value is -signal_number.
type ExitStatus int

// Signaled reports whether the child was killed by a signal.
func (s ExitStatus) Signaled() bool { return s < 0 }

// Signal returns the terminating signal. Only meaningful if Signaled().
func (s ExitStatus) Signal() syscall.Signal { return syscall.Signal(-s) }

// Code returns the exit code. Only meaningful if !Signaled().
func (s ExitStatus) Code() int { return int(s) }

func (s ExitStatus) String() string {
	if s.Signaled() {
		return fmt.Sprintf("killed by %s", s.Signal())
	}
	return fmt.Sprintf("exited with code %d", s.Code())
}

// base is embedded by TraceeHandle and TracerHandle. It owns the pid and
// cached exit status and implements the idempotent terminate contract
// common to both variants.
type base struct {
	pid     int
	status  *ExitStatus
	program string // used only in diagnostic messages
}

// Pid returns the child's process id. Valid only after spawn.
func (b *base) Pid() int { return b.pid }

// ExitStatus polls (blocking=false) or waits (blocking=true) for the
// child's termination. Returns (status, false) if the child is still
// running and blocking is false.
func (b *base) ExitStatus(blocking bool) (ExitStatus, bool) {
	b.updateStatus(blocking)
	if b.status == nil {
		return 0, false
	}
	return *b.status, true
}

func (b *base) updateStatus(blocking bool) {
	if b.status != nil {
		return
	}

	var flags int
	if !blocking {
		flags = unix.WNOHANG
	}

	var ws unix.WaitStatus
	pid, err := unix.Wait4(b.pid, &ws, flags, nil)
	if err != nil || pid == 0 {
		return
	}

	var s ExitStatus
	switch {
	case ws.Signaled():
		s = ExitStatus(-int(ws.Signal()))
	case ws.Exited():
		s = ExitStatus(ws.ExitStatus())
	default:
		return
	}
	b.status = &s
}

// terminate is idempotent: SIGKILL the child if still running, then
// blocking-reap. Safe to call on an already-reaped handle, and a no-op on
// a handle that was never spawned.
func (b *base) terminate() {
	if b.pid == 0 {
		return
	}
	if _, done := b.ExitStatus(false); !done {
		unix.Kill(b.pid, unix.SIGKILL)
		b.updateStatus(true)
	}
}

// closeAll closes every file, ignoring errors, for best-effort cleanup.
func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
