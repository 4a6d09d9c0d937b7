// Package stream implements the non-blocking, timeout-bounded aggregation
// of a child process's stderr pipe into raw bytes for the line parser.
package stream

import (
	"time"

	"golang.org/x/sys/unix"
)

// readChunk is the size of each individual unix.Read call while draining
// a ready descriptor.
const readChunk = 64 * 1024

// Reader reads from a single non-blocking pipe descriptor, using
// unix.Poll bounded by an explicit wall-clock timeout.
type Reader struct {
	fd int
	// exited reports whether the owning child process has already
	// exited, so ReadBuffer can perform one final zero-timeout drain
	// before returning and bytes the child wrote just before dying are
	// never silently dropped.
	exited func() bool
}

// NewReader wraps fd (which must already be set non-blocking and
// close-on-exec by the caller) for bounded reads. exited is consulted
// after each readiness event to decide whether the child is done.
func NewReader(fd int, exited func() bool) *Reader {
	return &Reader{fd: fd, exited: exited}
}

// ReadBuffer blocks up to timeout wall-clock and returns any new bytes
// available on the pipe. It never blocks longer than timeout on
// readiness, and never drops bytes that were ready to be read.
func (r *Reader) ReadBuffer(timeout time.Duration) ([]byte, error) {
	var out []byte
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		ready, err := r.pollReady(remaining)
		if err != nil {
			return out, err
		}
		if !ready {
			break
		}

		chunk, eof, err := r.drain()
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)

		if r.exited() {
			if ready2, _ := r.pollReady(0); ready2 {
				if chunk2, _, err := r.drain(); err == nil {
					out = append(out, chunk2...)
				}
			}
			break
		}

		if eof {
			break
		}

		if time.Now().After(deadline) {
			break
		}
	}

	return out, nil
}

// pollReady waits up to d for r.fd to become readable.
func (r *Reader) pollReady(d time.Duration) (bool, error) {
	timeoutMs := int(d.Milliseconds())
	if d > 0 && timeoutMs == 0 {
		timeoutMs = 1 // don't round a sub-millisecond budget down to a non-waiting poll
	}

	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0, nil
	}
}

// drain reads everything currently available without blocking, stopping
// on EAGAIN/EWOULDBLOCK (nothing more right now) or a zero-length read
// (the write end closed).
func (r *Reader) drain() (data []byte, eof bool, err error) {
	buf := make([]byte, readChunk)
	for {
		n, rerr := unix.Read(r.fd, buf)
		if rerr == unix.EINTR {
			continue
		}
		if rerr == unix.EAGAIN {
			return data, false, nil
		}
		if rerr != nil {
			return data, false, rerr
		}
		if n == 0 {
			return data, true, nil
		}
		data = append(data, buf[:n]...)
		if n < len(buf) {
			// Short read: the pipe is very likely drained for now: avoid
			// one extra syscall that would just return EAGAIN.
			return data, false, nil
		}
	}
}
