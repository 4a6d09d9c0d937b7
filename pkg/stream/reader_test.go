package stream

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
	})
	return fds[0], fds[1]
}

func TestReadBufferReturnsAvailableBytes(t *testing.T) {
	rfd, wfd := pipe(t)
	defer unix.Close(wfd)

	if _, err := unix.Write(wfd, []byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := NewReader(rfd, func() bool { return false })
	buf, err := reader.ReadBuffer(time.Second)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if string(buf) != "hello\n" {
		t.Errorf("ReadBuffer() = %q, want %q", buf, "hello\n")
	}
}

func TestReadBufferTimesOutWithNoData(t *testing.T) {
	rfd, wfd := pipe(t)
	defer unix.Close(wfd)

	reader := NewReader(rfd, func() bool { return false })
	start := time.Now()
	buf, err := reader.ReadBuffer(100 * time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if len(buf) != 0 {
		t.Errorf("ReadBuffer() = %q, want empty", buf)
	}
	if elapsed > time.Second {
		t.Errorf("ReadBuffer blocked for %v, want roughly the 100ms budget", elapsed)
	}
}

func TestReadBufferDrainsAfterExit(t *testing.T) {
	rfd, wfd := pipe(t)

	if _, err := unix.Write(wfd, []byte("last line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	unix.Close(wfd) // simulate the child exiting and closing its pipe end

	reader := NewReader(rfd, func() bool { return true })
	buf, err := reader.ReadBuffer(time.Second)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if string(buf) != "last line\n" {
		t.Errorf("ReadBuffer() = %q, want %q", buf, "last line\n")
	}
}
