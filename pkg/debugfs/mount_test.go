package debugfs

import (
	"testing"
)

// fileHandle.Read is exercised directly rather than through a real FUSE
// mount, which needs /dev/fuse and privileges this test environment may
// not have.

func TestFileHandleReadWithinBounds(t *testing.T) {
	fh := &fileHandle{data: []byte("faultsTried=3 injections=1 elapsed=2s\n")}

	dest := make([]byte, 11)
	res, errno := fh.Read(nil, dest, 0)
	if errno != 0 {
		t.Fatalf("Read errno = %v, want 0", errno)
	}
	got, _ := res.Bytes(dest)
	if string(got) != "faultsTried" {
		t.Errorf("Read(0, 11) = %q, want %q", got, "faultsTried")
	}
}

func TestFileHandleReadPastEndReturnsEmpty(t *testing.T) {
	fh := &fileHandle{data: []byte("short")}

	dest := make([]byte, 10)
	res, errno := fh.Read(nil, dest, 100)
	if errno != 0 {
		t.Fatalf("Read errno = %v, want 0", errno)
	}
	got, _ := res.Bytes(dest)
	if len(got) != 0 {
		t.Errorf("Read past end = %q, want empty", got)
	}
}

func TestFileHandleReadAtExactEnd(t *testing.T) {
	fh := &fileHandle{data: []byte("abc")}

	dest := make([]byte, 10)
	res, errno := fh.Read(nil, dest, 3)
	if errno != 0 {
		t.Fatalf("Read errno = %v, want 0", errno)
	}
	got, _ := res.Bytes(dest)
	if len(got) != 0 {
		t.Errorf("Read at end = %q, want empty", got)
	}
}
