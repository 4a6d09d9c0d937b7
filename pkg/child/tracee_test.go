package child

import (
	"os"
	"testing"
	"time"
)

// TestMain lets this test binary re-exec itself as the tracee helper,
// mirroring the dispatch main.go performs before any cobra parsing
// (see RunTraceeHelper's doc comment). Without this, Spawn's self
// re-exec would invoke a vanilla `go test` binary that doesn't know how
// to perform the handshake.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnvVar) != "" {
		RunTraceeHelper(os.Args[1:])
		os.Exit(1) // RunTraceeHelper never returns on its success path
	}
	os.Exit(m.Run())
}

func TestTraceeHandshakeAndExit(t *testing.T) {
	h := NewTraceeHandle("stracefuzz-test", "/bin/sh", []string{"-c", "exit 7"})
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	if !h.WaitForStarted() {
		t.Fatal("WaitForStarted() = false, want true")
	}
	if !h.StartActualTracee() {
		t.Fatal("StartActualTracee() = false, want true")
	}

	status, ok := h.ExitStatus(true)
	if !ok {
		t.Fatal("ExitStatus(true) did not report a status")
	}
	if status.Signaled() || status.Code() != 7 {
		t.Errorf("ExitStatus = %v, want exit code 7", status)
	}
}

func TestTraceeTerminateIsIdempotent(t *testing.T) {
	h := NewTraceeHandle("stracefuzz-test", "/bin/sh", []string{"-c", "sleep 5"})
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !h.WaitForStarted() {
		t.Fatal("WaitForStarted() = false, want true")
	}
	if !h.StartActualTracee() {
		t.Fatal("StartActualTracee() = false, want true")
	}

	time.Sleep(50 * time.Millisecond) // let the real target exec and start sleeping
	h.Terminate()
	first, _ := h.ExitStatus(false)
	h.Terminate()
	second, _ := h.ExitStatus(false)

	if first != second {
		t.Errorf("ExitStatus after double Terminate = %v then %v, want identical", first, second)
	}
	if !first.Signaled() {
		t.Errorf("ExitStatus = %v, want signaled (SIGKILL)", first)
	}
}

func TestTraceeMissingTargetExitsOne(t *testing.T) {
	h := NewTraceeHandle("stracefuzz-test", "/no/such/executable", nil)
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	if !h.WaitForStarted() {
		t.Fatal("WaitForStarted() = false, want true (the helper always reaches the rendezvous)")
	}
	if !h.StartActualTracee() {
		t.Fatal("StartActualTracee() = false, want true")
	}

	status, ok := h.ExitStatus(true)
	if !ok {
		t.Fatal("ExitStatus(true) did not report a status")
	}
	if status.Signaled() || status.Code() != 1 {
		t.Errorf("ExitStatus = %v, want exit code 1 (LookPath failure)", status)
	}
}
