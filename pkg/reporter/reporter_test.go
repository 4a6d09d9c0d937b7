package reporter

import (
	"strings"
	"testing"
)

type fakeReleasable struct{ terminated bool }

func (f *fakeReleasable) Terminate() { f.terminated = true }

func TestTraceeWaitForStartedSuccessIsSilent(t *testing.T) {
	var sink strings.Builder
	aborted := false
	r := New("stracefuzz", &sink, func(string) { aborted = true })

	r.TraceeWaitForStarted(true, 0)

	if aborted || sink.Len() != 0 {
		t.Errorf("success case wrote %q and aborted=%v, want silent", sink.String(), aborted)
	}
}

func TestTraceeWaitForStartedFailureAborts(t *testing.T) {
	var sink strings.Builder
	var abortMsg string
	r := New("stracefuzz", &sink, func(msg string) { abortMsg = msg })

	r.TraceeWaitForStarted(false, 7)

	if !strings.Contains(sink.String(), "tracee was externally terminated: exitcode 7") {
		t.Errorf("sink = %q, want exitcode 7 message", sink.String())
	}
	if abortMsg == "" {
		t.Error("abort hook was not invoked")
	}
}

func TestTracerStartedAttachedIsSilent(t *testing.T) {
	var sink strings.Builder
	aborted := false
	r := New("stracefuzz", &sink, func(string) { aborted = true })

	r.TracerStarted(TracerAttached, "strace: Process 42 attached")

	if aborted || sink.Len() != 0 {
		t.Errorf("attached case wrote %q and aborted=%v, want silent", sink.String(), aborted)
	}
}

func TestTracerStartedSpawnFailurePassesThroughLine(t *testing.T) {
	var sink strings.Builder
	r := New("stracefuzz", &sink, func(string) {})

	r.TracerStarted(TracerSpawnFailed, "cannot run strace: No such file or directory")

	if !strings.Contains(sink.String(), "cannot run strace") {
		t.Errorf("sink = %q, want the passthrough spawn-failure line", sink.String())
	}
}

func TestTracerStartedNoResponse(t *testing.T) {
	var sink strings.Builder
	r := New("stracefuzz", &sink, func(string) {})

	r.TracerStarted(TracerNoResponse, "")

	if !strings.Contains(sink.String(), "strace doesn't respond") {
		t.Errorf("sink = %q, want the no-response message", sink.String())
	}
}

func TestStartActualTraceeAbsentIsFatal(t *testing.T) {
	var sink strings.Builder
	r := New("stracefuzz", &sink, func(string) {})

	r.StartActualTracee(false, 0, "")

	if !strings.Contains(sink.String(), "actual tracee was not started") {
		t.Errorf("sink = %q, want the not-started message", sink.String())
	}
}

func TestStartActualTraceeErrorCodeIsFatal(t *testing.T) {
	var sink strings.Builder
	r := New("stracefuzz", &sink, func(string) {})

	r.StartActualTracee(true, -1, "no such file or directory")

	if !strings.Contains(sink.String(), "cannot run tracee: no such file or directory") {
		t.Errorf("sink = %q, want the strerror passthrough", sink.String())
	}
}

func TestStartActualTraceeSuccessIsSilent(t *testing.T) {
	var sink strings.Builder
	aborted := false
	r := New("stracefuzz", &sink, func(string) { aborted = true })

	r.StartActualTracee(true, 0, "")

	if aborted || sink.Len() != 0 {
		t.Errorf("success case wrote %q and aborted=%v, want silent", sink.String(), aborted)
	}
}

func TestStraceOutputNotSyscall(t *testing.T) {
	var sink strings.Builder
	r := New("stracefuzz", &sink, func(string) {})

	r.StraceOutputNotSyscall("garbage line", true)

	if !strings.Contains(sink.String(), "Unexpected strace output line: garbage line") {
		t.Errorf("sink = %q, want the unexpected-line message", sink.String())
	}
}

func TestAbortInvokesReleaseOfBothHandles(t *testing.T) {
	tracee := &fakeReleasable{}
	tracer := &fakeReleasable{}
	var sink strings.Builder

	var released []*fakeReleasable
	r := New("stracefuzz", &sink, func(string) {
		tracer.Terminate()
		tracee.Terminate()
		released = append(released, tracer, tracee)
	})
	r.Tracee = tracee
	r.Tracer = tracer

	r.TraceeWaitForStarted(false, 1)

	if !tracee.terminated || !tracer.terminated {
		t.Fatal("abort hook did not terminate both handles")
	}
	if len(released) != 2 || released[0] != tracer {
		t.Error("abort hook must release the tracer before the tracee (the tracer holds the ptrace attachment)")
	}
}
