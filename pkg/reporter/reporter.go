// Package reporter implements the error reporter: a small set of named
// lifecycle events, each evaluated against the state the controller
// hands it, that either succeed silently or report a structured message
// and invoke an abort hook that must first release every live child
// resource.
package reporter

import (
	"fmt"
	"io"
)

// Releasable is anything the abort hook must terminate before the
// process exits. Both child.TraceeHandle and child.TracerHandle satisfy
// this with their Terminate method.
type Releasable interface {
	Terminate()
}

// AbortFunc is installed by the command that runs the campaign (a nil
// hook only prints) and invoked once handle_error
// decides a run is fatal. It must release every live child before
// returning; the reporter does not exit the process itself.
type AbortFunc func(message string)

// Reporter holds the program name prefix, the user-visible sink, and the
// abort hook. The controller updates Tracee/Tracer before each event so
// the abort hook can terminate them; the reporter never owns their
// lifecycle (borrowed, not shared, ownership).
type Reporter struct {
	Program string
	Sink    io.Writer
	Abort   AbortFunc

	Tracee Releasable
	Tracer Releasable
}

// New constructs a Reporter writing diagnostics to sink and invoking
// abort on a fatal event.
func New(program string, sink io.Writer, abort AbortFunc) *Reporter {
	return &Reporter{Program: program, Sink: sink, Abort: abort}
}

// Fatal reports a spawn failure outside the four named lifecycle
// events: fork/exec itself failed before any handshake could begin.
func (r *Reporter) Fatal(message string) {
	r.handleError(message)
}

func (r *Reporter) handleError(message string) {
	fmt.Fprintf(r.Sink, "%s: %s\n", r.Program, message)
	if r.Abort != nil {
		r.Abort(message)
	}
}

// TraceeWaitForStarted corresponds to the TRACEE_WAIT_FOR_STARTED event:
// fatal when success is false, i.e. the tracee died before reaching the
// handshake rendezvous.
func (r *Reporter) TraceeWaitForStarted(success bool, exitCode int) {
	if success {
		return
	}
	r.handleError(fmt.Sprintf("tracee was externally terminated: exitcode %d", exitCode))
}

// TracerFirstLineOutcome classifies the tracer's first stderr line.
type TracerFirstLineOutcome int

const (
	// TracerAttached is the happy path: "<tracer>: Process <pid> attached".
	TracerAttached TracerFirstLineOutcome = iota
	// TracerNoResponse is no first line within the tight startup budget.
	TracerNoResponse
	// TracerSpawnFailed is the "cannot run strace: ..." line.
	TracerSpawnFailed
	// TracerOtherError is any other "<tracer>: ..." line.
	TracerOtherError
	// TracerUnknown is anything that matches none of the above shapes.
	TracerUnknown
)

// TracerStarted corresponds to the TRACER_STARTED event.
func (r *Reporter) TracerStarted(outcome TracerFirstLineOutcome, line string) {
	switch outcome {
	case TracerAttached:
		return
	case TracerNoResponse:
		r.handleError("strace doesn't respond")
	case TracerSpawnFailed:
		r.handleError(line)
	case TracerOtherError:
		r.handleError(line)
	default:
		r.handleError(fmt.Sprintf("unexpected tracer startup line: %s", line))
	}
}

// StartActualTracee corresponds to the START_ACTUAL_TRACEE event. present
// is false when the "start" watcher never fired; code is only meaningful
// when present is true.
func (r *Reporter) StartActualTracee(present bool, code int, strerror string) {
	switch {
	case !present:
		r.handleError("actual tracee was not started")
	case code == -1:
		r.handleError(fmt.Sprintf("cannot run tracee: %s", strerror))
	}
}

// StraceOutputNotSyscall corresponds to the STRACE_OUTPUT_NOT_SYSCALL
// event: fatal whenever the "drop" watcher fires before "start" does,
// handing back the unexpected line.
func (r *Reporter) StraceOutputNotSyscall(line string, present bool) {
	if !present {
		return
	}
	r.handleError(fmt.Sprintf("Unexpected strace output line: %s", line))
}
