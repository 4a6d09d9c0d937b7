// Package controller implements the per-run execution state machine:
// spawn tracee, spawn tracer, verify attach, release the
// tracee, drive the parser to a verdict, and guarantee cleanup on every
// exit path. Controller is the shared base; Probe and Inject are the two
// concrete runs built on top of it.
package controller

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"stracefuzz/pkg/child"
	"stracefuzz/pkg/parser"
	"stracefuzz/pkg/reporter"
	"stracefuzz/pkg/watch"
)

// Args bundles the invocation-wide configuration every run needs.
type Args struct {
	Program          string
	Target           string
	TargetArgs       []string
	StraceExecutable string
	StraceArgs       []string // e.g. ["-e", fault.Directive()] for inject runs

	// TraceeStdin/Stdout/Stderr, if set, override the tracee's inherited
	// stdio (the TTY bridge hands all three the same pty slave).
	TraceeStdin, TraceeStdout, TraceeStderr *os.File
}

const maxStep = 100 * time.Millisecond

// Controller drives one run's tracee/tracer pair to a verdict. It is not
// reused across runs: construct a fresh one per Probe or Inject attempt.
type Controller struct {
	args     Args
	reporter *reporter.Reporter
	timeout  time.Duration

	tracee *child.TraceeHandle
	tracer *child.TracerHandle
	parser *parser.Parser

	droppedSyscalls []string

	// failed is set once startProcesses (or a subclass) hits a fatal
	// event; the run should stop driving forward but terminateAll must
	// still run exactly once.
	failed bool
}

// New constructs a controller. The reporter's abort hook, if set, fires
// synchronously from inside startProcesses/execute on a fatal event;
// callers that want to recover per-run (rather than aborting the whole
// process) should install an abort hook that merely records the failure
// and returns, and check Failed() afterwards.
func New(args Args, rep *reporter.Reporter, timeout time.Duration) *Controller {
	return &Controller{args: args, reporter: rep, timeout: timeout}
}

// Failed reports whether a fatal event fired during this run.
func (c *Controller) Failed() bool {
	return c.failed
}

// DroppedSyscalls returns the syscalls observed by the tracer between
// attach and the target's own execve returning. Valid after
// startProcesses.
func (c *Controller) DroppedSyscalls() []string {
	return c.droppedSyscalls
}

func (c *Controller) fail(event func()) {
	c.failed = true
	if c.reporter != nil {
		event()
	}
}

// startProcesses runs the shared prefix of every controller's state
// machine: spawn tracee, spawn tracer, verify the attach line, release
// the tracee, and scan until either the "start" (execve) watcher or the
// "drop" (unexpected-line) watcher fires.
func (c *Controller) startProcesses() {
	c.tracee = child.NewTraceeHandle(c.args.Program, c.args.Target, c.args.TargetArgs)
	c.tracee.Stdin = c.args.TraceeStdin
	c.tracee.Stdout = c.args.TraceeStdout
	c.tracee.Stderr = c.args.TraceeStderr
	if c.reporter != nil {
		c.reporter.Tracee = c.tracee
	}

	if err := c.tracee.Spawn(); err != nil {
		c.fail(func() { c.reporter.Fatal(err.Error()) })
		return
	}

	started := c.tracee.WaitForStarted()
	if !started {
		code := 1
		if st, ok := c.tracee.ExitStatus(true); ok {
			code = int(st)
		}
		c.fail(func() { c.reporter.TraceeWaitForStarted(false, code) })
		return
	}
	if c.reporter != nil {
		c.reporter.TraceeWaitForStarted(true, 0)
	}

	c.tracer = child.NewTracerHandle(c.args.Program, c.args.StraceExecutable, c.args.StraceArgs)
	if c.reporter != nil {
		c.reporter.Tracer = c.tracer
	}
	if err := c.tracer.Spawn(c.tracee.Pid()); err != nil {
		c.fail(func() { c.reporter.TracerStarted(reporter.TracerSpawnFailed, err.Error()) })
		return
	}

	c.parser = parser.New(c.tracer, maxStep)
	c.parser.SetTimeout(c.timeout)

	firstLine, haveFirstLine := c.parser.PopLine()
	outcome, line := c.classifyFirstLine(firstLine, haveFirstLine)
	if outcome != reporter.TracerAttached {
		c.fail(func() { c.reporter.TracerStarted(outcome, line) })
		return
	}
	if c.reporter != nil {
		c.reporter.TracerStarted(reporter.TracerAttached, firstLine)
	}

	execveRe := regexp.MustCompile(
		`^execve\("` + regexp.QuoteMeta(c.args.Target) +
			`", .*\) = (?P<code>-?\d+)(?:$| (?P<errno>\w+) \((?P<strerror>[\w ]+)\)$)`)
	startWatcher := watch.NewRegex(execveRe.String())
	c.parser.AddWatcher("start", startWatcher)
	dropWatcher := watch.NewRemember(0, true)
	c.parser.AddWatcher("drop", dropWatcher)

	if ok := c.tracee.StartActualTracee(); !ok {
		c.fail(func() { c.reporter.StartActualTracee(false, 0, "") })
		return
	}

	fired := c.parser.ContinueUntilWatchers()

	// Both watchers are evaluated against the same stopping line, so
	// "drop" (a general SYSCALL-class recorder) also observes the
	// execve completion line itself whenever "start" fires on it. That
	// line marks the target's own execution beginning, not one of its
	// syscalls, so it is excluded from the dropped-syscall accounting:
	// dropped syscalls are those observed strictly before execve's
	// completion.
	dropped := dropWatcher.ListSyscalls()
	if _, startFired := fired["start"]; startFired && len(dropped) > 0 && dropped[len(dropped)-1] == "execve" {
		dropped = dropped[:len(dropped)-1]
	}
	c.droppedSyscalls = dropped

	if occ, ok := fired["drop"].(*watch.Remember); ok {
		line, _ := occ.Occasion()
		c.fail(func() { c.reporter.StraceOutputNotSyscall(line, true) })
		c.parser.RemoveWatcher("start")
		c.parser.RemoveWatcher("drop")
		return
	}
	if c.reporter != nil {
		c.reporter.StraceOutputNotSyscall("", false)
	}

	if w, ok := fired["start"].(*watch.Regex); ok {
		code, convErr := strconv.Atoi(w.Group("code"))
		if convErr != nil {
			code = -1
		}
		if code != 0 {
			c.fail(func() { c.reporter.StartActualTracee(true, code, w.Group("strerror")) })
			c.parser.RemoveWatcher("start")
			c.parser.RemoveWatcher("drop")
			return
		}
		if c.reporter != nil {
			c.reporter.StartActualTracee(true, 0, "")
		}
		// Consume the execve completion line so subclass watchers only
		// ever see the target's own syscalls.
		c.parser.PopLine()
	} else {
		c.fail(func() { c.reporter.StartActualTracee(false, 0, "") })
		c.parser.RemoveWatcher("start")
		c.parser.RemoveWatcher("drop")
		return
	}

	c.parser.RemoveWatcher("start")
	c.parser.RemoveWatcher("drop")
}

func (c *Controller) classifyFirstLine(line string, haveLine bool) (reporter.TracerFirstLineOutcome, string) {
	if !haveLine {
		return reporter.TracerNoResponse, ""
	}
	attachLine := fmt.Sprintf("%s: Process %d attached", c.tracer.Basename(), c.tracee.Pid())
	switch {
	case line == attachLine:
		return reporter.TracerAttached, line
	case regexp.MustCompile(`^cannot run strace: .*$`).MatchString(line):
		return reporter.TracerSpawnFailed, line
	case regexp.MustCompile(`^` + regexp.QuoteMeta(c.tracer.Basename()) + `: .*$`).MatchString(line):
		return reporter.TracerOtherError, line
	default:
		return reporter.TracerUnknown, line
	}
}

// TerminateAll terminates the tracer first (it holds the ptrace
// attachment, and killing it lets the tracee make progress or die) then
// the tracee. Safe to call multiple times and on a controller that
// never finished spawning.
func (c *Controller) TerminateAll() {
	if c.tracer != nil {
		c.tracer.Terminate()
	}
	if c.tracee != nil {
		c.tracee.Terminate()
	}
}
