package controller

import (
	"time"

	"stracefuzz/pkg/reporter"
	"stracefuzz/pkg/watch"
)

// Probe discovers a target's syscall trace by running it uninstrumented
// (no -e directive) to completion.
type Probe struct {
	Controller
	syscalls *watch.Remember
}

// NewProbe constructs a probe run. args.StraceArgs should be empty.
func NewProbe(args Args, rep *reporter.Reporter, timeout time.Duration) *Probe {
	return &Probe{Controller: *New(args, rep, timeout)}
}

// Execute runs the probe to completion: spawn, attach, release, then
// record every syscall until a terminating class line is observed or
// the budget elapses.
func (p *Probe) Execute() {
	p.startProcesses()
	if p.Failed() {
		p.TerminateAll()
		return
	}

	p.syscalls = watch.NewRemember(0, true) // signals are not terminating: keep scanning through them
	p.parser.AddWatcher("probe", p.syscalls)
	p.parser.ContinueUntilWatchers()
	p.parser.RemoveWatcher("probe")

	p.TerminateAll()
}

// ListSyscalls returns every syscall observed after the target's own
// execve returned, in emission order. Valid after Execute.
func (p *Probe) ListSyscalls() []string {
	if p.syscalls == nil {
		return nil
	}
	return p.syscalls.ListSyscalls()
}

// ListDroppedSyscalls returns the syscalls observed during the startup
// window, before the target's execve returned.
func (p *Probe) ListDroppedSyscalls() []string {
	return p.DroppedSyscalls()
}
