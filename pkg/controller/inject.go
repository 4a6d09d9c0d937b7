package controller

import (
	"fmt"
	"syscall"
	"time"

	"stracefuzz/pkg/fault"
	"stracefuzz/pkg/report"
	"stracefuzz/pkg/reporter"
	"stracefuzz/pkg/watch"
)

const sigsegvShape = `^\+{3} killed by SIGSEGV \(core dumped\) \+{3}`

// Inject applies one Fault to a fresh run of the target and records
// whether it induced a SIGSEGV crash.
type Inject struct {
	Controller
	fault fault.Fault
}

// NewInject constructs an inject run for fault. args.StraceArgs is
// overwritten with the "-e" directive derived from fault.
func NewInject(args Args, rep *reporter.Reporter, timeout time.Duration, f fault.Fault) *Inject {
	args.StraceArgs = []string{"-e", f.Directive()}
	return &Inject{Controller: *New(args, rep, timeout), fault: f}
}

// Execute runs the fault to a verdict and, if it crashed the target with
// SIGSEGV, appends one record to sink. It always terminates both
// children before returning.
func (i *Inject) Execute(sink report.Sink) error {
	i.startProcesses()
	if i.Failed() {
		i.TerminateAll()
		return nil
	}
	defer i.TerminateAll()

	// The fault's occurrence is attach-relative (strace's -e counter
	// starts at attach), but the startup-window lines were consumed
	// before this point, so the watcher counts post-execve lines only.
	// Subtract this run's own dropped occurrences of the syscall to
	// land on the same line strace injects at.
	when := i.fault.Occurrence
	for _, sc := range i.DroppedSyscalls() {
		if sc == i.fault.Syscall {
			when--
		}
	}
	if when < 1 {
		// The injection point fell inside this run's startup window;
		// the target's own code never reaches it.
		return nil
	}

	inject := watch.NewErrorInject(i.fault.Syscall, when)
	i.parser.AddWatcher("inject", inject)
	previousWere := inject.Were()

	for {
		fired := i.parser.ContinueUntilWatchers()

		if len(fired) != 0 {
			context, _ := fired["inject"].Occasion()
			i.parser.RemoveWatcher("inject")
			sigsegv := watch.NewRegex(sigsegvShape)
			i.parser.AddWatcher("sigsegv", sigsegv)

			crashed := i.parser.ContinueUntilWatchers()
			if len(crashed) != 0 {
				status, ok := i.tracee.ExitStatus(true)
				if !ok || !status.Signaled() || status.Signal() != syscall.SIGSEGV {
					return fmt.Errorf("controller: tracee exit status %v after SIGSEGV line, want signal SIGSEGV", status)
				}
				return sink.Append(report.Record{Fault: i.fault, Context: context})
			}
			return nil
		}

		if inject.Were() == previousWere {
			// No further progress since the last scan: the injection
			// point will never be reached.
			return nil
		}
		previousWere = inject.Were()
	}
}
