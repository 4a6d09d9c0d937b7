package watch

// Remember extends Termination by composition. On a SYSCALL-class
// line it appends the syscall name to an observed list and additionally
// fires once a configurable cap of observed syscalls is reached; on a
// SIGNAL-class line it may also fire eagerly, depending on SkipSignals.
// Otherwise it defers entirely to the wrapped Termination's own verdict.
type Remember struct {
	base
	inner        Termination
	maxSyscalls  int // 0 = unbounded
	skipSignals  bool
	listSyscalls []string
}

// NewRemember constructs a Remember watcher. maxSyscalls <= 0 means no
// cap (never fires early on syscall count alone). When skipSignals is
// false, any SIGNAL-class line fires the watcher immediately instead of
// being ignored.
func NewRemember(maxSyscalls int, skipSignals bool) *Remember {
	return &Remember{maxSyscalls: maxSyscalls, skipSignals: skipSignals}
}

func (w *Remember) Evaluate(line string) bool {
	return w.fire(line, func(l string) bool {
		terminated := w.inner.Evaluate(l)

		if w.inner.Class() == ClassSyscall {
			w.listSyscalls = append(w.listSyscalls, w.inner.Group("syscall"))
			if w.maxSyscalls > 0 && len(w.listSyscalls) == w.maxSyscalls {
				return true
			}
		}

		if !w.skipSignals && w.inner.Class() == ClassSignal {
			return true
		}

		return terminated
	})
}

// Class forwards to the wrapped Termination watcher's classification of
// the most recently evaluated line.
func (w *Remember) Class() Class {
	return w.inner.Class()
}

// ListSyscalls returns every syscall name observed on a SYSCALL-class
// line, in emission order.
func (w *Remember) ListSyscalls() []string {
	return w.listSyscalls
}
