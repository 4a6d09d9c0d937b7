// Package driver implements the top-level campaign loop: iterate the
// generator, run one inject controller per fault,
// drain results into the report sink, and flush the report on every exit
// path, clean or interrupted.
package driver

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stracefuzz/pkg/controller"
	"stracefuzz/pkg/fault"
	"stracefuzz/pkg/report"
	"stracefuzz/pkg/reporter"
)

// FaultSource is whatever the driver pulls trial faults from.
// *generator.Generator satisfies this; the tests use a generator whose
// probe fails fast because no real tracer executable exists.
type FaultSource interface {
	Next() (fault.Fault, error)
}

// Config bundles everything one campaign run needs.
type Config struct {
	Args      controller.Args
	Reporter  *reporter.Reporter
	Generator FaultSource
	Sink      report.Sink
	Timeout   time.Duration
	MaxFaults int // 0 = unbounded
}

// Status is a point-in-time snapshot of a running campaign, read by the
// debugfs introspection mount while Run is in flight.
type Status struct {
	FaultsTried  int
	Injections   int
	StartedAt    time.Time
	CurrentFault string // wire string of the fault under test, empty between trials
}

// Driver runs a campaign: draw a fault, run it, repeat, until MaxFaults
// is reached or Stop is called.
type Driver struct {
	cfg     Config
	sink    report.Sink // cfg.Sink wrapped for record accounting
	stopped atomic.Bool

	mu      sync.Mutex
	status  Status
	records []report.Record
}

// New constructs a Driver.
func New(cfg Config) *Driver {
	d := &Driver{cfg: cfg}
	d.sink = &observedSink{d: d, inner: cfg.Sink}
	return d
}

// Stop requests the run loop end after its current in-flight fault
// finishes. Safe to call from a signal handler: the flag is checked
// between runs, never mid-handshake.
func (d *Driver) Stop() {
	d.stopped.Store(true)
}

// Status returns a snapshot of the campaign so far. Safe to call
// concurrently with Run.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// ReportText renders the injections recorded so far in the plain-text
// sink format, regardless of which sink the campaign actually writes
// through. Safe to call concurrently with Run.
func (d *Driver) ReportText() string {
	d.mu.Lock()
	records := make([]report.Record, len(d.records))
	copy(records, d.records)
	d.mu.Unlock()

	var b strings.Builder
	text := report.NewTextSink(&b)
	for _, r := range records {
		text.Append(r)
	}
	text.Flush()
	return b.String()
}

// Run drives the campaign to completion (exhaustion of MaxFaults, a Stop
// call, or a fatal generator error) and always flushes the sink before
// returning, whether the run ended cleanly or was interrupted.
func (d *Driver) Run() error {
	d.mu.Lock()
	d.status.StartedAt = time.Now()
	d.mu.Unlock()

	defer func() {
		if err := d.sink.Flush(); err != nil && d.cfg.Reporter != nil && d.cfg.Reporter.Sink != nil {
			fmt.Fprintf(d.cfg.Reporter.Sink, "%s: flush report: %v\n", d.cfg.Reporter.Program, err)
		}
	}()

	var attempts int
	for !d.stopped.Load() {
		if d.cfg.MaxFaults > 0 && attempts >= d.cfg.MaxFaults {
			return nil
		}
		attempts++

		f, err := d.cfg.Generator.Next()
		if err != nil {
			return fmt.Errorf("driver: %w", err)
		}

		if d.stopped.Load() {
			return nil
		}

		d.mu.Lock()
		d.status.FaultsTried = attempts
		d.status.CurrentFault = f.Directive()
		d.mu.Unlock()

		inj := controller.NewInject(d.cfg.Args, d.cfg.Reporter, d.cfg.Timeout, f)
		err = inj.Execute(d.sink)

		d.mu.Lock()
		d.status.CurrentFault = ""
		d.mu.Unlock()

		if err != nil {
			return fmt.Errorf("driver: run for %s: %w", f.Directive(), err)
		}
	}
	return nil
}

// observedSink forwards to the configured sink and keeps the driver's
// own record accounting current for Status and ReportText.
type observedSink struct {
	d     *Driver
	inner report.Sink
}

func (s *observedSink) Append(r report.Record) error {
	if err := s.inner.Append(r); err != nil {
		return err
	}
	s.d.mu.Lock()
	s.d.status.Injections++
	s.d.records = append(s.d.records, r)
	s.d.mu.Unlock()
	return nil
}

func (s *observedSink) Flush() error { return s.inner.Flush() }
func (s *observedSink) Close() error { return s.inner.Close() }
