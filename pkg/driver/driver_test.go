package driver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"stracefuzz/pkg/catalog"
	"stracefuzz/pkg/child"
	"stracefuzz/pkg/controller"
	"stracefuzz/pkg/generator"
	"stracefuzz/pkg/report"
	"stracefuzz/pkg/reporter"
)

// TestMain lets this test binary re-exec itself as the tracee helper;
// see child.TestMain's doc comment for why this is necessary. Every
// generator.New probe below spawns a real tracee, even when the target
// itself doesn't exist.
func TestMain(m *testing.M) {
	if child.IsTraceeHelperInvocation() {
		child.RunTraceeHelper(os.Args[1:])
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type countingSink struct {
	appended int
	flushed  int
}

func (s *countingSink) Append(r report.Record) error { s.appended++; return nil }
func (s *countingSink) Flush() error                 { s.flushed++; return nil }
func (s *countingSink) Close() error                 { return nil }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// newFailingGenerator builds a generator whose probe never attaches (no
// real tracer executable), so Next always returns an error quickly
// without depending on strace being installed.
func newFailingGenerator(t *testing.T) *generator.Generator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cat, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}

	rep := reporter.New("stracefuzz-test", discardWriter{}, func(string) {})
	args := controller.Args{Program: "stracefuzz-test", Target: "/no/such/binary", StraceExecutable: "/no/such/strace"}
	g, err := generator.New(generator.Config{Args: args, Reporter: rep, Timeout: 10 * time.Millisecond, Catalog: cat})
	if err != nil {
		t.Fatalf("generator.New: %v", err)
	}
	return g
}

func TestRunFlushesSinkEvenOnGeneratorFailure(t *testing.T) {
	sink := &countingSink{}
	d := New(Config{
		Generator: newFailingGenerator(t),
		Sink:      sink,
		Timeout:   10 * time.Millisecond,
	})

	if err := d.Run(); err == nil {
		t.Fatal("Run() = nil, want an error from the failing probe")
	}
	if sink.flushed != 1 {
		t.Errorf("sink.flushed = %d, want 1 (flush must run even on a fatal error)", sink.flushed)
	}
}

func TestStopPreventsFurtherDraws(t *testing.T) {
	sink := &countingSink{}
	d := New(Config{
		Generator: newFailingGenerator(t),
		Sink:      sink,
		Timeout:   10 * time.Millisecond,
	})
	d.Stop()

	if err := d.Run(); err != nil {
		t.Errorf("Run() after Stop() = %v, want nil (no draw should have been attempted)", err)
	}
	if sink.flushed != 1 {
		t.Errorf("sink.flushed = %d, want 1", sink.flushed)
	}
}

func TestNewKeepsZeroMaxFaults(t *testing.T) {
	sink := &countingSink{}
	d := New(Config{
		Generator: newFailingGenerator(t),
		Sink:      sink,
		Timeout:   10 * time.Millisecond,
		MaxFaults: 0,
	})
	if d.cfg.MaxFaults != 0 {
		t.Fatalf("cfg.MaxFaults = %d, want 0", d.cfg.MaxFaults)
	}
}
