package report

import (
	"strings"
	"testing"

	"stracefuzz/pkg/fault"
)

func TestTextSinkHeaderPrintedOnceFooterOnFlush(t *testing.T) {
	var buf strings.Builder
	s := NewTextSink(&buf)

	f, err := fault.New("open", "ENOENT", 3)
	if err != nil {
		t.Fatalf("fault.New: %v", err)
	}

	if err := s.Append(Record{Fault: f, Context: `open("x") = -1 ENOENT`}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(Record{Fault: f, Context: `open("y") = -1 ENOENT`}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	out := buf.String()
	if got := strings.Count(out, header); got != 1 {
		t.Errorf("header appears %d times, want 1", got)
	}
	if got := strings.Count(out, rule); got != 3 {
		t.Errorf("rule appears %d times, want 3 (2 separators + 1 footer)", got)
	}
	if got := strings.Count(out, "syscall: open"); got != 2 {
		t.Errorf("record count = %d, want 2", got)
	}
}

func TestTextSinkFlushWithoutAppendIsNoop(t *testing.T) {
	var buf strings.Builder
	s := NewTextSink(&buf)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Flush() with no appends wrote %q, want nothing", buf.String())
	}
}
