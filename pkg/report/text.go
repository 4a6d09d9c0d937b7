package report

import (
	"fmt"
	"io"
	"strings"
)

const header = "--- list of injections, which induced SIGSEGV in targeted executable ---"

var rule = strings.Repeat("-", len(header))

// TextSink is the plain-text report sink: a header
// printed lazily on the first record, one block per record, and a
// footer of the same width printed by Flush whenever at least one record
// was written. Flush does not distinguish a clean exit from a fatal one.
type TextSink struct {
	w           io.Writer
	wroteHeader bool
}

// NewTextSink wraps w. w is not closed by Close unless it also
// implements io.Closer.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Append(r Record) error {
	if !s.wroteHeader {
		if _, err := fmt.Fprintln(s.w, header); err != nil {
			return err
		}
		s.wroteHeader = true
	}
	_, err := fmt.Fprintf(s.w, "%s\nsyscall: %s\nerror: %s\noccurrence: %d\ncontext: %s\n",
		rule, r.Fault.Syscall, r.Fault.Error, r.Fault.Occurrence, r.Context)
	return err
}

func (s *TextSink) Flush() error {
	if !s.wroteHeader {
		return nil
	}
	_, err := fmt.Fprintln(s.w, rule)
	return err
}

func (s *TextSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
