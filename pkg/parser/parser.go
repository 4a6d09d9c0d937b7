// Package parser implements the line-oriented trace parser: it buffers
// whole-and-partial lines from a LineSource and
// runs a named registry of watch.Watcher predicates against them until
// one fires or the time budget is exhausted.
package parser

import (
	"strings"
	"time"

	"stracefuzz/pkg/watch"
)

// LineSource is anything that can hand back newly-available bytes
// within a bounded wall-clock budget. child.TracerHandle satisfies this.
type LineSource interface {
	ReadBuffer(timeout time.Duration) ([]byte, error)
}

// defaultMaxStep bounds any single underlying read so a long idle
// interval still yields periodic control.
const defaultMaxStep = 100 * time.Millisecond

// Parser holds the line buffer, the active scan budget, the name->watcher
// registry, and the max_step cap.
type Parser struct {
	source LineSource
	lines  []string // invariant: only lines[len-1] may lack a trailing '\n'

	activeTimeout time.Duration
	maxStep       time.Duration

	watchers map[string]watch.Watcher
}

// New constructs a parser reading from source. maxStep <= 0 uses
// defaultMaxStep.
func New(source LineSource, maxStep time.Duration) *Parser {
	if maxStep <= 0 {
		maxStep = defaultMaxStep
	}
	return &Parser{
		source:   source,
		maxStep:  maxStep,
		watchers: make(map[string]watch.Watcher),
	}
}

// SetTimeout sets the budget used by subsequent scans (PopLine,
// ContinueUntilWatchers).
func (p *Parser) SetTimeout(t time.Duration) {
	p.activeTimeout = t
}

// HasLine reports whether the first buffered element is a complete line.
func (p *Parser) HasLine() bool {
	return len(p.lines) >= 1 && strings.HasSuffix(p.lines[0], "\n")
}

// NextLine returns the oldest complete line (without its trailing
// newline) without removing it, reading for up to the active timeout if
// none is yet buffered.
func (p *Parser) NextLine() (string, bool) {
	if p.HasLine() {
		return strings.TrimSuffix(p.lines[0], "\n"), true
	}
	p.more(p.activeTimeout)
	if p.HasLine() {
		return strings.TrimSuffix(p.lines[0], "\n"), true
	}
	return "", false
}

// PopLine returns and removes the oldest complete line, or ("", false)
// if none arrives within the active budget.
func (p *Parser) PopLine() (string, bool) {
	line, ok := p.NextLine()
	if ok {
		p.lines = p.lines[1:]
	}
	return line, ok
}

// AddWatcher registers w under name, replacing any existing watcher with
// that name.
func (p *Parser) AddWatcher(name string, w watch.Watcher) {
	p.watchers[name] = w
}

// RemoveWatcher unregisters the watcher with the given name, if any.
func (p *Parser) RemoveWatcher(name string) {
	delete(p.watchers, name)
}

// Watcher returns the currently-registered watcher with the given name.
func (p *Parser) Watcher(name string) (watch.Watcher, bool) {
	w, ok := p.watchers[name]
	return w, ok
}

// ContinueUntilWatchers scans lines until at least one registered watcher
// fires on the current head line, or the active timeout expires with no
// progress. The firing subset is returned; the triggering line is left
// at the head of the buffer for the caller to inspect and pop
// deliberately.
func (p *Parser) ContinueUntilWatchers() map[string]watch.Watcher {
	deadline := time.Now().Add(p.activeTimeout)
	fired := map[string]watch.Watcher{}

	for {
		if p.HasLine() {
			head := strings.TrimSuffix(p.lines[0], "\n")
			fired = map[string]watch.Watcher{}
			for name, w := range p.watchers {
				if w.Evaluate(head) {
					fired[name] = w
				}
			}
			if len(fired) != 0 {
				return fired
			}
		}

		if p.HasLine() {
			p.lines = p.lines[1:]
			continue
		}

		p.more(time.Until(deadline))
		if time.Until(deadline) <= 0 {
			return fired
		}
	}
}

// more pulls bytes from the source for up to budget wall-clock,
// chunked to at most maxStep per underlying read, stopping as soon as a
// whole new line is produced.
func (p *Parser) more(budget time.Duration) {
	clock := time.Now()
	timeoutLeft := budget

	for {
		step := timeoutLeft
		if step > p.maxStep {
			step = p.maxStep
		}
		if step < 0 {
			step = 0
		}

		raw, err := p.source.ReadBuffer(step)
		timeoutLeft = budget - time.Since(clock)

		if err == nil && len(raw) > 0 {
			if p.appendRaw(string(raw)) {
				return
			}
		}

		if timeoutLeft <= 0 {
			return
		}
	}
}

// appendRaw folds a freshly-read chunk into the line buffer, stitching
// it onto an existing partial tail per the buffer invariant, and reports
// whether a whole new line became available. Blank lines (bare "\n")
// are dropped; strace never emits meaningful blank lines.
func (p *Parser) appendRaw(raw string) bool {
	// A chunk that starts with the newline ending a partial tail completes
	// that tail; it is not a blank line.
	completedTail := false
	if n := len(p.lines); n >= 1 && !strings.HasSuffix(p.lines[n-1], "\n") && strings.HasPrefix(raw, "\n") {
		p.lines[n-1] += "\n"
		raw = raw[1:]
		completedTail = true
	}

	segments := splitNonEmptyLines(raw)
	if len(segments) == 0 {
		return completedTail
	}

	newLine := completedTail || len(segments) > 1 || strings.HasSuffix(segments[0], "\n")

	if len(p.lines) >= 1 && !strings.HasSuffix(p.lines[len(p.lines)-1], "\n") {
		p.lines[len(p.lines)-1] += segments[0]
		segments = segments[1:]
	}
	p.lines = append(p.lines, segments...)
	return newLine
}

// splitNonEmptyLines splits raw into segments, each either a complete
// line (including its trailing '\n') or, only for the final segment, a
// newline-less partial tail. Segments that are empty but for the
// newline are dropped.
func splitNonEmptyLines(raw string) []string {
	var out []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\n' {
			segment := raw[start : i+1]
			if len(segment) > 1 {
				out = append(out, segment)
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, raw[start:])
	}
	return out
}
