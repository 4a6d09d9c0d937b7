// Package watch implements sticky, stateful predicates over strace output
// lines ("watchers"). A watcher fires at most once; once fired it stays
// fired and stops re-evaluating its inner predicate.
package watch

// Watcher is the capability set every concrete variant implements: a
// predicate over a line, plus the line that caused it to fire.
type Watcher interface {
	// Evaluate runs the watcher against line and reports whether it is
	// fired (either newly, or because it was already sticky-fired).
	Evaluate(line string) bool

	// Occasion returns the line that first satisfied the watcher, or ""
	// with ok=false if it has never fired.
	Occasion() (string, bool)
}

// base implements the sticky-occasion wrapper: fire(line) { if occasion
// set -> true; if inner(line) -> set occasion; return it }. Concrete
// watchers embed base
// and supply match, never re-implementing the stickiness themselves.
type base struct {
	occasion    string
	hasOccasion bool
}

// fire applies the sticky wrapper around match, a variant's own
// predicate for this specific line.
func (b *base) fire(line string, match func(string) bool) bool {
	if b.hasOccasion {
		return true
	}
	if match(line) {
		b.occasion = line
		b.hasOccasion = true
	}
	return b.hasOccasion
}

func (b *base) Occasion() (string, bool) {
	if !b.hasOccasion {
		return "", false
	}
	return b.occasion, true
}
