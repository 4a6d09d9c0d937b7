package watch

import "regexp"

// Regex fires when the configured pattern matches the line
// (regexp.MatchString semantics: the pattern anchors itself with ^ where
// that matters). Exposes the
// capture groups of the match that fired it.
type Regex struct {
	base
	re      *regexp.Regexp
	matches []string
}

// NewRegex compiles pattern. Panics on an invalid pattern since watcher
// patterns are always constructed from constants at controller-setup
// time, never from untrusted input.
func NewRegex(pattern string) *Regex {
	return &Regex{re: regexp.MustCompile(pattern)}
}

func (w *Regex) Evaluate(line string) bool {
	return w.fire(line, func(l string) bool {
		m := w.re.FindStringSubmatch(l)
		if m == nil {
			return false
		}
		w.matches = m
		return true
	})
}

// Group returns the named capture group from the line that fired this
// watcher, or "" if the watcher has not fired or the group didn't match.
func (w *Regex) Group(name string) string {
	if w.matches == nil {
		return ""
	}
	idx := w.re.SubexpIndex(name)
	if idx < 0 || idx >= len(w.matches) {
		return ""
	}
	return w.matches[idx]
}
