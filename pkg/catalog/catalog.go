// Package catalog loads the static syscall -> []errno mapping produced by
// the (out of scope) man-page scraper and consumed once at generator
// construction.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Catalog maps a syscall name to the errno mnemonics it may legitimately
// return, per the man pages.
type Catalog struct {
	bySyscall map[string][]string
}

// Load reads the catalog JSON file: a single object whose keys are
// syscall names and values are arrays of errno strings.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	return &Catalog{bySyscall: raw}, nil
}

// Lookup returns the errno mnemonics known for syscall, and whether the
// syscall is present in the catalog at all.
func (c *Catalog) Lookup(syscall string) ([]string, bool) {
	errs, ok := c.bySyscall[syscall]
	return errs, ok
}

// Syscalls returns every syscall name present in the catalog.
func (c *Catalog) Syscalls() []string {
	out := make([]string, 0, len(c.bySyscall))
	for s := range c.bySyscall {
		out = append(out, s)
	}
	return out
}

// Len reports how many syscalls the catalog covers.
func (c *Catalog) Len() int {
	return len(c.bySyscall)
}
