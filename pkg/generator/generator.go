// Package generator implements the injection generator: a lazy,
// conceptually infinite sequence of Fault draws built from a one-time
// probe of the target's syscall trace.
package generator

import (
	"fmt"
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"stracefuzz/pkg/catalog"
	"stracefuzz/pkg/controller"
	"stracefuzz/pkg/fault"
	"stracefuzz/pkg/reporter"
)

// defaultDedupCacheSize bounds how many recently-emitted fault
// directives the generator remembers to avoid immediately repeating a
// draw.
const defaultDedupCacheSize = 4096

// Generator runs the probe controller once, lazily, on the first Next
// call, then yields Fault values drawn by weighted sampling forever.
type Generator struct {
	args     controller.Args
	reporter *reporter.Reporter
	timeout  time.Duration
	catalog  *catalog.Catalog
	rng      *rand.Rand
	dedup    *lru.Cache[string, struct{}]

	probed bool

	syscalls     []string // each injectable syscall repeated once per observed occurrence
	count        map[string]int
	countDropped map[string]int
}

// Config bundles the generator's constructor arguments.
type Config struct {
	Args           controller.Args
	Reporter       *reporter.Reporter
	Timeout        time.Duration
	Catalog        *catalog.Catalog
	Seed           int64
	DedupCacheSize int // 0 uses defaultDedupCacheSize, negative disables dedup
}

// New constructs a Generator. The probe does not run until the first
// call to Next.
func New(cfg Config) (*Generator, error) {
	var dedup *lru.Cache[string, struct{}]
	if size := cfg.DedupCacheSize; size >= 0 {
		if size == 0 {
			size = defaultDedupCacheSize
		}
		var err error
		dedup, err = lru.New[string, struct{}](size)
		if err != nil {
			return nil, fmt.Errorf("generator: dedup cache: %w", err)
		}
	}
	return &Generator{
		args:         cfg.Args,
		reporter:     cfg.Reporter,
		timeout:      cfg.Timeout,
		catalog:      cfg.Catalog,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		dedup:        dedup,
		countDropped: make(map[string]int),
	}, nil
}

// probe runs the probe controller once and builds the weighted
// syscall pool plus the dropped-occurrence offsets.
func (g *Generator) probe() error {
	p := controller.NewProbe(g.args, g.reporter, g.timeout)
	p.Execute()
	if p.Failed() {
		return fmt.Errorf("generator: probe run failed")
	}

	count := make(map[string]int)
	for _, sc := range p.ListSyscalls() {
		count[sc]++
	}
	for _, sc := range p.ListDroppedSyscalls() {
		g.countDropped[sc]++
	}

	// Reject syscalls absent from the catalog, but weight the remaining
	// pool by observed frequency (a syscall invoked 50 times is 50x more
	// likely to be picked than one invoked once) by repeating each
	// syscall name `count[syscall]` times. g.count gives draw its
	// per-syscall occurrence range.
	g.count = count
	for sc, n := range count {
		if _, ok := g.catalog.Lookup(sc); !ok {
			continue
		}
		for i := 0; i < n; i++ {
			g.syscalls = append(g.syscalls, sc)
		}
	}
	g.probed = true
	return nil
}

// Next draws the next candidate Fault. It is deduplicated against a
// bounded recent-history cache: if the drawn tuple was already emitted
// recently, it draws again (the sequence is conceptually infinite, so
// redrawing does not change its semantics, only its practical yield).
func (g *Generator) Next() (fault.Fault, error) {
	if !g.probed {
		if err := g.probe(); err != nil {
			return fault.Fault{}, err
		}
	}
	if len(g.syscalls) == 0 {
		return fault.Fault{}, fmt.Errorf("generator: no catalog-known syscalls were observed during the probe")
	}
	if g.dedup == nil {
		return g.draw(), nil
	}

	for attempts := 0; attempts < g.dedup.Len()+1; attempts++ {
		f := g.draw()
		key := f.Directive()
		if g.dedup.Contains(key) {
			continue
		}
		g.dedup.Add(key, struct{}{})
		return f, nil
	}
	// The cache is saturated with nothing but recent draws; emit anyway
	// rather than spin forever.
	return g.draw(), nil
}

func (g *Generator) draw() fault.Fault {
	syscall := g.syscalls[g.rng.Intn(len(g.syscalls))]

	occurrence := g.rng.Intn(g.count[syscall]) + 1
	// The tracer's own -e occurrence counter includes syscalls observed
	// during the startup window before the target's execve returned, so
	// the drawn occurrence must add them back in. The inject controller
	// subtracts its own run's dropped count again before matching, since
	// its watcher only sees post-execve lines.
	occurrence += g.countDropped[syscall]

	errs, _ := g.catalog.Lookup(syscall) // syscall is only ever added to g.syscalls after a successful Lookup
	errno := errs[g.rng.Intn(len(errs))]

	f, err := fault.New(syscall, errno, occurrence)
	if err != nil {
		// occurrence is always >= 1 by construction (Intn(n)+1, n >= 1
		// since count[syscall] >= 1 for any syscall in g.syscalls).
		panic(fmt.Sprintf("generator: impossible fault: %v", err))
	}
	return f
}
