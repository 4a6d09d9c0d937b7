package main

import (
	"fmt"
	"os"
	"time"

	"stracefuzz/pkg/catalog"
	"stracefuzz/pkg/child"
	"stracefuzz/pkg/controller"
	"stracefuzz/pkg/driver"
	"stracefuzz/pkg/generator"
	"stracefuzz/pkg/report"
	"stracefuzz/pkg/reporter"
)

type countingSink struct {
	appended int
	flushed  int
}

func (s *countingSink) Append(r report.Record) error { s.appended++; return nil }
func (s *countingSink) Flush() error                 { s.flushed++; fmt.Println("flushed"); return nil }
func (s *countingSink) Close() error                 { return nil }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func main() {
	if child.IsTraceeHelperInvocation() {
		child.RunTraceeHelper(os.Args[1:])
		os.Exit(1)
	}

	path := "/tmp/repro/catalog.json"
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		panic(err)
	}
	cat, err := catalog.Load(path)
	if err != nil {
		panic(err)
	}
	rep := reporter.New("stracefuzz-test", discardWriter{}, func(string) {})
	args := controller.Args{Program: "stracefuzz-test", Target: "/no/such/binary", StraceExecutable: "/no/such/strace"}
	g, err := generator.New(generator.Config{Args: args, Reporter: rep, Timeout: 10 * time.Millisecond, Catalog: cat})
	if err != nil {
		panic(err)
	}

	sink := &countingSink{}
	d := driver.New(driver.Config{
		Generator: g,
		Sink:      sink,
		Timeout:   10 * time.Millisecond,
	})
	fmt.Println("starting Run")
	err = d.Run()
	fmt.Println("Run returned:", err, "flushed:", sink.flushed)
}
