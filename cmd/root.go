package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stracefuzz/pkg/catalog"
	"stracefuzz/pkg/controller"
	"stracefuzz/pkg/debugfs"
	"stracefuzz/pkg/driver"
	"stracefuzz/pkg/generator"
	"stracefuzz/pkg/report"
	"stracefuzz/pkg/reporter"
	"stracefuzz/pkg/ttybridge"
)

var (
	straceExecutable string
	outputPath       string
	catalogPath      string
	scanTimeout      time.Duration
	dedupCacheSize   int
	useTTY           bool
	debugfsPath      string
	maxFaults        int
)

var RootCmd = &cobra.Command{
	Use:   "strace-fuzz [flags] -- target [target-args...]",
	Short: "Syscall-level fault-injection fuzzer driven by strace",
	Long: `Runs a target executable under strace repeatedly, injecting one syscall
fault per run, and records the injections that crashed the target with
SIGSEGV.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCampaign(args[0], args[1:]); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.Flags().StringVarP(&straceExecutable, "strace", "s", "strace", "Path to the strace executable")
	RootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report destination: a file path, \"-\" for stdout, or \"sqlite:<path>\" (default: stderr)")
	RootCmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to the syscall-error catalog JSON (required)")
	RootCmd.Flags().DurationVar(&scanTimeout, "timeout", time.Second, "Per-scan budget for reading strace output")
	RootCmd.Flags().IntVar(&dedupCacheSize, "dedup-cache", 4096, "Bounded LRU size for fault de-duplication, 0 disables")
	RootCmd.Flags().BoolVar(&useTTY, "tty", false, "Give the tracee a pty instead of inherited stdio")
	RootCmd.Flags().StringVar(&debugfsPath, "debugfs", "", "Mount a read-only campaign introspection filesystem at this path")
	RootCmd.Flags().IntVar(&maxFaults, "max-faults", 0, "Stop after this many trials, 0 = unbounded")
	RootCmd.MarkFlagRequired("catalog")
}

func runCampaign(target string, targetArgs []string) error {
	program := filepath.Base(os.Args[0])

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return err
	}

	sink, err := openSink(outputPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctrlArgs := controller.Args{
		Program:          program,
		Target:           target,
		TargetArgs:       targetArgs,
		StraceExecutable: straceExecutable,
	}

	var bridge *ttybridge.Bridge
	if useTTY {
		bridge, err = ttybridge.Open()
		if err != nil {
			return fmt.Errorf("open pty: %w", err)
		}
		defer bridge.Close()
		tty := bridge.TraceeStdio()
		ctrlArgs.TraceeStdin, ctrlArgs.TraceeStdout, ctrlArgs.TraceeStderr = tty, tty, tty
		bridge.Start()
	}

	rep := reporter.New(program, os.Stderr, nil)

	dedup := dedupCacheSize
	if dedup == 0 {
		dedup = -1
	}
	gen, err := generator.New(generator.Config{
		Args:           ctrlArgs,
		Reporter:       rep,
		Timeout:        scanTimeout,
		Catalog:        cat,
		Seed:           time.Now().UnixNano(),
		DedupCacheSize: dedup,
	})
	if err != nil {
		return err
	}

	drv := driver.New(driver.Config{
		Args:      ctrlArgs,
		Reporter:  rep,
		Generator: gen,
		Sink:      sink,
		Timeout:   scanTimeout,
		MaxFaults: maxFaults,
	})

	var mounter *debugfs.Mounter
	if debugfsPath != "" {
		mounter, err = debugfs.Mount(debugfsPath, &campaignSource{drv: drv})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v (continuing without introspection mount)\n", program, err)
		} else {
			mounter.Serve()
			defer mounter.Unmount()
		}
	}

	// The abort hook runs synchronously from inside a controller's state
	// machine on any fatal event: release surviving children, flush the
	// partial report, restore the terminal, exit 1.
	rep.Abort = func(string) {
		if rep.Tracer != nil {
			rep.Tracer.Terminate()
		}
		if rep.Tracee != nil {
			rep.Tracee.Terminate()
		}
		sink.Flush()
		sink.Close()
		if mounter != nil {
			mounter.Unmount()
		}
		if bridge != nil {
			bridge.Close()
		}
		os.Exit(1)
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		<-interrupts
		drv.Stop()
	}()

	return drv.Run()
}

// openSink picks the report sink for the -o flag value: stderr by
// default, stdout for "-", the SQLite sink for a "sqlite:" URI, an
// append-opened file otherwise.
func openSink(path string) (report.Sink, error) {
	switch {
	case path == "":
		return report.NewTextSink(os.Stderr), nil
	case path == "-":
		return report.NewTextSink(os.Stdout), nil
	case strings.HasPrefix(path, "sqlite:"):
		return report.OpenSQLiteSink(strings.TrimPrefix(path, "sqlite:"))
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open report output: %w", err)
		}
		return report.NewTextSink(f), nil
	}
}

// campaignSource adapts the driver's campaign status to the debugfs
// introspection mount.
type campaignSource struct {
	drv *driver.Driver
}

func (s *campaignSource) CurrentFault() string {
	return s.drv.Status().CurrentFault
}

func (s *campaignSource) Stats() debugfs.Stats {
	st := s.drv.Status()
	return debugfs.Stats{
		FaultsTried: st.FaultsTried,
		Injections:  st.Injections,
		Elapsed:     time.Since(st.StartedAt),
	}
}

func (s *campaignSource) Report() string {
	return s.drv.ReportText()
}
