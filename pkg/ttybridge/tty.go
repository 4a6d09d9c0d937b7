// Package ttybridge implements the optional pty bridge for the tracee's
// stdio: some fuzz targets refuse to run at all without a controlling
// terminal, which would make every trial a false negative.
package ttybridge

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Bridge owns a pty pair: the slave end becomes the tracee's stdio, the
// master end is a plain passthrough between the fuzzer's own terminal
// and the tracee. It carries no trace data; strace's stderr is still
// collected through the dedicated pipe set up by the child package.
type Bridge struct {
	ptmx, tty *os.File

	oldState *term.State
	winch    chan os.Signal
	stopCopy chan struct{}
}

// Open allocates a new pty pair.
func Open() (*Bridge, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}
	return &Bridge{ptmx: ptmx, tty: tty, stopCopy: make(chan struct{})}, nil
}

// TraceeStdio returns the slave end of the pty, to be assigned to all
// three of child.TraceeHandle's Stdin/Stdout/Stderr overrides.
func (b *Bridge) TraceeStdio() *os.File {
	return b.tty
}

// Start puts the fuzzer's own stdin into raw mode (skipped when stdin
// isn't a terminal, e.g. redirected in CI), wires up SIGWINCH
// propagation, and begins copying bytes between the fuzzer's terminal
// and the pty master. It does not depend on any tracee having been
// spawned yet; Close must be called exactly once to restore terminal
// state.
func (b *Bridge) Start() {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		if oldState, err := term.MakeRaw(int(os.Stdin.Fd())); err == nil {
			b.oldState = oldState
		}
	}

	b.winch = make(chan os.Signal, 1)
	signal.Notify(b.winch, syscall.SIGWINCH)
	go func() {
		for range b.winch {
			pty.InheritSize(os.Stdin, b.ptmx)
		}
	}()
	b.winch <- syscall.SIGWINCH // initial size sync

	go io.Copy(b.ptmx, os.Stdin)
	go func() {
		io.Copy(os.Stdout, b.ptmx)
		close(b.stopCopy)
	}()
}

// Wait blocks until the pty master has been closed and its pty->stdout
// copy goroutine has drained, i.e. the tracee closed its end.
func (b *Bridge) Wait() {
	<-b.stopCopy
}

// Close restores the fuzzer's own terminal state and releases both
// ends of the pty. Safe to call even if Start was never called.
func (b *Bridge) Close() error {
	if b.winch != nil {
		signal.Stop(b.winch)
	}
	if b.oldState != nil {
		term.Restore(int(os.Stdin.Fd()), b.oldState)
	}
	b.tty.Close()
	return b.ptmx.Close()
}
