package child

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// helperEnvVar marks a re-exec of this same binary as the tracee helper:
// the process that performs the fork/handshake dance and then execs the
// real target, in place. Go cannot safely run arbitrary code between
// fork and exec in a multithreaded runtime, so instead of forking this
// process directly we re-exec
// ourselves in a restricted mode, the same trick used by self-reexecing
// process-tracing tools in the wild: switch on a hidden environment
// variable before any normal flag parsing happens.
const helperEnvVar = "STRACEFUZZ_TRACEE_HELPER"

const handshakeWait = "wait"
const handshakeStart = "start"

// IsTraceeHelperInvocation reports whether this process was re-exec'd as
// the tracee helper. main() must check this before any normal argument
// parsing and, if true, call RunTraceeHelper and never return.
func IsTraceeHelperInvocation() bool {
	return os.Getenv(helperEnvVar) != ""
}

// TraceeHandle is the user-supplied target process, started suspended at
// a handshake rendezvous so the tracer can attach before the real target
// image is exec'd.
type TraceeHandle struct {
	base

	Target string
	Args   []string

	// Stdio, if set, overrides the inherited stdin/stdout/stderr (used by
	// the optional TTY bridge to hand the tracee a pty instead).
	Stdin, Stdout, Stderr *os.File

	waitR  *os.File // parent reads "wait" here
	startW *os.File // parent writes "start" here
}

// NewTraceeHandle constructs a handle for target run with args.
func NewTraceeHandle(program, target string, args []string) *TraceeHandle {
	return &TraceeHandle{base: base{program: program}, Target: target, Args: args}
}

// Spawn forks (via self re-exec) and returns once the child process has
// started; it does not wait for the handshake rendezvous (WaitForStarted
// does).
func (t *TraceeHandle) Spawn() error {
	waitR, waitW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("tracee: wait pipe: %w", err)
	}
	startR, startW, err := os.Pipe()
	if err != nil {
		closeAll(waitR, waitW)
		return fmt.Errorf("tracee: start pipe: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		closeAll(waitR, waitW, startR, startW)
		return fmt.Errorf("tracee: resolve self executable: %w", err)
	}

	cmd := exec.Command(self, append([]string{t.Target}, t.Args...)...)
	cmd.Env = append(os.Environ(), helperEnvVar+"=1")
	cmd.ExtraFiles = []*os.File{waitW, startR} // become fd 3, fd 4 in the child
	cmd.Stdin = orDefault(t.Stdin, os.Stdin)
	cmd.Stdout = orDefault(t.Stdout, os.Stdout)
	cmd.Stderr = orDefault(t.Stderr, os.Stderr)

	if err := cmd.Start(); err != nil {
		closeAll(waitR, waitW, startR, startW)
		return fmt.Errorf("tracee: spawn: %w", err)
	}

	t.pid = cmd.Process.Pid
	// The child has its own dup of these; our copies would otherwise keep
	// the pipes alive even after the child exits, masking EOF/broken-pipe
	// detection.
	waitW.Close()
	startR.Close()
	t.waitR = waitR
	t.startW = startW
	return nil
}

func orDefault(f, def *os.File) *os.File {
	if f != nil {
		return f
	}
	return def
}

// WaitForStarted blocks until the child either writes "wait" (it reached
// the rendezvous) or closes its end (it died first). It cannot itself
// block indefinitely in any pathological way: the child either writes
// promptly or is already gone.
func (t *TraceeHandle) WaitForStarted() bool {
	buf := make([]byte, len(handshakeWait))
	n, err := io.ReadFull(t.waitR, buf)
	return err == nil && n == len(buf) && string(buf) == handshakeWait
}

// StartActualTracee authorizes the child to exec the real target. It
// returns false (not an error) on a broken pipe.
func (t *TraceeHandle) StartActualTracee() bool {
	_, err := t.startW.Write([]byte(handshakeStart))
	return err == nil
}

// Terminate is idempotent: SIGKILL if still running, blocking reap, then
// release pipe endpoints.
func (t *TraceeHandle) Terminate() {
	t.terminate()
	if t.startW != nil {
		t.startW.Close()
		t.startW = nil
	}
	if t.waitR != nil {
		t.waitR.Close()
		t.waitR = nil
	}
}

// RunTraceeHelper is the re-exec'd child side of the handshake. It is
// invoked from main() before any normal argument parsing happens,
// whenever helperEnvVar is set. args is [target, target-args...]. It
// never returns on the success path: it replaces this process image
// with the target via syscall.Exec.
func RunTraceeHelper(args []string) {
	waitW := os.NewFile(3, "tracee-wait-w")
	startR := os.NewFile(4, "tracee-start-r")

	if _, err := waitW.Write([]byte(handshakeWait)); err != nil {
		sayParentWasKilled()
		os.Exit(1)
	}

	buf := make([]byte, len(handshakeStart))
	n, err := io.ReadFull(startR, buf)
	if err != nil {
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			// Not the handshake-broke-down case; still a silent exit.
			os.Exit(1)
		}
		sayParentWasKilled()
		os.Exit(1)
	}
	if n != len(buf) || string(buf) != handshakeStart {
		os.Exit(1)
	}

	if len(args) == 0 {
		os.Exit(1)
	}
	target := args[0]
	targetArgs := args[1:]

	path, err := exec.LookPath(target)
	if err != nil {
		// Permitted to exit 1 silently: the parent detects this through
		// the absence of the expected execve(...) line.
		os.Exit(1)
	}

	argv := append([]string{target}, targetArgs...)
	_ = syscall.Exec(path, argv, os.Environ())
	os.Exit(1) // only reached if Exec itself failed
}

func sayParentWasKilled() {
	fmt.Fprintln(os.Stderr, "tracee: main program was terminated")
}
