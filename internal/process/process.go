package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/giantswarm/safeproc/internal/sentinel"
)

// ErrEmptyCommand is returned by Start when Spec.Args is empty.
const ErrEmptyCommand = sentinel.Error("command must not be empty")

// ErrNotExited is returned by ExitCode while the process is still running.
const ErrNotExited = sentinel.Error("process has not exited")

// Spec describes a process to launch.
type Spec struct {
	Args        []string // Args[0] is the executable, resolved via PATH
	Dir         string   // Working directory; empty inherits the caller's
	Env         []string // KEY=VALUE pairs; nil inherits the caller's environment
	MergeStderr bool     // Send stderr into the stdout pipe
	KeepAlive   bool     // Let the child outlive an abruptly killed parent
	InheritIO   bool     // Child uses the caller's stdin, stdout and stderr
}

// Process is a started child process.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// exited is closed by the wait goroutine after code and err are set.
	exited chan struct{}
	code   int
	err    error
}

// Start launches the process described by spec. The context is only
// consulted before launching: cancelling it later does not affect the child.
//
// Errors from exec (e.g. executable not found) are wrapped and returned
// unchanged otherwise, so callers can match exec.ErrNotFound or
// fs.ErrNotExist.
func Start(ctx context.Context, spec Spec) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, ErrEmptyCommand
	}
	name := spec.Args[0]
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	cmd := exec.Command(name, spec.Args[1:]...) //nolint:gosec // launching arbitrary commands is the purpose of this package
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	configureSysProcAttr(cmd, spec.KeepAlive)

	if spec.InheritIO {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		if spec.MergeStderr {
			cmd.Stderr = os.Stdout
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
		return watch(cmd, discardInput{}, emptyStream{}, emptyStream{}), nil
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	// Child ends are closed in the parent once the child holds its own
	// copies; otherwise the parent's reads would never see EOF.
	childEnds := []io.Closer{stdinR, stdoutW}
	var stderr io.ReadCloser = emptyStream{}
	childStderr := stdoutW
	if !spec.MergeStderr {
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			closeAll(stdinR, stdinW, stdoutR, stdoutW)
			return nil, fmt.Errorf("create stderr pipe: %w", err)
		}
		stderr, childStderr = stderrR, stderrW
		childEnds = append(childEnds, stderrW)
	}

	// Passing *os.File values makes exec hand the descriptors straight to
	// the child without copy goroutines, so cmd.Wait never closes the
	// parent's read ends.
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = childStderr

	startErr := cmd.Start()
	closeAll(childEnds...)
	if startErr != nil {
		closeAll(stdinW, stdoutR, stderr)
		return nil, fmt.Errorf("start %s: %w", name, startErr)
	}

	return watch(cmd, stdinW, stdoutR, stderr), nil
}

// watch wraps a started cmd and its parent-side streams in a Process.
func watch(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *Process {
	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}

	// cmd.Wait must be called exactly once per started process. Everything
	// else observes the result through the exited channel.
	go func() {
		waitErr := cmd.Wait()
		p.code, p.err = exitStatus(cmd.ProcessState, waitErr)
		close(p.exited)
	}()

	return p
}

// Stdin returns the write end of the child's standard input. With InheritIO
// writes are discarded.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the read end of the child's standard output. With InheritIO
// it is an empty stream.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// Stderr returns the read end of the child's standard error. When the
// process was started with MergeStderr or InheritIO it is an empty stream.
func (p *Process) Stderr() io.ReadCloser { return p.stderr }

// Pid returns the operating system process ID.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Exited returns a channel that is closed once the process has exited and
// its status is available.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() (int, error) {
	<-p.exited
	return p.code, p.err
}

// ExitCode returns the exit code of a process that has exited, or
// ErrNotExited if it is still running.
func (p *Process) ExitCode() (int, error) {
	select {
	case <-p.exited:
		return p.code, p.err
	default:
		return 0, ErrNotExited
	}
}

// Kill forcefully terminates the process. Killing a process that has
// already exited is not an error.
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return fmt.Errorf("kill pid %d: %w", p.cmd.Process.Pid, err)
}

// emptyStream stands in for an output the parent cannot read: stderr merged
// into stdout, or either stream when the child inherits the caller's.
type emptyStream struct{}

func (emptyStream) Read([]byte) (int, error) { return 0, io.EOF }

func (emptyStream) Close() error { return nil }

// discardInput stands in for stdin when the child reads the caller's.
type discardInput struct{}

func (discardInput) Write(b []byte) (int, error) { return len(b), nil }

func (discardInput) Close() error { return nil }

// closeAll closes each c, discarding errors. Used only on setup paths
// where the descriptors were never handed to a caller.
func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}
