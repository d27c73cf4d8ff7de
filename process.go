package safeproc

import (
	"context"
	"io"

	"github.com/giantswarm/safeproc/internal/process"
)

// Compile-time interface satisfaction checks.
var (
	_ Process  = (*process.Process)(nil)
	_ Launcher = execLauncher{}
	_ Launcher = LauncherFunc(nil)
)

// Process is a started child process as seen by a Handle. The default
// Launcher returns processes backed by os/exec; tests and alternative
// runtimes can supply their own.
type Process interface {
	// Stdin returns the writable end of the child's standard input.
	Stdin() io.WriteCloser
	// Stdout returns the readable end of the child's standard output.
	Stdout() io.ReadCloser
	// Stderr returns the readable end of the child's standard error.
	Stderr() io.ReadCloser
	// Wait blocks until the process exits and returns its exit code. It
	// must be safe to call more than once.
	Wait() (int, error)
	// ExitCode returns the exit code, or ErrNotExited if the process is
	// still running.
	ExitCode() (int, error)
	// Kill forcefully terminates the process. It returns nil if the process
	// has already exited.
	Kill() error
}

// LaunchSpec is what a Launcher needs to start a process.
type LaunchSpec struct {
	Args        []string // Args[0] is the executable
	Dir         string   // Working directory; empty inherits the caller's
	Env         []string // KEY=VALUE pairs, the complete child environment
	MergeStderr bool     // Send stderr into the stdout stream
	KeepAlive   bool     // The process may outlive its Handle and its parent
	InheritIO   bool     // Child uses the caller's stdin, stdout and stderr
}

// Launcher starts processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, spec LaunchSpec) (Process, error)

// Launch calls f(ctx, spec).
//
//nolint:ireturn // Process is the abstraction Handle consumes.
func (f LauncherFunc) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	return f(ctx, spec)
}

// ExecLauncher returns the default Launcher, backed by os/exec. Stream
// read ends stay readable after the child exits. On Linux, a child that is
// not kept alive is killed by the kernel if the parent dies.
//
//nolint:ireturn // Returns Launcher so callers can wrap or replace it.
func ExecLauncher() Launcher {
	return execLauncher{}
}

type execLauncher struct{}

//nolint:ireturn // Process is the abstraction Handle consumes.
func (execLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	p, err := process.Start(ctx, process.Spec{
		Args:        spec.Args,
		Dir:         spec.Dir,
		Env:         spec.Env,
		MergeStderr: spec.MergeStderr,
		KeepAlive:   spec.KeepAlive,
		InheritIO:   spec.InheritIO,
	})
	if err != nil {
		// Return an untyped nil so callers never see a non-nil Process
		// wrapping a nil pointer.
		return nil, err
	}
	return p, nil
}
