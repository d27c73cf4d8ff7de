package safeproc

import (
	"github.com/giantswarm/safeproc/internal/process"
	"github.com/giantswarm/safeproc/internal/sentinel"
)

// Sentinel errors for error inspection with errors.Is.
// They are constants, so they cannot be reassigned by importing packages.
const (
	// ErrNilProcess is returned by NewHandle when the process is nil.
	ErrNilProcess = sentinel.Error("process must not be nil")

	// ErrNilStream is returned by NewGobbler when the stream is nil.
	ErrNilStream = sentinel.Error("stream must not be nil")

	// ErrInvalidTimeout is returned by Handle.WaitFor for a timeout that is
	// zero or negative. No wait is performed.
	ErrInvalidTimeout = sentinel.Error("timeout must be positive")

	// ErrTimedOut is returned by Handle.WaitFor when the deadline elapses
	// before the process exits. The process is left running; call
	// Handle.Destroy to terminate it.
	ErrTimedOut = sentinel.Error("timed out waiting for process to exit")

	// ErrNotExited is returned by Handle.ExitCode while the process is still
	// running. Process implementations should return it in the same case.
	ErrNotExited = process.ErrNotExited

	// ErrEmptyCommand is returned by Builder.Start when no command was set.
	ErrEmptyCommand = process.ErrEmptyCommand
)
