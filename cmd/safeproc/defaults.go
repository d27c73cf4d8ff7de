package main

import "time"

// Defaults for the run command. Flags and job files override them.
const (
	// defaultTimeout bounds how long run waits for the child to exit.
	defaultTimeout = time.Minute

	// defaultStreamMode copies the child's output to the CLI's own streams.
	defaultStreamMode = streamInherit

	// lockRetryInterval is the interval between attempts to acquire the
	// --lock file while another run holds it.
	lockRetryInterval = 50 * time.Millisecond

	// minDrainGrace is the least time run gives the child's output to reach
	// EOF after it exited, even when the timeout is nearly spent.
	minDrainGrace = 100 * time.Millisecond
)

// Exit codes of safeproc itself, following timeout(1). Any other code is
// the child's.
const (
	exitTimedOut    = 124
	exitFailure     = 125
	exitCannotStart = 126
	exitNotFound    = 127
	exitInterrupted = 130
)
