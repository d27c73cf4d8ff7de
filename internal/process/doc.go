// Package process launches child processes with parent-owned stdio pipes.
//
// Start returns a Process whose stdout and stderr remain readable after the
// child has exited and been reaped. A single goroutine per process calls
// exec.Cmd.Wait and publishes the exit status; Wait, ExitCode and Exited
// all read from it, so any number of callers may wait concurrently.
package process
