// Package safeproc starts child processes and guarantees their release.
//
// A Builder accumulates the launch parameters and starts the process. The
// returned Handle exposes the child's standard streams, a wait bounded by a
// timeout, and a Close method that releases all three streams and, unless
// the process was configured to be kept alive, kills it. Close is safe to
// defer and to call more than once.
//
// # Basic Usage
//
//	h, err := safeproc.NewBuilder("/bin/sh", "-c", "make test").
//	    WithDir(repoDir).
//	    WithStreamsLogged(true).
//	    Start(ctx)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	code, err := h.WaitFor(ctx, 5*time.Minute)
//	if errors.Is(err, safeproc.ErrTimedOut) {
//	    // The process is still running; Close kills it.
//	    return err
//	}
//
// # Gobblers
//
// A child blocks once the pipe buffer of an unread stream fills up. A
// Gobbler reads a stream line by line on a background goroutine and either
// discards each line or logs it at info level. Builder attaches gobblers to
// stdout and stderr on request (WithStdoutGobbled, WithStdoutLogged and the
// stderr and combined variants); NewGobbler creates one for any stream.
//
// Background goroutines started by this package never keep a program
// alive: returning from main ends them.
//
// # Keep-Alive
//
// WithKeepAlive(true) makes Handle.Close release only the streams, leaving
// the process running, for example to start a detached service.
package safeproc
