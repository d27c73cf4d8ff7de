package safeproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/giantswarm/safeproc/internal/logging"
)

// Handle wraps a started Process. It adds a wait bounded by a timeout and a
// Close that releases the standard streams and, unless the handle keeps the
// process alive, kills it.
//
// The stream accessors, ExitCode, Destroy and WaitFor may be called from any
// goroutine. Each stream is single-consumer: if a Gobbler drains a stream,
// reading it through the accessor as well races with the gobbler.
type Handle struct {
	proc      Process
	keepAlive bool
	clock     clock.WithDelayedExecution
	log       *slog.Logger

	// watchOnce starts the single goroutine that calls proc.Wait and closes
	// exited after storing code and waitErr.
	watchOnce sync.Once
	exited    chan struct{}
	code      int
	waitErr   error

	closeOnce sync.Once
}

// NewHandle wraps p. If keepAlive is true, Close leaves the process running.
// Returns ErrNilProcess if p is nil.
func NewHandle(p Process, keepAlive bool, opts ...HandleOption) (*Handle, error) {
	if p == nil {
		return nil, ErrNilProcess
	}
	cfg := handleConfig{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Handle{
		proc:      p,
		keepAlive: keepAlive,
		clock:     cfg.clock,
		log:       logging.Or(cfg.log),
		exited:    make(chan struct{}),
	}, nil
}

// Stdin returns the process's standard input.
func (h *Handle) Stdin() io.WriteCloser { return h.proc.Stdin() }

// Stdout returns the process's standard output.
func (h *Handle) Stdout() io.ReadCloser { return h.proc.Stdout() }

// Stderr returns the process's standard error.
func (h *Handle) Stderr() io.ReadCloser { return h.proc.Stderr() }

// KeepAlive reports whether Close leaves the process running.
func (h *Handle) KeepAlive() bool { return h.keepAlive }

// Pid returns the operating system process ID, or -1 if the underlying
// Process does not expose one.
func (h *Handle) Pid() int {
	if p, ok := h.proc.(interface{ Pid() int }); ok {
		return p.Pid()
	}
	return -1
}

// ExitCode returns the exit code of the terminated process. It returns
// ErrNotExited (as reported by the Process) while the process is running.
func (h *Handle) ExitCode() (int, error) {
	return h.proc.ExitCode()
}

// Destroy forcefully terminates the process. Destroying a process that has
// already exited is not an error.
func (h *Handle) Destroy() error {
	if err := h.proc.Kill(); err != nil {
		return fmt.Errorf("destroy process: %w", err)
	}
	return nil
}

// WaitFor blocks until the process exits or timeout elapses, whichever
// comes first, and returns the exit code.
//
// A timeout that is not positive fails with ErrInvalidTimeout without
// waiting. If the deadline passes first, WaitFor fails with ErrTimedOut and
// the process keeps running. If ctx is done first, the context error is
// returned.
//
// The deadline is a one-shot callback on the handle's clock that closes a
// channel private to this call. The callback is stopped before WaitFor
// returns on every path, so an expired or pending deadline never affects a
// later wait. A process that has already exited when WaitFor is called
// reports its exit code without a deadline being scheduled.
func (h *Handle) WaitFor(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, fmt.Errorf("wait for exit: %w, got %v", ErrInvalidTimeout, timeout)
	}
	h.watch()

	select {
	case <-h.exited:
		return h.code, h.waitErr
	default:
	}

	interrupt := make(chan struct{})
	timer := h.clock.AfterFunc(timeout, func() { close(interrupt) })
	defer timer.Stop()

	select {
	case <-h.exited:
		return h.code, h.waitErr
	case <-interrupt:
		return 0, fmt.Errorf("wait for exit after %v: %w", timeout, ErrTimedOut)
	case <-ctx.Done():
		return 0, fmt.Errorf("wait for exit: %w", ctx.Err())
	}
}

// watch starts the goroutine that waits for the process, once per handle.
func (h *Handle) watch() {
	h.watchOnce.Do(func() {
		go func() {
			h.code, h.waitErr = h.proc.Wait()
			close(h.exited)
		}()
	})
}

// Close releases the handle. It closes stderr, stdout and stdin, in that
// order, attempting each regardless of whether the others failed, and then
// kills the process unless the handle keeps it alive.
//
// Close never fails: stream and kill errors are logged and discarded, so it
// is safe to defer. Calls after the first are no-ops.
func (h *Handle) Close() {
	h.closeOnce.Do(h.release)
}

func (h *Handle) release() {
	streams := []struct {
		name string
		c    io.Closer
	}{
		{"stderr", h.proc.Stderr()},
		{"stdout", h.proc.Stdout()},
		{"stdin", h.proc.Stdin()},
	}

	var errs []error
	for _, s := range streams {
		if s.c == nil {
			continue
		}
		// Streams the caller or a Gobbler already closed are not failures.
		if err := s.c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	if agg := utilerrors.NewAggregate(errs); agg != nil {
		h.log.Debug("failed to close process streams", "pid", h.Pid(), "error", agg)
	}

	if h.keepAlive {
		return
	}
	if err := h.proc.Kill(); err != nil {
		h.log.Warn("failed to kill process on close; process may be orphaned",
			"pid", h.Pid(), "error", err)
	}
}
