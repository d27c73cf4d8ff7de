package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/safeproc"
)

// runFlags holds the flags of the run command.
type runFlags struct {
	config      string
	dir         string
	env         []string
	mergeStderr bool
	keepAlive   bool
	stdout      string
	stderr      string
	timeout     time.Duration
	lock        string
	verbose     bool
}

func newRunCmd() *cobra.Command {
	var opts runFlags

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command and wait for it with a timeout",
		Long: `Run starts the command, handles its output as selected by --stdout and
--stderr and waits at most --timeout for it to exit.

safeproc exits with the command's exit code, or with
  124 if the command timed out,
  125 if safeproc itself failed,
  126 if the command could not be started,
  127 if the command was not found,
  130 if safeproc was interrupted.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := opts.job(cmd, args)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), opts.verbose)
			return runJob(cmd.Context(), j, cmd.OutOrStdout(), cmd.ErrOrStderr(), log)
		},
	}

	f := cmd.Flags()
	f.SetInterspersed(false)
	f.StringVarP(&opts.config, "config", "c", "", "Path to a YAML job file; flags override its values")
	f.StringVar(&opts.dir, "dir", "", "Working directory of the command")
	f.StringArrayVarP(&opts.env, "env", "e", nil, "Set an environment variable, KEY=VALUE (repeatable)")
	f.BoolVar(&opts.mergeStderr, "merge-stderr", false, "Send the command's stderr into its stdout")
	f.BoolVar(&opts.keepAlive, "keep-alive", false, "Leave the command running on timeout")
	f.StringVar(&opts.stdout, "stdout", string(defaultStreamMode), "What to do with stdout: inherit, gobble or log")
	f.StringVar(&opts.stderr, "stderr", string(defaultStreamMode), "What to do with stderr: inherit, gobble or log")
	f.DurationVarP(&opts.timeout, "timeout", "t", defaultTimeout, "Maximum time to wait for the command to exit")
	f.StringVar(&opts.lock, "lock", "", "Hold an exclusive lock on this file while running")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

// job builds the job to run: defaults, then the job file, then flags that
// were set explicitly, then the positional command.
func (o *runFlags) job(cmd *cobra.Command, args []string) (job, error) {
	j := defaultJob()
	if o.config != "" {
		var err error
		if j, err = loadJob(o.config); err != nil {
			return job{}, err
		}
	}

	changed := cmd.Flags().Changed
	if len(args) > 0 {
		j.Command = args
	}
	if changed("dir") {
		j.Dir = o.dir
	}
	if changed("merge-stderr") {
		j.MergeStderr = o.mergeStderr
	}
	if changed("keep-alive") {
		j.KeepAlive = o.keepAlive
	}
	if changed("stdout") {
		j.Stdout = streamMode(o.stdout)
	}
	if changed("stderr") {
		j.Stderr = streamMode(o.stderr)
	}
	if changed("timeout") {
		j.Timeout = duration(o.timeout)
	}
	if changed("lock") {
		j.Lock = o.lock
	}
	for _, kv := range o.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return job{}, fmt.Errorf("%w, got %q", errInvalidEnv, kv)
		}
		if j.Env == nil {
			j.Env = make(map[string]string)
		}
		j.Env[k] = v
	}

	return j, j.validate()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// runJob runs j to completion or timeout. A nil return means the command
// exited with status 0; every other outcome is an exitError.
func runJob(ctx context.Context, j job, stdout, stderr io.Writer, log *slog.Logger) error {
	if j.Lock != "" {
		fl, err := acquireRunLock(ctx, j.Lock)
		if err != nil {
			return exitError{code: failureCode(err), err: err}
		}
		defer releaseRunLock(log, fl)
		log.Debug("acquired run lock", "path", j.Lock)
	}

	b := safeproc.NewBuilder(j.Command...).
		WithDir(j.Dir).
		WithMergedStderr(j.MergeStderr).
		WithKeepAlive(j.KeepAlive).
		WithLogger(log)
	for k, v := range j.Env {
		b.WithEnv(k, v)
	}

	h, err := b.Start(ctx)
	if err != nil {
		return exitError{code: startFailureCode(err), err: err}
	}
	defer h.Close()
	log.Debug("started process", "command", j.Command[0], "pid", h.Pid())

	// The child gets no input.
	if err := h.Stdin().Close(); err != nil {
		log.Debug("failed to close stdin", "error", err)
	}

	var drains errgroup.Group
	if err := drain(&drains, h.Stdout(), j.Stdout, stdout, safeproc.StreamStdout, log); err != nil {
		return exitError{code: exitFailure, err: err}
	}
	if !j.MergeStderr {
		if err := drain(&drains, h.Stderr(), j.Stderr, stderr, safeproc.StreamStderr, log); err != nil {
			return exitError{code: exitFailure, err: err}
		}
	}

	deadline := time.Now().Add(j.timeout())
	code, err := h.WaitFor(ctx, j.timeout())
	switch {
	case errors.Is(err, safeproc.ErrTimedOut):
		log.Warn("process timed out", "pid", h.Pid(), "timeout", j.timeout(), "keepAlive", j.KeepAlive)
		if !j.KeepAlive {
			if err := h.Destroy(); err != nil {
				log.Warn("failed to destroy timed out process", "pid", h.Pid(), "error", err)
			}
		}
		return exitError{code: exitTimedOut}
	case err != nil:
		return exitError{code: failureCode(err), err: err}
	}

	// Output written just before exit may still be in the pipes.
	waitDrains(ctx, &drains, h, time.Until(deadline), log)
	log.Debug("process exited", "pid", h.Pid(), "code", code)

	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

// waitDrains waits up to grace for the output drains to finish. Processes
// the child left running in the background can hold its pipes open long
// after it exited; closing the handle's streams ends the drains.
func waitDrains(ctx context.Context, g *errgroup.Group, h *safeproc.Handle, grace time.Duration, log *slog.Logger) {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(max(grace, minDrainGrace))
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		log.Warn("process output still open after exit, closing streams", "pid", h.Pid())
		h.Close()
		err = <-done
	case <-ctx.Done():
		h.Close()
		err = <-done
	}
	if err != nil {
		log.Debug("failed to drain output", "error", err)
	}
}

// drain handles one output stream of the child according to mode.
func drain(g *errgroup.Group, stream io.ReadCloser, mode streamMode, w io.Writer, name string, log *slog.Logger) error {
	if mode == streamInherit {
		g.Go(func() error {
			if _, err := io.Copy(w, stream); err != nil {
				return fmt.Errorf("copy %s: %w", name, err)
			}
			return nil
		})
		return nil
	}

	gb, err := safeproc.NewGobbler(stream, mode == streamLog,
		safeproc.WithGobblerName(name), safeproc.WithGobblerLogger(log))
	if err != nil {
		return fmt.Errorf("drain %s: %w", name, err)
	}
	gb.Gobble()
	g.Go(gb.Wait)
	return nil
}

func failureCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitFailure
}

func startFailureCode(err error) int {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return exitNotFound
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitCannotStart
	}
}
