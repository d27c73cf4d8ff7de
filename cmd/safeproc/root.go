package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// exitError ends a command with a specific exit code. err, if set, is
// printed before exiting.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e exitError) Unwrap() error { return e.err }

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "safeproc",
		Short: "Run a command with a bounded wait and guaranteed cleanup",
		Long: `safeproc starts a command, drains or forwards its output, waits for it
with a timeout and always releases the child's streams. Unless told to keep
it alive, a child that outlives the timeout is killed.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// execute runs the CLI with args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "safeproc: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "safeproc: %v\n", err)
	return exitFailure
}
