// Command safeproc runs a command with a bounded wait and guaranteed
// cleanup of the child and its streams.
//
//	safeproc run --timeout 30s -- make test
//	safeproc run --config backup.yaml --lock /run/lock/backup.lock
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
