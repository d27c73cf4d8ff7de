package safeproc

import (
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"
)

// requireNonNil panics if v is a nil interface with a descriptive message.
func requireNonNil(name string, v any) {
	if v == nil {
		panic(fmt.Sprintf("safeproc: %s must not be nil", name))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("safeproc: %s must not be empty", name))
	}
}

// HandleOption configures a Handle during construction via NewHandle.
//
// Options panic on invalid input. Option values are typically fixed at the
// call site, so an invalid value is a programmer error rather than a
// runtime condition.
type HandleOption func(*handleConfig)

type handleConfig struct {
	clock clock.WithDelayedExecution
	log   *slog.Logger
}

// WithHandleClock sets the clock that schedules WaitFor deadlines.
// Tests use it with k8s.io/utils/clock/testing.FakeClock.
//
// Default: clock.RealClock{}.
//
// Panics if c is nil.
func WithHandleClock(c clock.WithDelayedExecution) HandleOption {
	requireNonNil("clock", c)
	return func(cfg *handleConfig) {
		cfg.clock = c
	}
}

// WithHandleLogger sets the logger used for release failures during Close.
// A nil logger selects the package-level logger (see SetLogger).
func WithHandleLogger(l *slog.Logger) HandleOption {
	return func(cfg *handleConfig) {
		cfg.log = l
	}
}

// GobblerOption configures a Gobbler during construction via NewGobbler.
// Like HandleOption, options panic on invalid input.
type GobblerOption func(*gobblerConfig)

type gobblerConfig struct {
	name string
	log  *slog.Logger
}

// WithGobblerName labels every log entry of the gobbler with a "stream"
// attribute, e.g. "stdout". Builder names the gobblers it attaches.
//
// Panics if name is empty.
func WithGobblerName(name string) GobblerOption {
	requireNonEmpty("gobbler name", name)
	return func(cfg *gobblerConfig) {
		cfg.name = name
	}
}

// WithGobblerLogger sets the logger that receives gobbled lines at info
// level and read failures at error level. A nil logger selects the
// package-level logger (see SetLogger).
func WithGobblerLogger(l *slog.Logger) GobblerOption {
	return func(cfg *gobblerConfig) {
		cfg.log = l
	}
}
