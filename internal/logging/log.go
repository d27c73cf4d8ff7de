// Package logging holds the package-wide logger shared by safeproc
// components that were not handed a logger explicitly.
package logging

import (
	"log/slog"
	"sync/atomic"
)

// custom is the logger installed through Set. nil means none was set.
var custom atomic.Pointer[slog.Logger]

// derived caches slog.Default().With("component", "safeproc") after the
// first Logger call. Set clears it so that a later slog.SetDefault can be
// picked up by calling Set(nil).
var derived atomic.Pointer[slog.Logger]

// Logger returns the logger set with Set or, if none, a cached logger
// derived from slog.Default(). It never returns nil and is safe for
// concurrent use.
func Logger() *slog.Logger {
	if l := custom.Load(); l != nil {
		return l
	}
	if l := derived.Load(); l != nil {
		return l
	}
	l := slog.Default().With("component", "safeproc")
	if derived.CompareAndSwap(nil, l) {
		return l
	}
	// Lost the race to another Logger call, or a concurrent Set cleared the
	// cache. Either way l is a valid fallback.
	if winner := derived.Load(); winner != nil {
		return winner
	}
	return l
}

// Set replaces the package logger. A nil l restores the default.
func Set(l *slog.Logger) {
	custom.Store(l)
	derived.Store(nil)
}

// Or returns l when it is non-nil and Logger() otherwise.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}
