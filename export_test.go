package safeproc

import "io"

// GobbleFunc is the signature of the hook Builder.Start uses to attach a
// gobbler to a stream.
type GobbleFunc = func(stream io.ReadCloser, logLines bool, name string) error

// SetGobbleHookForTesting replaces the function Start uses to attach
// gobblers, so tests can observe which streams are drained and how.
// Exported only for use in package safeproc_test.
func (b *Builder) SetGobbleHookForTesting(fn GobbleFunc) *Builder {
	b.gobble = fn
	return b
}

// TrimLineEnding exposes trimLineEnding to package safeproc_test.
func TrimLineEnding(line string) string { return trimLineEnding(line) }
