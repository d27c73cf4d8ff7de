package safeproc

import (
	"log/slog"

	"github.com/giantswarm/safeproc/internal/logging"
)

// SetLogger replaces the package-level logger used by handles and gobblers
// that were not given one explicitly (see Builder.WithLogger,
// WithHandleLogger and WithGobblerLogger). The provided logger is used as
// is; safeproc adds no attributes to it.
//
// If l is nil, the logger resets to slog.Default() with a
// "component"="safeproc" attribute, derived on the next use and cached.
// Call SetLogger(nil) after slog.SetDefault() to pick up the change.
//
// SetLogger is safe to call concurrently with other safeproc operations,
// but components capture the logger when they are constructed, so it only
// affects handles and gobblers created afterwards.
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}
