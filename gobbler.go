package safeproc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/safeproc/internal/logging"
)

// Stream names used by Builder for the "stream" log attribute.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Gobbler drains a stream line by line on a background goroutine so that
// the process writing to it never blocks on a full pipe. Each line is
// logged at info level, with the line as the message, or discarded.
//
// The goroutine runs until the stream reaches EOF, a read fails, or Close
// is called. Close is cooperative: a read already in progress finishes on
// its own, but closing the stream usually unblocks it immediately.
type Gobbler struct {
	stream   io.ReadCloser
	logLines bool
	log      *slog.Logger

	// cancelled is the only state shared with the worker goroutine.
	cancelled atomic.Bool

	startOnce sync.Once
	group     errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// NewGobbler returns a Gobbler for stream. If logLines is false, lines are
// discarded. Returns ErrNilStream if stream is nil.
func NewGobbler(stream io.ReadCloser, logLines bool, opts ...GobblerOption) (*Gobbler, error) {
	if stream == nil {
		return nil, ErrNilStream
	}
	var cfg gobblerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	log := logging.Or(cfg.log)
	if cfg.name != "" {
		log = log.With("stream", cfg.name)
	}
	return &Gobbler{
		stream:   stream,
		logLines: logLines,
		log:      log,
	}, nil
}

// Gobble starts the background goroutine. Only the first call has an
// effect.
func (g *Gobbler) Gobble() {
	g.startOnce.Do(func() {
		g.group.Go(g.drain)
	})
}

// Wait blocks until the background goroutine has finished and returns the
// read error that stopped it, if any. End of stream and reads cut short by
// Close are not errors. Wait returns nil immediately if Gobble was never
// called.
func (g *Gobbler) Wait() error {
	return g.group.Wait()
}

// Close stops the gobbler and closes the stream. Both happen even if the
// goroutine has already finished. Calls after the first return the result
// of the first.
func (g *Gobbler) Close() error {
	g.closeOnce.Do(func() {
		g.cancelled.Store(true)
		if err := g.stream.Close(); err != nil {
			g.closeErr = fmt.Errorf("close gobbled stream: %w", err)
		}
	})
	return g.closeErr
}

func (g *Gobbler) drain() error {
	r := bufio.NewReader(g.stream)
	for !g.cancelled.Load() {
		line, err := r.ReadString('\n')
		if line != "" && g.logLines {
			g.log.Info(trimLineEnding(line))
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		// Close, or a Handle owning the stream, pulled it out from under a
		// pending read.
		if g.cancelled.Load() || errors.Is(err, os.ErrClosed) {
			g.log.Debug("gobbler stopped", "error", err)
			return nil
		}
		if g.logLines {
			g.log.Error("failed to gobble stream", "error", err)
		}
		return fmt.Errorf("gobble stream: %w", err)
	}
	return nil
}

// trimLineEnding removes a trailing "\n" or "\r\n".
func trimLineEnding(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
