package safeproc_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/safeproc"
)

// testTimeout bounds every blocking step so a regression fails instead of
// hanging the test binary.
const testTimeout = 10 * time.Second

// pollInterval is the interval for wait.PollUntilContextTimeout in tests.
const pollInterval = 5 * time.Millisecond

// eventually polls cond until it returns true or testTimeout elapses.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	err := wait.PollUntilContextTimeout(context.Background(), pollInterval, testTimeout, true,
		func(context.Context) (bool, error) {
			return cond(), nil
		})
	if err != nil {
		t.Fatalf("waiting for %s: %v", what, err)
	}
}

// fakeProcess is a test double for safeproc.Process. It records stream
// closes and kills in order so tests can assert Close sequencing.
type fakeProcess struct {
	stdin  *fakeStream
	stdout *fakeStream
	stderr *fakeStream

	done chan struct{}
	code int

	mu     sync.Mutex
	events []string
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{done: make(chan struct{})}
	p.stdin = &fakeStream{name: "stdin", owner: p}
	p.stdout = &fakeStream{name: "stdout", owner: p}
	p.stderr = &fakeStream{name: "stderr", owner: p}
	return p
}

func (p *fakeProcess) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Events returns a copy of the recorded events.
func (p *fakeProcess) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// finish makes the process exit with code.
func (p *fakeProcess) finish(code int) {
	p.code = code
	close(p.done)
}

func (p *fakeProcess) Stdin() io.WriteCloser {
	if p.stdin == nil {
		return nil
	}
	return p.stdin
}

func (p *fakeProcess) Stdout() io.ReadCloser {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

func (p *fakeProcess) Stderr() io.ReadCloser {
	if p.stderr == nil {
		return nil
	}
	return p.stderr
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *fakeProcess) ExitCode() (int, error) {
	select {
	case <-p.done:
		return p.code, nil
	default:
		return 0, safeproc.ErrNotExited
	}
}

func (p *fakeProcess) Kill() error {
	p.record("kill")
	return nil
}

// fakeStream is an empty stream that records Close calls on its owner.
type fakeStream struct {
	name     string
	owner    *fakeProcess
	closeErr error
}

func (s *fakeStream) Read([]byte) (int, error) { return 0, io.EOF }

func (s *fakeStream) Write(b []byte) (int, error) { return len(b), nil }

func (s *fakeStream) Close() error {
	s.owner.record("close " + s.name)
	return s.closeErr
}

// trackingReader wraps a reader and counts Close calls.
type trackingReader struct {
	io.Reader

	mu     sync.Mutex
	closed int
}

func (r *trackingReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *trackingReader) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// failingReader yields data and then fails with err.
type failingReader struct {
	data string
	err  error
	read bool
}

func (r *failingReader) Read(b []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(b, r.data), nil
	}
	return 0, r.err
}

func (r *failingReader) Close() error { return nil }

var errBoom = errors.New("boom")

// logEntry is a captured log record.
type logEntry struct {
	level slog.Level
	msg   string
	attrs map[string]string
}

// logSink collects entries from every captureHandler derived from it.
type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

func (s *logSink) Entries() []logEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logEntry(nil), s.entries...)
}

// EntriesAt returns the entries at level.
func (s *logSink) EntriesAt(level slog.Level) []logEntry {
	var out []logEntry
	for _, e := range s.Entries() {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

// captureHandler is a slog.Handler that records every record it handles.
type captureHandler struct {
	sink  *logSink
	attrs []slog.Attr
}

func newCaptureLogger() (*slog.Logger, *logSink) {
	sink := &logSink{}
	return slog.New(&captureHandler{sink: sink}), sink
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	e := logEntry{level: r.Level, msg: r.Message, attrs: make(map[string]string)}
	for _, a := range h.attrs {
		e.attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		e.attrs[a.Key] = a.Value.String()
		return true
	})

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.entries = append(h.sink.entries, e)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{sink: h.sink, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }
