package safeproc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"k8s.io/utils/clock"
)

// Builder accumulates the parameters of a process and starts it. A Builder
// may start any number of processes; each Start uses the values set at that
// moment.
//
// Setters return the Builder for chaining. A Builder is not safe for
// concurrent use.
//
// Per stream, the logged flag takes precedence over the gobbled flag: with
// both set, a single logging Gobbler is attached.
type Builder struct {
	command     []string
	dir         string
	env         map[string]string
	mergeStderr bool
	keepAlive   bool
	inheritIO   bool

	gobbleStdout bool
	logStdout    bool
	gobbleStderr bool
	logStderr    bool

	launcher Launcher
	clock    clock.WithDelayedExecution
	log      *slog.Logger

	// gobble attaches a gobbler to a started process's stream. Replaced in
	// tests through export_test.go.
	gobble func(stream io.ReadCloser, logLines bool, name string) error
}

// NewBuilder returns a Builder for the given command and arguments. The
// environment starts as a copy of the current process environment; every
// other setting starts off or empty.
func NewBuilder(command ...string) *Builder {
	b := &Builder{
		command:  slices.Clone(command),
		env:      environMap(os.Environ()),
		launcher: ExecLauncher(),
		clock:    clock.RealClock{},
	}
	b.gobble = b.startGobbler
	return b
}

// WithCommand replaces the command and its arguments.
func (b *Builder) WithCommand(command ...string) *Builder {
	b.command = slices.Clone(command)
	return b
}

// WithDir sets the working directory. An empty dir inherits the caller's.
func (b *Builder) WithDir(dir string) *Builder {
	b.dir = dir
	return b
}

// WithEnv sets a single environment variable.
func (b *Builder) WithEnv(key, value string) *Builder {
	b.env[key] = value
	return b
}

// WithoutEnv removes an environment variable.
func (b *Builder) WithoutEnv(key string) *Builder {
	delete(b.env, key)
	return b
}

// WithEnvironment replaces the whole environment with a copy of env.
func (b *Builder) WithEnvironment(env map[string]string) *Builder {
	b.env = maps.Clone(env)
	if b.env == nil {
		b.env = make(map[string]string)
	}
	return b
}

// WithMergedStderr sends the child's stderr into its stdout stream. The
// handle's stderr is then always empty.
func (b *Builder) WithMergedStderr(merge bool) *Builder {
	b.mergeStderr = merge
	return b
}

// WithKeepAlive controls whether Handle.Close leaves the process running.
// By default Close kills it.
func (b *Builder) WithKeepAlive(keepAlive bool) *Builder {
	b.keepAlive = keepAlive
	return b
}

// WithInheritedIO hands the caller's stdin, stdout and stderr to the child.
// The handle's streams are then empty: reads end at once and writes are
// discarded. Gobblers attached to them have nothing to drain.
func (b *Builder) WithInheritedIO(inherit bool) *Builder {
	b.inheritIO = inherit
	return b
}

// WithStdoutGobbled drains stdout on start, discarding its lines.
func (b *Builder) WithStdoutGobbled(enable bool) *Builder {
	b.gobbleStdout = enable
	return b
}

// WithStdoutLogged drains stdout on start, logging each line.
func (b *Builder) WithStdoutLogged(enable bool) *Builder {
	b.logStdout = enable
	return b
}

// WithStderrGobbled drains stderr on start, discarding its lines.
func (b *Builder) WithStderrGobbled(enable bool) *Builder {
	b.gobbleStderr = enable
	return b
}

// WithStderrLogged drains stderr on start, logging each line.
func (b *Builder) WithStderrLogged(enable bool) *Builder {
	b.logStderr = enable
	return b
}

// WithStreamsGobbled sets both WithStdoutGobbled and WithStderrGobbled.
func (b *Builder) WithStreamsGobbled(enable bool) *Builder {
	return b.WithStdoutGobbled(enable).WithStderrGobbled(enable)
}

// WithStreamsLogged sets both WithStdoutLogged and WithStderrLogged.
func (b *Builder) WithStreamsLogged(enable bool) *Builder {
	return b.WithStdoutLogged(enable).WithStderrLogged(enable)
}

// WithLauncher replaces the Launcher used by Start.
//
// Default: ExecLauncher().
//
// Panics if l is nil.
func (b *Builder) WithLauncher(l Launcher) *Builder {
	requireNonNil("launcher", l)
	b.launcher = l
	return b
}

// WithClock sets the clock handed to started handles for WaitFor deadlines.
//
// Default: clock.RealClock{}.
//
// Panics if c is nil.
func (b *Builder) WithClock(c clock.WithDelayedExecution) *Builder {
	requireNonNil("clock", c)
	b.clock = c
	return b
}

// WithLogger sets the logger handed to started handles and gobblers. A nil
// logger selects the package-level logger (see SetLogger).
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.log = l
	return b
}

// Command returns a copy of the command and its arguments.
func (b *Builder) Command() []string { return slices.Clone(b.command) }

// Dir returns the working directory, empty if inherited.
func (b *Builder) Dir() string { return b.dir }

// Environment returns a copy of the environment.
func (b *Builder) Environment() map[string]string { return maps.Clone(b.env) }

// StderrMerged reports whether stderr is merged into stdout.
func (b *Builder) StderrMerged() bool { return b.mergeStderr }

// KeepAlive reports whether Handle.Close leaves the process running.
func (b *Builder) KeepAlive() bool { return b.keepAlive }

// IOInherited reports whether the child uses the caller's standard streams.
func (b *Builder) IOInherited() bool { return b.inheritIO }

// StdoutGobbled reports whether stdout is drained without logging.
func (b *Builder) StdoutGobbled() bool { return b.gobbleStdout }

// StdoutLogged reports whether stdout is drained with logging.
func (b *Builder) StdoutLogged() bool { return b.logStdout }

// StderrGobbled reports whether stderr is drained without logging.
func (b *Builder) StderrGobbled() bool { return b.gobbleStderr }

// StderrLogged reports whether stderr is drained with logging.
func (b *Builder) StderrLogged() bool { return b.logStderr }

// Start launches the process, wraps it in a Handle and attaches the
// configured gobblers. Launch failures, such as a missing executable, are
// returned wrapped but otherwise untouched.
//
// Streams that are not gobbled are left for the caller to read through the
// Handle. The caller owns the Handle and must Close it.
func (b *Builder) Start(ctx context.Context) (*Handle, error) {
	p, err := b.launcher.Launch(ctx, b.launchSpec())
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", b.commandName(), err)
	}

	h, err := NewHandle(p, b.keepAlive, WithHandleClock(b.clock), WithHandleLogger(b.log))
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", b.commandName(), err)
	}

	if err := b.attach(h.Stdout(), StreamStdout, b.logStdout, b.gobbleStdout); err != nil {
		h.Close()
		return nil, err
	}
	if err := b.attach(h.Stderr(), StreamStderr, b.logStderr, b.gobbleStderr); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// attach starts at most one gobbler on stream. A logging gobbler wins over
// a discarding one.
func (b *Builder) attach(stream io.ReadCloser, name string, logged, gobbled bool) error {
	switch {
	case logged:
		return b.gobble(stream, true, name)
	case gobbled:
		return b.gobble(stream, false, name)
	default:
		return nil
	}
}

func (b *Builder) startGobbler(stream io.ReadCloser, logLines bool, name string) error {
	g, err := NewGobbler(stream, logLines, WithGobblerName(name), WithGobblerLogger(b.log))
	if err != nil {
		return fmt.Errorf("gobble %s: %w", name, err)
	}
	g.Gobble()
	return nil
}

func (b *Builder) launchSpec() LaunchSpec {
	env := make([]string, 0, len(b.env))
	for _, k := range slices.Sorted(maps.Keys(b.env)) {
		env = append(env, k+"="+b.env[k])
	}
	return LaunchSpec{
		Args:        slices.Clone(b.command),
		Dir:         b.dir,
		Env:         env,
		MergeStderr: b.mergeStderr,
		KeepAlive:   b.keepAlive,
		InheritIO:   b.inheritIO,
	}
}

func (b *Builder) commandName() string {
	if len(b.command) == 0 {
		return "process"
	}
	return b.command[0]
}

// environMap converts KEY=VALUE pairs to a map. Entries without a key, such
// as the "=C:" drive entries on Windows, are skipped.
func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
