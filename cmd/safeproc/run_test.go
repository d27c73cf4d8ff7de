package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writers of a run:
// stream copies and the logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runCLI executes the CLI with args and returns the exit code and outputs.
func runCLI(ctx context.Context, t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr syncBuffer
	code := execute(ctx, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun(t *testing.T) {
	t.Parallel()

	type testCase struct {
		args       []string
		wantCode   int
		wantStdout string
		wantStderr []string
	}

	tests := map[string]testCase{
		"success inherits stdout": {
			args:       []string{"run", "--", "/bin/sh", "-c", "echo hello"},
			wantStdout: "hello\n",
		},
		"exit code is passed through": {
			args:     []string{"run", "--", "/bin/sh", "-c", "exit 3"},
			wantCode: 3,
		},
		"command without separator": {
			args:       []string{"run", "/bin/sh", "-c", "echo plain"},
			wantStdout: "plain\n",
		},
		"stderr inherited": {
			args:       []string{"run", "--", "/bin/sh", "-c", "echo oops >&2"},
			wantStderr: []string{"oops"},
		},
		"merged stderr": {
			args:       []string{"run", "--merge-stderr", "--", "/bin/sh", "-c", "echo out; echo err >&2"},
			wantStdout: "out\nerr\n",
		},
		"logged stdout": {
			args:       []string{"run", "--stdout", "log", "--", "/bin/sh", "-c", "echo logged"},
			wantStderr: []string{"msg=logged", "stream=stdout"},
		},
		"gobbled stdout": {
			args: []string{"run", "--stdout", "gobble", "--", "/bin/sh", "-c", "echo hidden"},
		},
		"environment": {
			args:       []string{"run", "-e", "SAFEPROC_TEST_VALUE=42", "--", "/bin/sh", "-c", `echo "$SAFEPROC_TEST_VALUE"`},
			wantStdout: "42\n",
		},
		"timeout": {
			args:       []string{"run", "--timeout", "100ms", "--", "sleep", "30"},
			wantCode:   exitTimedOut,
			wantStderr: []string{"process timed out"},
		},
		"command not found": {
			args:       []string{"run", "--", "safeproc-test-no-such-binary-7f3a"},
			wantCode:   exitNotFound,
			wantStderr: []string{"safeproc:"},
		},
		"missing command": {
			args:       []string{"run"},
			wantCode:   exitFailure,
			wantStderr: []string{"no command to run"},
		},
		"invalid stream mode": {
			args:       []string{"run", "--stdout", "tee", "--", "true"},
			wantCode:   exitFailure,
			wantStderr: []string{"invalid stream mode"},
		},
		"invalid env": {
			args:       []string{"run", "--env", "NOVALUE", "--", "true"},
			wantCode:   exitFailure,
			wantStderr: []string{"KEY=VALUE"},
		},
		"invalid timeout": {
			args:       []string{"run", "--timeout", "0s", "--", "true"},
			wantCode:   exitFailure,
			wantStderr: []string{"timeout must be positive"},
		},
		"unknown flag": {
			args:     []string{"run", "--no-such-flag", "--", "true"},
			wantCode: exitFailure,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			code, stdout, stderr := runCLI(context.Background(), t, tc.args...)
			if code != tc.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr: %s)", code, tc.wantCode, stderr)
			}
			if stdout != tc.wantStdout {
				t.Errorf("stdout = %q, want %q", stdout, tc.wantStdout)
			}
			for _, want := range tc.wantStderr {
				if !strings.Contains(stderr, want) {
					t.Errorf("stderr = %q, want it to contain %q", stderr, want)
				}
			}
		})
	}
}

func TestRunOutputHeldByBackgroundProcess(t *testing.T) {
	t.Parallel()

	type testCase struct {
		mode       string
		wantStdout string
	}

	tests := map[string]testCase{
		"inherit": {mode: "inherit", wantStdout: "started\n"},
		"gobble":  {mode: "gobble"},
		"log":     {mode: "log"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// The shell exits at once; the sleep keeps its stdout and
			// stderr open for far longer than the timeout.
			start := time.Now()
			code, stdout, stderr := runCLI(context.Background(), t,
				"run", "--timeout", "1s", "--stdout", tc.mode, "--stderr", tc.mode,
				"--", "/bin/sh", "-c", "echo started; sleep 8 & exit 0")
			elapsed := time.Since(start)

			if code != 0 {
				t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
			}
			if elapsed > 5*time.Second {
				t.Errorf("run took %v, want it bounded by the timeout", elapsed)
			}
			if stdout != tc.wantStdout {
				t.Errorf("stdout = %q, want %q", stdout, tc.wantStdout)
			}
			if !strings.Contains(stderr, "process output still open") {
				t.Errorf("stderr = %q, want a warning about the open output", stderr)
			}
			if strings.Contains(stderr, "level=ERROR") {
				t.Errorf("stderr = %q, want no errors", stderr)
			}
		})
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	t.Parallel()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}

	code, stdout, stderr := runCLI(context.Background(), t, "run", "--dir", dir, "--", "/bin/sh", "-c", "pwd -P")
	if code != 0 {
		t.Fatalf("exit code = %d (stderr: %s)", code, stderr)
	}
	if got := strings.TrimSpace(stdout); got != dir {
		t.Errorf("pwd = %q, want %q", got, dir)
	}
}

func TestRunConfigFile(t *testing.T) {
	t.Parallel()

	path := writeJobFile(t, `
command: [/bin/sh, -c, 'echo "$GREETING"; exit 7']
env:
  GREETING: from-config
stdout: gobble
timeout: 5s
`)

	t.Run("config only", func(t *testing.T) {
		t.Parallel()

		code, stdout, _ := runCLI(context.Background(), t, "run", "--config", path)
		if code != 7 {
			t.Errorf("exit code = %d, want 7", code)
		}
		if stdout != "" {
			t.Errorf("stdout = %q, want gobbled output", stdout)
		}
	})

	t.Run("flags override", func(t *testing.T) {
		t.Parallel()

		code, stdout, _ := runCLI(context.Background(), t,
			"run", "--config", path, "--stdout", "inherit", "--env", "GREETING=from-flag")
		if code != 7 {
			t.Errorf("exit code = %d, want 7", code)
		}
		if stdout != "from-flag\n" {
			t.Errorf("stdout = %q, want %q", stdout, "from-flag\n")
		}
	})

	t.Run("positional command overrides", func(t *testing.T) {
		t.Parallel()

		code, _, _ := runCLI(context.Background(), t, "run", "--config", path, "--", "true")
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	})
}

func TestRunLock(t *testing.T) {
	t.Parallel()

	t.Run("creates lock file", func(t *testing.T) {
		t.Parallel()

		lockPath := filepath.Join(t.TempDir(), "locks", "run.lock")
		code, _, stderr := runCLI(context.Background(), t, "run", "--lock", lockPath, "--", "true")
		if code != 0 {
			t.Fatalf("exit code = %d (stderr: %s)", code, stderr)
		}
		if _, err := os.Stat(lockPath); err != nil {
			t.Errorf("lock file not left on disk: %v", err)
		}

		// Released: another holder can take it immediately.
		fl := flock.New(lockPath)
		locked, err := fl.TryLock()
		if err != nil || !locked {
			t.Fatalf("TryLock() after run = %v, %v, want true, nil", locked, err)
		}
		_ = fl.Close()
	})

	t.Run("waits for holder", func(t *testing.T) {
		t.Parallel()

		lockPath := filepath.Join(t.TempDir(), "run.lock")
		holder := flock.New(lockPath)
		locked, err := holder.TryLock()
		if err != nil || !locked {
			t.Fatalf("TryLock() = %v, %v", locked, err)
		}
		t.Cleanup(func() { _ = holder.Close() })

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		marker := filepath.Join(t.TempDir(), "ran")
		code, _, stderr := runCLI(ctx, t, "run", "--lock", lockPath, "--", "touch", marker)
		if code != exitFailure {
			t.Errorf("exit code = %d, want %d", code, exitFailure)
		}
		if !strings.Contains(stderr, "acquire run lock") {
			t.Errorf("stderr = %q, want a lock error", stderr)
		}
		if _, err := os.Stat(marker); !os.IsNotExist(err) {
			t.Error("command ran without holding the lock")
		}
	})
}

func TestRunInterrupted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	code, _, _ := runCLI(ctx, t, "run", "--timeout", "30s", "--", "sleep", "30")
	if code != exitInterrupted {
		t.Errorf("exit code = %d, want %d", code, exitInterrupted)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	code, stdout, _ := runCLI(context.Background(), t, "version")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "safeproc version: ") {
		t.Errorf("stdout = %q, want version line", stdout)
	}
}
