package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/safeproc/internal/sentinel"
)

const (
	errMissingCommand = sentinel.Error("no command to run")
	errInvalidMode    = sentinel.Error("invalid stream mode")
	errInvalidTimeout = sentinel.Error("timeout must be positive")
	errInvalidEnv     = sentinel.Error("environment entry must be KEY=VALUE")
)

// streamMode selects what run does with one of the child's output streams.
type streamMode string

const (
	// streamInherit copies the stream to the CLI's own stream.
	streamInherit streamMode = "inherit"
	// streamGobble drains and discards the stream.
	streamGobble streamMode = "gobble"
	// streamLog drains the stream, logging every line.
	streamLog streamMode = "log"
)

func parseStreamMode(s string) (streamMode, error) {
	switch m := streamMode(s); m {
	case streamInherit, streamGobble, streamLog:
		return m, nil
	default:
		return "", fmt.Errorf("%w %q, want one of inherit, gobble, log", errInvalidMode, s)
	}
}

// duration is a time.Duration written as a Go duration string in YAML,
// e.g. "90s" or "5m".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: decode duration: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = duration(parsed)
	return nil
}

// job is one process to run. It is read from an optional YAML file and
// then overridden by flags.
//
//	command: [pg_dump, --file, /backup/db.sql, app]
//	dir: /var/lib/backup
//	env:
//	  PGHOST: db.internal
//	stdout: log
//	stderr: log
//	timeout: 10m
//	lock: /run/lock/backup.lock
type job struct {
	Command     []string          `yaml:"command"`
	Dir         string            `yaml:"dir"`
	Env         map[string]string `yaml:"env"`
	MergeStderr bool              `yaml:"mergeStderr"`
	KeepAlive   bool              `yaml:"keepAlive"`
	Stdout      streamMode        `yaml:"stdout"`
	Stderr      streamMode        `yaml:"stderr"`
	Timeout     duration          `yaml:"timeout"`
	Lock        string            `yaml:"lock"`
}

func defaultJob() job {
	return job{
		Stdout:  defaultStreamMode,
		Stderr:  defaultStreamMode,
		Timeout: duration(defaultTimeout),
	}
}

// loadJob reads a job file on top of the defaults. Unknown keys are
// rejected so that typos do not silently fall back to a default.
func loadJob(path string) (job, error) {
	j := defaultJob()

	data, err := os.ReadFile(path)
	if err != nil {
		return job{}, fmt.Errorf("read job file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&j); err != nil && !errors.Is(err, io.EOF) {
		return job{}, fmt.Errorf("parse job file %s: %w", path, err)
	}
	return j, nil
}

func (j job) timeout() time.Duration { return time.Duration(j.Timeout) }

func (j job) validate() error {
	if len(j.Command) == 0 {
		return errMissingCommand
	}
	if j.timeout() <= 0 {
		return fmt.Errorf("%w, got %v", errInvalidTimeout, j.timeout())
	}
	for _, m := range []streamMode{j.Stdout, j.Stderr} {
		if _, err := parseStreamMode(string(m)); err != nil {
			return err
		}
	}
	return nil
}
