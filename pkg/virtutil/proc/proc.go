// Package proc runs external programs (isql, docker) behind a small
// interface so that callers can be tested without the binaries installed.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/virtutil/virtutil/pkg/virtutil/logging"
)

// ErrLaunch is returned when the program could not be started at all.
var ErrLaunch = errors.New("failed to launch process")

// Command describes one program invocation.
type Command struct {
	Path string
	Args []string

	// Stdin, when non-nil, is piped to the process.
	Stdin io.Reader

	// CombinedOutput sends stderr into Stdout, interleaved in the order it
	// was written. Output.Stderr stays empty.
	CombinedOutput bool

	// Secrets are redacted from String and from log records.
	Secrets []string
}

// Output is what a finished process produced. A non-zero ExitCode is not
// an error from Run.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs commands to completion.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// String renders cmd as a shell-quoted command line with secrets masked.
func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	line := shellquote.Join(parts...)
	for _, s := range c.Secrets {
		if s != "" {
			line = strings.ReplaceAll(line, s, "****")
		}
	}
	return line
}

// Prefix returns a copy of cmd run through the given wrapper, for example
// "docker exec -i container". The wrapper's first word becomes Path.
func (c Command) Prefix(wrapper ...string) Command {
	if len(wrapper) == 0 {
		return c
	}
	out := c
	out.Path = wrapper[0]
	out.Args = append(append(append([]string{}, wrapper[1:]...), c.Path), c.Args...)
	return out
}

// OS executes commands on the local machine.
type OS struct{}

var logger = logging.Get("proc")

// Run starts cmd and waits for it. Context cancellation kills the process.
func (OS) Run(ctx context.Context, cmd Command) (Output, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.CombinedOutput {
		c.Stderr = &stdout
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	logger.Debug("exec", "cmd", cmd.String())
	start := time.Now()
	err := c.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	default:
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("%w: %s: %w", ErrLaunch, cmd.Path, err)
	}

	logger.Debug("exit", "cmd", cmd.Path, "code", out.ExitCode, "took", out.Duration)
	return out, nil
}

// LookPath reports whether name resolves to an executable.
func LookPath(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found in PATH", ErrLaunch, name)
	}
	return p, nil
}
