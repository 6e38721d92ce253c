// Package isql drives the Virtuoso interactive SQL client. Every call is one
// isql process, run on the host or through "docker exec", and yields a
// Result whose Kind is derived from the exit code and output text.
package isql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/virtutil/virtutil/pkg/virtutil/logging"
	"github.com/virtutil/virtutil/pkg/virtutil/proc"
)

// Defaults for a stock Virtuoso installation.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 1111
	DefaultUser     = "dba"
	DefaultISQLPath = "isql"
	DefaultDocker   = "docker"
)

// ErrInvalidTarget is returned by Validate.
var ErrInvalidTarget = errors.New("invalid isql target")

// DockerTarget routes isql through "docker exec". An empty Container means
// isql runs on the host.
type DockerTarget struct {
	// Path to the docker binary on the host.
	Path string
	// Container name or ID.
	Container string
	// ISQLPath inside the container.
	ISQLPath string
}

// Target is where and how to run isql.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string

	// ISQLPath on the host. It may hold several words, for example a
	// wrapper script with arguments.
	ISQLPath string

	Docker DockerTarget
}

// InDocker reports whether commands go through docker exec.
func (t Target) InDocker() bool { return t.Docker.Container != "" }

// Address is host:port as passed to isql.
func (t Target) Address() string {
	return t.Host + ":" + strconv.Itoa(t.Port)
}

// WithDefaults fills unset fields with the stock defaults.
func (t Target) WithDefaults() Target {
	if t.Host == "" {
		t.Host = DefaultHost
	}
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	if t.User == "" {
		t.User = DefaultUser
	}
	if t.ISQLPath == "" {
		t.ISQLPath = DefaultISQLPath
	}
	if t.Docker.Path == "" {
		t.Docker.Path = DefaultDocker
	}
	if t.Docker.ISQLPath == "" {
		t.Docker.ISQLPath = DefaultISQLPath
	}
	return t
}

// Validate checks the fields needed to build a command line.
func (t Target) Validate() error {
	switch {
	case t.Host == "":
		return fmt.Errorf("%w: host is required", ErrInvalidTarget)
	case t.Port <= 0 || t.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, t.Port)
	case t.User == "":
		return fmt.Errorf("%w: user is required", ErrInvalidTarget)
	case t.Password == "":
		return fmt.Errorf("%w: password is required", ErrInvalidTarget)
	}
	if _, err := shellquote.Split(t.ISQLPath); err != nil {
		return fmt.Errorf("%w: isql path %q: %v", ErrInvalidTarget, t.ISQLPath, err)
	}
	return nil
}

// Command builds the process invocation. With a non-empty sql the statement
// is passed as exec="..."; otherwise isql reads its script from stdin.
func (t Target) Command(sql string) (proc.Command, error) {
	words, err := shellquote.Split(t.ISQLPath)
	if err != nil || len(words) == 0 {
		return proc.Command{}, fmt.Errorf("%w: isql path %q", ErrInvalidTarget, t.ISQLPath)
	}
	if t.InDocker() {
		words = []string{t.Docker.ISQLPath}
	}

	args := append(words[1:], t.Address(), t.User, t.Password)
	if sql != "" {
		args = append(args, "exec="+sql)
	}
	cmd := proc.Command{Path: words[0], Args: args, Secrets: []string{t.Password}}

	if t.InDocker() {
		wrapper := []string{t.Docker.Path, "exec"}
		if sql == "" {
			wrapper = append(wrapper, "-i")
		}
		cmd = cmd.Prefix(append(wrapper, t.Docker.Container)...)
	}
	return cmd, nil
}

// Runner is the subset of Client used by the drivers.
type Runner interface {
	Exec(ctx context.Context, sql string) Result
	Script(ctx context.Context, script string) Result
}

// Client runs isql against one Target.
type Client struct {
	target Target
	exec   proc.Executor
	log    *logging.Logger
}

// NewClient returns a Client. The target is completed with defaults.
func NewClient(t Target, e proc.Executor) *Client {
	return &Client{target: t.WithDefaults(), exec: e, log: logging.Get("isql")}
}

// Target returns the resolved target.
func (c *Client) Target() Target { return c.target }

// Exec runs a single statement (or a short ';'-separated list) via exec=.
func (c *Client) Exec(ctx context.Context, sql string) Result {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return Result{}
	}
	return c.run(ctx, sql, "")
}

// Script pipes script to isql's stdin in one session. Errors and results
// arrive interleaved in Stdout.
func (c *Client) Script(ctx context.Context, script string) Result {
	return c.run(ctx, "", script)
}

func (c *Client) run(ctx context.Context, sql, script string) Result {
	cmd, err := c.target.Command(sql)
	if err != nil {
		return Result{Kind: KindLaunch, Cause: err}
	}
	if sql == "" {
		cmd.Stdin = strings.NewReader(script)
		cmd.CombinedOutput = true
	}

	c.log.Debug("isql", "cmd", cmd.String())
	out, err := c.exec.Run(ctx, cmd)
	res := Result{
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: out.Duration,
	}
	if err != nil {
		res.Kind = KindLaunch
		res.Cause = err
		c.log.Error("isql failed to start", "error", err)
		return res
	}

	res.Kind = Classify(out.ExitCode, out.Stdout, out.Stderr)
	if !res.OK() {
		c.log.Debug("isql error", "kind", res.Kind, "exit", res.ExitCode, "detail", res.Message())
	}
	return res
}

// Quote renders s as an SQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// RowPrefix tags lines of machine-readable query output. Queries build
// such lines with sprintf('VUROW|%U|%U', ...), which URL-encodes each field.
const RowPrefix = "VUROW|"

// Rows extracts and decodes the tagged rows in isql output.
func Rows(stdout string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, RowPrefix)
		if !ok {
			continue
		}
		fields := strings.Split(rest, "|")
		for i, f := range fields {
			if dec, err := url.QueryUnescape(f); err == nil {
				fields[i] = dec
			}
		}
		rows = append(rows, fields)
	}
	return rows
}
