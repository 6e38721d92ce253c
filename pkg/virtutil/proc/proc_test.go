package proc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandString(t *testing.T) {
	cmd := Command{
		Path:    "isql",
		Args:    []string{"localhost:1111", "dba", "s3cret", "exec=checkpoint;"},
		Secrets: []string{"s3cret"},
	}
	got := cmd.String()
	assert.NotContains(t, got, "s3cret")
	assert.Contains(t, got, "****")
	assert.Contains(t, got, "'exec=checkpoint;'")
}

func TestCommandPrefix(t *testing.T) {
	cmd := Command{Path: "isql", Args: []string{"localhost:1111"}}
	wrapped := cmd.Prefix("docker", "exec", "-i", "vos")

	assert.Equal(t, "docker", wrapped.Path)
	assert.Equal(t, []string{"exec", "-i", "vos", "isql", "localhost:1111"}, wrapped.Args)
	assert.Equal(t, "isql", cmd.Path, "original must be untouched")
	assert.Equal(t, cmd, cmd.Prefix())
}

func TestOSRun(t *testing.T) {
	ctx := context.Background()

	t.Run("captures output and exit code", func(t *testing.T) {
		out, err := OS{}.Run(ctx, Command{Path: "sh", Args: []string{"-c", "echo hi; echo oops >&2; exit 3"}})
		require.NoError(t, err)
		assert.Equal(t, "hi\n", out.Stdout)
		assert.Equal(t, "oops\n", out.Stderr)
		assert.Equal(t, 3, out.ExitCode)
	})

	t.Run("combined output keeps write order", func(t *testing.T) {
		out, err := OS{}.Run(ctx, Command{
			Path:           "sh",
			Args:           []string{"-c", "echo one; echo two >&2; echo three"},
			CombinedOutput: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\nthree\n", out.Stdout)
		assert.Empty(t, out.Stderr)
	})

	t.Run("pipes stdin", func(t *testing.T) {
		out, err := OS{}.Run(ctx, Command{Path: "cat", Stdin: strings.NewReader("select 1;")})
		require.NoError(t, err)
		assert.Equal(t, "select 1;", out.Stdout)
	})

	t.Run("missing binary is a launch error", func(t *testing.T) {
		_, err := OS{}.Run(ctx, Command{Path: "/nonexistent/virtutil-isql"})
		assert.True(t, errors.Is(err, ErrLaunch))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := OS{}.Run(cctx, Command{Path: "sleep", Args: []string{"5"}})
		assert.Error(t, err)
	})
}

func TestFakeRecordsCalls(t *testing.T) {
	f := &Fake{Respond: func(c Call) (Output, error) {
		if c.Stdin == "fail" {
			return Output{ExitCode: 1}, nil
		}
		return Output{Stdout: "ok"}, nil
	}}

	out, err := f.Run(context.Background(), Command{Path: "isql", Stdin: strings.NewReader("fail")})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)

	out, err = f.Run(context.Background(), Command{Path: "isql"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Stdout)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "fail", calls[0].Stdin)
}
