package dump

import (
	"context"
	"strings"
	"testing"

	crdb "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/proc"
)

func execArg(c proc.Call) string {
	for _, a := range c.Command.Args {
		if sql, ok := strings.CutPrefix(a, "exec="); ok {
			return sql
		}
	}
	return ""
}

func newDriver(respond func(sql, stdin string) proc.Output) (*Driver, *proc.Fake) {
	fake := &proc.Fake{Respond: func(c proc.Call) (proc.Output, error) {
		return respond(execArg(c), c.Stdin), nil
	}}
	client := isql.NewClient(isql.Target{Password: "dba"}, fake)
	return NewDriver(client), fake
}

func TestRunInstallsMissingProcedure(t *testing.T) {
	d, fake := newDriver(func(sql, _ string) proc.Output {
		if strings.Contains(sql, "SYS_PROCEDURES") {
			return proc.Output{Stdout: "VUROW|0\n\n1 Rows. -- 2 msec.\n"}
		}
		return proc.Output{}
	})

	res, err := d.Run(context.Background(), Options{OutputDir: "/database/dumps", Compress: true})
	require.NoError(t, err)
	assert.True(t, res.Installed)

	calls := fake.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[1].Stdin, "CREATE PROCEDURE DB.DBA.dump_nquads")
	assert.Empty(t, execArg(calls[1]), "script goes through stdin")
	assert.Equal(t, "DB.DBA.dump_nquads('/database/dumps', 1, 100000000, 1);", execArg(calls[2]))
}

func TestRunSkipsInstall(t *testing.T) {
	d, fake := newDriver(func(sql, _ string) proc.Output {
		if strings.Contains(sql, "SYS_PROCEDURES") {
			return proc.Output{Stdout: "VUROW|1\n"}
		}
		return proc.Output{}
	})

	res, err := d.Run(context.Background(), Options{OutputDir: "dumps", FileSizeLimit: 5000, StartFrom: 7})
	require.NoError(t, err)
	assert.False(t, res.Installed)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "DB.DBA.dump_nquads('dumps', 7, 5000, 0);", execArg(calls[1]))
}

func TestRunDirsAllowedHint(t *testing.T) {
	d, _ := newDriver(func(sql, _ string) proc.Output {
		switch {
		case strings.Contains(sql, "SYS_PROCEDURES"):
			return proc.Output{Stdout: "VUROW|1\n"}
		case strings.Contains(sql, "dump_nquads("):
			return proc.Output{Stdout: "*** Error 42000: FA003: Access to /dumps is denied due to access control in ini file\n"}
		}
		return proc.Output{}
	})

	_, err := d.Run(context.Background(), Options{OutputDir: "/dumps"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDump)
	assert.ErrorIs(t, err, isql.ErrAccessDenied)
	assert.Contains(t, crdb.FlattenHints(err), "DirsAllowed")
}

func TestInstallFailure(t *testing.T) {
	d, fake := newDriver(func(sql, stdin string) proc.Output {
		if strings.Contains(sql, "SYS_PROCEDURES") {
			return proc.Output{Stdout: "VUROW|0\n"}
		}
		if stdin != "" {
			return proc.Output{Stdout: "*** Error 37000: syntax error\n"}
		}
		return proc.Output{}
	})

	_, err := d.Run(context.Background(), Options{OutputDir: "dumps"})
	assert.ErrorIs(t, err, ErrInstall)
	assert.Len(t, fake.Calls(), 2, "procedure is not called after a failed install")
}

func TestOptions(t *testing.T) {
	assert.ErrorIs(t, Options{}.Validate(), ErrInvalidOptions)
	assert.ErrorIs(t, Options{OutputDir: "d", FileSizeLimit: -1}.Validate(), ErrInvalidOptions)
	assert.NoError(t, Options{OutputDir: "d"}.Validate())

	assert.Equal(t, "output000001.nq.gz", Options{Compress: true}.FirstFile())
	assert.Equal(t, "output000042.nq", Options{StartFrom: 42}.FirstFile())
}

func TestInstalledQuery(t *testing.T) {
	assert.Equal(t, "SELECT sprintf('VUROW|%d', count(*)) FROM DB.DBA.SYS_PROCEDURES WHERE P_NAME = 'DB.DBA.dump_nquads';", installedQuery())
}
