package isql

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtutil/virtutil/pkg/virtutil/proc"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		exit   int
		stdout string
		stderr string
		want   Kind
	}{
		{name: "success", want: KindNone, stdout: "Done. -- 3 msec.\n"},
		{name: "plain non-zero exit", exit: 2, want: KindExit},
		{name: "sql error on stdout", stdout: "*** Error 42000: [Virtuoso Driver][Virtuoso Server]SR185: Undefined procedure DB.DBA.foo.\n", want: KindSQL},
		{name: "connection failure", exit: 1, stderr: "*** Error S2801: [Virtuoso Driver]CL033: Connect failed to localhost:1111 = localhost:1111.\n", want: KindConnection},
		{name: "bad login", stderr: "*** Error 28000: [Virtuoso Driver][Virtuoso Server]CL034: Bad login\n", want: KindAccessDenied},
		{name: "dirs allowed", stdout: "*** Error 42000: [Virtuoso Driver][Virtuoso Server]FA003: Access to /data/x.nq is denied due to access control in ini file\n", want: KindAccessDenied},
		{name: "security violation", stderr: "Security violation\n", want: KindAccessDenied},
		{name: "unable to list", stdout: "*** Error 42000: FA020: Unable to list files in '/data'\n", want: KindFileAccess},
		{name: "error text wins over zero exit", exit: 0, stdout: "*** Error 37000: syntax error\n", want: KindSQL},
		{name: "most specific across streams", stdout: "*** Error 42000: generic\n", stderr: "Connection refused\n", want: KindConnection},
		{name: "row with access code in file name", stdout: "VUROW|2|%2Fdata%2Foutput028000.nq.gz|\n", want: KindNone},
		{name: "row with connection code in file name", stdout: "VUROW|2|%2Fdata%2Foutput008001.nq.gz|\n", want: KindNone},
		{name: "numeric row", stdout: "VUROW|28000\n", want: KindNone},
		{name: "code outside an error line", stdout: "28000 Rows. -- 12 msec.\n", want: KindNone},
		{name: "sqlstate line", stderr: "SQLState: 28000 Bad credentials\n", exit: 1, want: KindAccessDenied},
		{name: "error after data rows", stdout: "VUROW|2|%2Fdata%2Fa028000.nq|\n*** Error 08S01: [Virtuoso Driver]CL065: Lost connection to server\n", want: KindConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.exit, tt.stdout, tt.stderr))
		})
	}
}

func TestResultErr(t *testing.T) {
	ok := Result{}
	assert.True(t, ok.OK())
	assert.NoError(t, ok.Err())

	failed := Result{
		Kind:   KindSQL,
		Stdout: "Connected to OpenLink Virtuoso\n*** Error 42000: SR185: Undefined procedure\nat line 1\n",
	}
	err := failed.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSQL))
	assert.False(t, errors.Is(err, ErrConnection))
	assert.Contains(t, err.Error(), "SR185")

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, KindSQL, ie.Kind)

	launch := Result{Kind: KindLaunch, Cause: proc.ErrLaunch}
	assert.True(t, errors.Is(launch.Err(), proc.ErrLaunch))
	assert.True(t, errors.Is(launch.Err(), ErrLaunch))
}

func TestTargetCommand(t *testing.T) {
	base := Target{Password: "secret"}.WithDefaults()

	t.Run("host exec", func(t *testing.T) {
		cmd, err := base.Command("checkpoint;")
		require.NoError(t, err)
		assert.Equal(t, "isql", cmd.Path)
		assert.Equal(t, []string{"localhost:1111", "dba", "secret", "exec=checkpoint;"}, cmd.Args)
		assert.NotContains(t, cmd.String(), "secret")
	})

	t.Run("host path with wrapper words", func(t *testing.T) {
		tgt := base
		tgt.ISQLPath = `/opt/virtuoso/bin/isql-v "-X"`
		cmd, err := tgt.Command("")
		require.NoError(t, err)
		assert.Equal(t, "/opt/virtuoso/bin/isql-v", cmd.Path)
		assert.Equal(t, []string{"-X", "localhost:1111", "dba", "secret"}, cmd.Args)
	})

	t.Run("docker exec", func(t *testing.T) {
		tgt := base
		tgt.Docker = DockerTarget{Path: "/usr/bin/docker", Container: "vos", ISQLPath: "/opt/virtuoso-opensource/bin/isql"}
		cmd, err := tgt.Command("checkpoint;")
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/docker", cmd.Path)
		assert.Equal(t, []string{"exec", "vos", "/opt/virtuoso-opensource/bin/isql", "localhost:1111", "dba", "secret", "exec=checkpoint;"}, cmd.Args)
	})

	t.Run("docker script is interactive", func(t *testing.T) {
		tgt := base
		tgt.Docker = DockerTarget{Path: "docker", Container: "vos", ISQLPath: "isql"}
		cmd, err := tgt.Command("")
		require.NoError(t, err)
		assert.Equal(t, []string{"exec", "-i", "vos", "isql", "localhost:1111", "dba", "secret"}, cmd.Args)
	})
}

func TestTargetValidate(t *testing.T) {
	valid := Target{Password: "x"}.WithDefaults()
	require.NoError(t, valid.Validate())

	noPass := valid
	noPass.Password = ""
	assert.ErrorIs(t, noPass.Validate(), ErrInvalidTarget)

	badPort := valid
	badPort.Port = 70000
	assert.ErrorIs(t, badPort.Validate(), ErrInvalidTarget)

	badPath := valid
	badPath.ISQLPath = `"unterminated`
	assert.ErrorIs(t, badPath.Validate(), ErrInvalidTarget)
}

func TestClientExecAndScript(t *testing.T) {
	fake := &proc.Fake{Respond: func(c proc.Call) (proc.Output, error) {
		if c.Stdin != "" {
			return proc.Output{Stdout: "*** Error 42000: boom\n"}, nil
		}
		return proc.Output{Stdout: "Done.\n"}, nil
	}}
	c := NewClient(Target{Password: "pw"}, fake)

	res := c.Exec(context.Background(), "  checkpoint;  ")
	assert.True(t, res.OK())

	res = c.Script(context.Background(), "select 1;\n")
	assert.Equal(t, KindSQL, res.Kind)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Command.Args, "exec=checkpoint;")
	assert.Equal(t, "select 1;\n", calls[1].Stdin)
	assert.False(t, calls[0].Command.CombinedOutput)
	assert.True(t, calls[1].Command.CombinedOutput, "script sessions interleave errors with results")

	assert.True(t, c.Exec(context.Background(), "   ").OK(), "empty statement is a no-op")
	assert.Len(t, fake.Calls(), 2)
}

func TestClientLaunchFailure(t *testing.T) {
	fake := &proc.Fake{Respond: func(proc.Call) (proc.Output, error) {
		return proc.Output{}, proc.ErrLaunch
	}}
	res := NewClient(Target{Password: "pw"}, fake).Exec(context.Background(), "select 1;")
	assert.Equal(t, KindLaunch, res.Kind)
	assert.ErrorIs(t, res.Err(), proc.ErrLaunch)
}

func TestClientReadsNumericRows(t *testing.T) {
	fake := &proc.Fake{Respond: func(proc.Call) (proc.Output, error) {
		return proc.Output{Stdout: "VUROW|2|%2Fdumps%2Foutput028000.nq.gz|\nVUROW|08001\n\n2 Rows. -- 3 msec.\n"}, nil
	}}
	res := NewClient(Target{Password: "pw"}, fake).Exec(context.Background(), "select 1;")
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, [][]string{{"2", "/dumps/output028000.nq.gz", ""}, {"08001"}}, Rows(res.Stdout))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'/data/o''brien.nq'", Quote("/data/o'brien.nq"))
	assert.Equal(t, "''", Quote(""))
}

func TestRows(t *testing.T) {
	out := `OpenLink Interactive SQL (Virtuoso), version 07.20.3240
VARCHAR
_______________________________________________________________________________

VUROW|2|%2Fdata%2Fa.nq.gz|
VUROW|2|%2Fdata%2Fb+c.nq.gz|
VUROW|0|%2Fdata%2Fd%7Cx.nq.gz|Line+3%3A+syntax+error

3 Rows. -- 4 msec.
`
	rows := Rows(out)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2", "/data/a.nq.gz", ""}, rows[0])
	assert.Equal(t, "/data/b c.nq.gz", rows[1][1])
	assert.Equal(t, []string{"0", "/data/d|x.nq.gz", "Line 3: syntax error"}, rows[2])
}
