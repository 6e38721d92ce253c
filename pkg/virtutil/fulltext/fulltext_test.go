package fulltext

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/proc"
)

// engineOutput simulates isql echoing each marker, with errors for the
// statements in failing.
func engineOutput(steps []Step, failing map[int]string) string {
	var b strings.Builder
	for i := range steps {
		if msg, ok := failing[i]; ok {
			fmt.Fprintf(&b, "\n*** Error %s\nat line %d of Top-Level:\n", msg, i*2+1)
		} else {
			b.WriteString("\nDone. -- 1 msec.\n")
		}
		fmt.Fprintf(&b, "\nVARCHAR\n_______\n\n%s%d\n\n1 Rows. -- 1 msec.\n", markerPrefix, i)
	}
	return b.String()
}

func newRebuilder(stdout string) (*Rebuilder, *proc.Fake) {
	return newRebuilderStreams(stdout, "")
}

// newRebuilderStreams answers with separate stdout and stderr, as an
// executor that does not merge them would.
func newRebuilderStreams(stdout, stderr string) (*Rebuilder, *proc.Fake) {
	fake := &proc.Fake{Respond: func(proc.Call) (proc.Output, error) {
		return proc.Output{Stdout: stdout, Stderr: stderr}, nil
	}}
	return NewRebuilder(isql.NewClient(isql.Target{Password: "dba"}, fake)), fake
}

// markersOnly is stdout of a session where every statement printed its
// marker.
func markersOnly(steps []Step) string {
	var b strings.Builder
	for i := range steps {
		fmt.Fprintf(&b, "\nVARCHAR\n_______\n\n%s%d\n\n1 Rows. -- 1 msec.\n", markerPrefix, i)
	}
	return b.String()
}

func TestScript(t *testing.T) {
	script := Script([]Step{{SQL: "DROP TABLE a;"}, {SQL: "checkpoint;"}})
	assert.Equal(t, "DROP TABLE a;\nSELECT 'VUROW|step|0';\ncheckpoint;\nSELECT 'VUROW|step|1';\n", script)
}

func TestRebuildSuccess(t *testing.T) {
	r, fake := newRebuilder(engineOutput(Steps, map[int]string{
		0: "42S02: SQ016: Bad table name DB.DBA.VTLOG_DB_DBA_RDF_OBJ",
	}))

	res, err := r.Rebuild(context.Background())
	require.NoError(t, err, "dropping a missing table is tolerated")
	assert.True(t, res.RestartRequired)
	require.Len(t, res.Steps, len(Steps))
	assert.NotEmpty(t, res.Steps[0].Error)
	for _, s := range res.Steps {
		assert.True(t, s.Done, s.Name)
	}

	calls := fake.Calls()
	require.Len(t, calls, 1, "one isql session")
	assert.Equal(t, Script(Steps), calls[0].Stdin)
}

func TestRebuildRequiredStepFails(t *testing.T) {
	r, _ := newRebuilder(engineOutput(Steps, map[int]string{
		4: "42000: vt_create_text_index failed",
	}))

	res, err := r.Rebuild(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStep)
	assert.Contains(t, err.Error(), "create text index")
	assert.False(t, res.Steps[4].OK())
	assert.True(t, res.Steps[5].OK())
}

func TestRebuildErrorsOnStderr(t *testing.T) {
	stderr := "*** Error 42S02: [Virtuoso Driver][Virtuoso Server]SQ016: Bad table name\nat line 1 of Top-Level:\nDROP TABLE DB.DBA.VTLOG_DB_DBA_RDF_OBJ\n" +
		"*** Error 42000: [Virtuoso Driver][Virtuoso Server]vt_create_text_index failed\nat line 9 of Top-Level:\n"
	r, _ := newRebuilderStreams(markersOnly(Steps), stderr)

	res, err := r.Rebuild(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStep)
	assert.Contains(t, err.Error(), "create text index")
	assert.NotContains(t, err.Error(), "drop log table")

	assert.True(t, res.Steps[0].OK(), "optional drop may fail")
	assert.NotEmpty(t, res.Steps[0].Error)
	assert.True(t, res.Steps[4].Done)
	assert.False(t, res.Steps[4].OK())
	assert.Contains(t, res.Steps[4].Error, "vt_create_text_index")
	assert.True(t, res.Steps[5].OK())
}

func TestRebuildErrorWithoutLocation(t *testing.T) {
	r, _ := newRebuilderStreams(markersOnly(Steps), "*** Error 42000: [Virtuoso Driver][Virtuoso Server]SR185: Undefined procedure\n")

	_, err := r.Rebuild(context.Background())
	require.Error(t, err, "an error that fits no step still fails the rebuild")
	assert.ErrorIs(t, err, ErrStep)
	assert.Contains(t, err.Error(), "SR185")
}

func TestRebuildInterleavedOutput(t *testing.T) {
	// Combined output without locations: the error precedes the marker of
	// the statement that raised it.
	var b strings.Builder
	for i := range Steps {
		if i == 6 {
			b.WriteString("*** Error 42000: refill failed\n")
		}
		fmt.Fprintf(&b, "%s%d\n", markerPrefix, i)
	}
	r, _ := newRebuilder(b.String())

	res, err := r.Rebuild(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refill index")
	assert.Contains(t, res.Steps[6].Error, "refill failed")
}

func TestStepOfLine(t *testing.T) {
	script := strings.Split(Script(Steps), "\n")
	for i, s := range Steps {
		n := 2*i + 1
		assert.Equal(t, s.SQL, script[n-1])
		assert.Equal(t, i, stepOfLine(n))
		assert.Equal(t, i, stepOfLine(n+1), "marker line")
	}
	n, ok := scriptLine("at line 9 of Top-Level:")
	assert.True(t, ok)
	assert.Equal(t, 9, n)
	_, ok = scriptLine("Done. -- 1 msec.")
	assert.False(t, ok)
}

func TestRebuildTruncatedSession(t *testing.T) {
	r, _ := newRebuilder(engineOutput(Steps[:3], nil))

	res, err := r.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrStep)
	assert.True(t, res.Steps[2].Done)
	assert.False(t, res.Steps[3].Done)
	assert.Contains(t, err.Error(), "did not complete")
}

func TestRebuildConnectionFailure(t *testing.T) {
	r, _ := newRebuilder("*** Error S2801: [Virtuoso Driver]CL033: Connect failed to localhost:1111\n")

	res, err := r.Rebuild(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSession)
	assert.ErrorIs(t, err, isql.ErrConnection)
}
