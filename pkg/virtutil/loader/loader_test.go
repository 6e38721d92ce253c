package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/ledger"
)

// fakeRunner records statements and answers them with respond.
type fakeRunner struct {
	mu      sync.Mutex
	stmts   []string
	respond func(sql string) isql.Result
}

func (f *fakeRunner) Exec(_ context.Context, sql string) isql.Result {
	f.mu.Lock()
	f.stmts = append(f.stmts, sql)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return isql.Result{}
	}
	return respond(sql)
}

func (f *fakeRunner) Script(ctx context.Context, script string) isql.Result {
	return f.Exec(ctx, script)
}

func (f *fakeRunner) matching(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.stmts {
		if strings.Contains(s, substr) {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeRunner) count(stmt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.stmts {
		if s == stmt {
			n++
		}
	}
	return n
}

func sqlError(msg string) isql.Result {
	return isql.Result{ExitCode: 1, Kind: isql.KindSQL, Stdout: "*** Error 42000: " + msg + "\n"}
}

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("<a> <b> <c> <g> .\n"), 0o644))
	}
	return dir
}

func tasksNamed(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{Path: fmt.Sprintf("f%02d.nq", i)}
	}
	return tasks
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name      string
		files     int
		workers   int
		strategy  Strategy
		wantSizes []int
	}{
		{name: "round robin even", files: 6, workers: 3, strategy: RoundRobin, wantSizes: []int{2, 2, 2}},
		{name: "round robin uneven", files: 7, workers: 3, strategy: RoundRobin, wantSizes: []int{3, 2, 2}},
		{name: "contiguous uneven", files: 7, workers: 3, strategy: Contiguous, wantSizes: []int{3, 2, 2}},
		{name: "more workers than files", files: 2, workers: 8, strategy: RoundRobin, wantSizes: []int{1, 1}},
		{name: "zero workers means one", files: 3, workers: 0, strategy: Contiguous, wantSizes: []int{3}},
		{name: "no files", files: 0, workers: 4, strategy: RoundRobin, wantSizes: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := Partition(tasksNamed(tt.files), tt.workers, tt.strategy, 2)

			var sizes []int
			seen := map[string]int{}
			for w, part := range parts {
				sizes = append(sizes, len(part))
				for i, task := range part {
					seen[task.Path]++
					assert.Equal(t, w+1, task.Worker)
					assert.Equal(t, i/2, task.Batch)
				}
			}
			assert.Equal(t, tt.wantSizes, sizes)
			assert.Len(t, seen, tt.files)
			for path, n := range seen {
				assert.Equal(t, 1, n, "%s assigned more than once", path)
			}
		})
	}
}

func TestPartitionKeepsOrder(t *testing.T) {
	parts := Partition(tasksNamed(5), 2, RoundRobin, 0)
	require.Len(t, parts, 2)
	assert.Equal(t, []string{"f00.nq", "f02.nq", "f04.nq"}, paths(parts[0]))
	assert.Equal(t, []string{"f01.nq", "f03.nq"}, paths(parts[1]))

	parts = Partition(tasksNamed(5), 2, Contiguous, 0)
	assert.Equal(t, []string{"f00.nq", "f01.nq", "f02.nq"}, paths(parts[0]))
	assert.Equal(t, []string{"f03.nq", "f04.nq"}, paths(parts[1]))
}

func paths(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Path
	}
	return out
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("contiguous")
	require.NoError(t, err)
	assert.Equal(t, Contiguous, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, s)

	_, err = ParseStrategy("random")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestLoadStatement(t *testing.T) {
	tests := []struct {
		path    string
		graph   string
		want    string
		wantErr error
	}{
		{path: "/d/a.nq", want: "log_enable(2, 1); DB.DBA.TTLP(file_open('/d/a.nq'), '', 'http://localhost:8890/DAV/ignored', 512);"},
		{path: "/d/a.nq.gz", want: "log_enable(2, 1); DB.DBA.TTLP(gz_file_open('/d/a.nq.gz'), '', 'http://localhost:8890/DAV/ignored', 512);"},
		{path: "/d/a.trig", graph: "http://g", want: "log_enable(2, 1); DB.DBA.TTLP(file_open('/d/a.trig'), '', 'http://g', 256);"},
		{path: "/d/a.ttl", graph: "http://g", want: "log_enable(2, 1); DB.DBA.TTLP(file_open('/d/a.ttl'), '', 'http://g', 0);"},
		{path: "/d/o'brien.NT", graph: "http://g", want: "log_enable(2, 1); DB.DBA.TTLP(file_open('/d/o''brien.NT'), '', 'http://g', 0);"},
		{path: "/d/a.ttl", wantErr: ErrNoGraph},
		{path: "/d/a.rdf", graph: "http://g", wantErr: ErrUnsupportedFormat},
		{path: "/d/README", wantErr: ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := loadStatement(tt.path, tt.graph)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSourceServerPath(t *testing.T) {
	src := Source{Dir: "/host/data/", ServerDir: "/database/data"}
	assert.Equal(t, "/database/data/x/a.nq", src.serverPath("/host/data/x/a.nq"))
	assert.Equal(t, "/elsewhere/a.nq", src.serverPath("/elsewhere/a.nq"))
	assert.Equal(t, "/database/data", src.serverDir())

	same := Source{Dir: "/data"}
	assert.Equal(t, "/data/a.nq", same.serverPath("/data/a.nq"))
	assert.Equal(t, "/data", same.serverDir())
}

func TestRelativeDirIsResolved(t *testing.T) {
	dir := writeFiles(t, "a.nq")
	t.Chdir(filepath.Dir(dir))
	rel := "./" + filepath.Base(dir)

	runner := &fakeRunner{}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{
		Source:  Source{Dir: rel, ServerDir: "/import"},
		Workers: 1,
	})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, []string{"SELECT file_stat('/import/a.nq');"}, runner.matching("file_stat"))
	ttlp := runner.matching("TTLP")
	require.Len(t, ttlp, 1)
	assert.Contains(t, ttlp[0], "'/import/a.nq'")
	assert.NotContains(t, ttlp[0], dir)

	seqRunner := &fakeRunner{respond: func(sql string) isql.Result {
		switch {
		case strings.Contains(sql, "count(*)"):
			return isql.Result{Stdout: "VUROW|0\n"}
		case strings.Contains(sql, "ll_error"):
			return isql.Result{Stdout: fmt.Sprintf("VUROW|2|%s|\n", filepath.Join(dir, "a.nq"))}
		}
		return isql.Result{}
	}}
	s := newSequential(t, seqRunner, SequentialOptions{Source: Source{Dir: rel, Pattern: "*.nq"}})
	report, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	reg := seqRunner.matching("ld_dir")
	require.Len(t, reg, 1)
	assert.Contains(t, reg[0], "ld_dir('"+dir+"'")
}

func TestContainerDirMustBeAbsolute(t *testing.T) {
	_, err := NewParallel(&fakeRunner{}, ContainerFinder{Container: "virtuoso"}, ParallelOptions{
		Source:  Source{Dir: "import"},
		Workers: 1,
	})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewSequential(&fakeRunner{}, ContainerFinder{Container: "virtuoso"}, SequentialOptions{
		Source: Source{Dir: "/database/import", Pattern: "*.nq"},
	})
	assert.NoError(t, err)
}

func TestParallelOneFileFails(t *testing.T) {
	dir := writeFiles(t, "a.nq", "b.nq", "c.nq")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		if strings.Contains(sql, "b.nq") && strings.Contains(sql, "TTLP") {
			return sqlError("RDFGE: bad triple")
		}
		return isql.Result{}
	}}

	var mu sync.Mutex
	var progress []Progress
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{
		Source:  Source{Dir: dir},
		Workers: 2,
		OnProgress: func(pr Progress) {
			mu.Lock()
			progress = append(progress, pr)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.Contains(t, err.Error(), "b.nq")

	require.NotNil(t, report)
	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, report.Finalized)
	assert.False(t, report.OK())
	assert.Len(t, report.Workers, 2)
	assert.Len(t, runner.matching("TTLP"), 3, "every file is attempted")
	assert.Len(t, progress, 3)

	failures := report.Failures(0)
	require.Len(t, failures, 1)
	assert.Equal(t, filepath.Join(dir, "b.nq"), failures[0].Path)
	assert.Equal(t, "sql", failures[0].Kind)
	assert.Contains(t, failures[0].Error, "RDFGE")

	final := runner.matching("log_enable(3, 1)")
	require.Len(t, final, 1)
	assert.Equal(t, "log_enable(3, 1); checkpoint; checkpoint_interval(60); scheduler_interval(10);", final[0])
}

func TestParallelNoFiles(t *testing.T) {
	dir := writeFiles(t, "a.ttl")
	runner := &fakeRunner{}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir}, Workers: 4})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoFiles)
	require.NotNil(t, report)
	assert.Zero(t, report.Discovered)
	assert.Empty(t, runner.stmts)
}

func TestParallelTriplesNeedGraph(t *testing.T) {
	dir := writeFiles(t, "a.ttl", "b.ttl")
	runner := &fakeRunner{}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir, Pattern: "*.ttl"}, Workers: 2})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoGraph)
	assert.Empty(t, runner.stmts, "nothing runs before validation")

	p, err = NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir, Pattern: "*.ttl", Graph: "http://example.org/g"}, Workers: 2})
	require.NoError(t, err)
	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Loaded)
	for _, stmt := range runner.matching("TTLP") {
		assert.Contains(t, stmt, "'http://example.org/g', 0);")
	}
}

func TestParallelAccessDenied(t *testing.T) {
	dir := writeFiles(t, "a.nq")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		if strings.HasPrefix(sql, "SELECT file_stat") {
			return isql.Result{Kind: isql.KindAccessDenied, Stdout: "*** Error 42000: FA003: Access to " + dir + " is denied\n"}
		}
		return isql.Result{}
	}}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir}, Workers: 1})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, ErrAccess)
	assert.ErrorIs(t, err, isql.ErrAccessDenied)
	assert.Empty(t, runner.matching("TTLP"))
}

func TestParallelBatchCheckpoints(t *testing.T) {
	dir := writeFiles(t, "a.nq", "b.nq", "c.nq", "d.nq", "e.nq")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		if sql == stmtCheckpoint {
			return sqlError("checkpoint busy")
		}
		return isql.Result{}
	}}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir}, Workers: 1, BatchSize: 2})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err, "batch checkpoint failures are warnings")
	assert.Equal(t, 5, report.Loaded)
	assert.Equal(t, 2, runner.count(stmtCheckpoint))
	require.Len(t, report.Workers, 1)
	assert.Equal(t, 2, report.Workers[0].Checkpoints)
	assert.Equal(t, 2, report.Workers[0].CheckpointErrors)
}

func TestParallelFinalizeFailure(t *testing.T) {
	dir := writeFiles(t, "a.nq")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		if strings.HasPrefix(sql, "log_enable(3") {
			return sqlError("checkpoint failed")
		}
		return isql.Result{}
	}}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir}, Workers: 1})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrFinalize)
	assert.False(t, report.Finalized)
	assert.Equal(t, 1, report.Loaded)
}

func TestParallelBulkModeWarning(t *testing.T) {
	dir := writeFiles(t, "a.nq")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		if sql == stmtBulkMode {
			return sqlError("no")
		}
		return isql.Result{}
	}}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir}, Workers: 1})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.NoError(t, err)
}

type memLedger struct {
	mu   sync.Mutex
	recs map[string]ledger.Record
}

func (m *memLedger) Loaded(string) (map[string]ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ledger.Record, len(m.recs))
	for k, v := range m.recs {
		out[k] = v
	}
	return out, nil
}

func (m *memLedger) Mark(_, file string, rec ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[file] = rec
	return nil
}

func TestParallelResume(t *testing.T) {
	dir := writeFiles(t, "a.nq", "b.nq", "c.nq")
	size := int64(len("<a> <b> <c> <g> .\n"))
	led := &memLedger{recs: map[string]ledger.Record{
		filepath.Join(dir, "a.nq"): {Size: size},
		filepath.Join(dir, "b.nq"): {Size: size + 1},
	}}
	runner := &fakeRunner{}
	p, err := NewParallel(runner, HostFinder{}, ParallelOptions{Source: Source{Dir: dir}, Workers: 2, Ledger: led, Scope: "test", RunID: "r1"})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Loaded)
	assert.Len(t, runner.matching("TTLP"), 2, "a.nq is skipped, b.nq changed size")
	assert.Equal(t, "r1", led.recs[filepath.Join(dir, "c.nq")].RunID)
}

func TestNewParallelValidation(t *testing.T) {
	_, err := NewParallel(&fakeRunner{}, HostFinder{}, ParallelOptions{Workers: 1})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewParallel(&fakeRunner{}, HostFinder{}, ParallelOptions{Source: Source{Dir: "/d"}})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewParallel(&fakeRunner{}, HostFinder{}, ParallelOptions{Source: Source{Dir: "/d"}, Workers: 1, Ledger: &memLedger{}})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

// instantTimer fires as soon as it is started.
type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}
func (t *instantTimer) Stop()                {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func newSequential(t *testing.T, runner *fakeRunner, opts SequentialOptions) *Sequential {
	t.Helper()
	s, err := NewSequential(runner, HostFinder{}, opts)
	require.NoError(t, err)
	s.timer = &instantTimer{}
	return s
}

func TestSequentialRun(t *testing.T) {
	dir := writeFiles(t, "a.nq.gz", "b.nq.gz")
	polls := 0
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		switch {
		case strings.Contains(sql, "count(*)"):
			polls++
			if polls < 3 {
				return isql.Result{Stdout: "VUROW|1\n"}
			}
			return isql.Result{Stdout: "VUROW|0\n"}
		case strings.Contains(sql, "ll_error"):
			return isql.Result{Stdout: fmt.Sprintf("VUROW|2|%s|\nVUROW|2|%s|\n", filepath.Join(dir, "a.nq.gz"), filepath.Join(dir, "b.nq.gz"))}
		}
		return isql.Result{}
	}}

	s := newSequential(t, runner, SequentialOptions{Source: Source{Dir: dir}})
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Loaded)
	assert.True(t, report.OK())
	assert.Equal(t, 3, polls)

	reg := runner.matching("ld_dir")
	require.Len(t, reg, 1)
	assert.Equal(t, fmt.Sprintf("ld_dir('%s', '*.nq.gz', 'http://localhost:8890/DAV/ignored');", dir), reg[0])
	assert.Equal(t, 1, runner.count(stmtRunLoader))
	assert.Len(t, runner.matching("log_enable(3, 1)"), 1)
}

func TestSequentialReportsFailedFiles(t *testing.T) {
	dir := writeFiles(t, "a.nq.gz", "b.nq.gz", "c.nq.gz")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		switch {
		case strings.Contains(sql, "count(*)"):
			return isql.Result{Stdout: "VUROW|0\n"}
		case strings.Contains(sql, "ll_error"):
			return isql.Result{Stdout: fmt.Sprintf("VUROW|2|%s|\nVUROW|2|%s|37000%%20syntax%%20error\n",
				filepath.Join(dir, "a.nq.gz"), filepath.Join(dir, "b.nq.gz"))}
		}
		return isql.Result{}
	}}

	s := newSequential(t, runner, SequentialOptions{Source: Source{Dir: dir, Recursive: true}})
	report, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 2, report.Failed)
	assert.True(t, report.Finalized)

	failures := report.Failures(0)
	require.Len(t, failures, 2)
	assert.Equal(t, "37000 syntax error", failures[0].Error)
	assert.Equal(t, "unregistered", failures[1].Kind)
	assert.Len(t, runner.matching("ld_dir_all("), 1)
}

func TestSequentialRegistrationFailure(t *testing.T) {
	dir := writeFiles(t, "a.nq.gz")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		if strings.HasPrefix(sql, "ld_dir") {
			return isql.Result{Kind: isql.KindFileAccess, Stdout: "*** Error 42000: FA020: Unable to list files\n"}
		}
		return isql.Result{}
	}}

	s := newSequential(t, runner, SequentialOptions{Source: Source{Dir: dir}})
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrRegistration)
	assert.ErrorIs(t, err, isql.ErrFileAccess)
	assert.Zero(t, runner.count(stmtRunLoader))
	assert.Empty(t, runner.matching("log_enable(3"))
}

func TestSequentialQueueNotDrained(t *testing.T) {
	dir := writeFiles(t, "a.nq.gz")
	runner := &fakeRunner{respond: func(sql string) isql.Result {
		switch {
		case strings.Contains(sql, "count(*)"):
			return isql.Result{Stdout: "VUROW|1\n"}
		case strings.Contains(sql, "ll_error"):
			return isql.Result{Stdout: fmt.Sprintf("VUROW|1|%s|\n", filepath.Join(dir, "a.nq.gz"))}
		}
		return isql.Result{}
	}}

	s := newSequential(t, runner, SequentialOptions{Source: Source{Dir: dir}, MaxPolls: 2})
	report, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrQueueNotDrained)
	assert.False(t, report.Drained)
	assert.Equal(t, 3, len(runner.matching("count(*)")))
	require.Len(t, report.Failures(0), 1)
	assert.Equal(t, "left in state 1", report.Failures(0)[0].Error)
}

func TestSequentialEmptyDirectory(t *testing.T) {
	runner := &fakeRunner{}
	s := newSequential(t, runner, SequentialOptions{Source: Source{Dir: t.TempDir()}})
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Discovered)
	assert.Empty(t, runner.stmts)
}

func TestNewSequentialRejectsPatterns(t *testing.T) {
	for _, pattern := range []string{"*.{nq,ttl}", "sub/*.nq", "**/*.nq"} {
		_, err := NewSequential(&fakeRunner{}, HostFinder{}, SequentialOptions{Source: Source{Dir: "/d", Pattern: pattern}})
		assert.ErrorIs(t, err, ErrInvalidOptions, pattern)
	}
}

func TestRowQueries(t *testing.T) {
	assert.Equal(t, "SELECT sprintf('VUROW|%d', count(*)) FROM DB.DBA.load_list WHERE ll_state IN (0, 1) AND ll_file LIKE '/data/%';", pendingQuery("/data/"))
	assert.Contains(t, statusQuery("/data"), "sprintf('VUROW|%d|%U|%U', ll_state, ll_file, coalesce(ll_error, ''))")
	assert.True(t, errors.Is(fmt.Errorf("wrap: %w", ErrQueueNotDrained), ErrQueueNotDrained))
}
