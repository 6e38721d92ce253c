package loader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	crdb "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
)

// Queue polling defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 720
)

// SequentialOptions configures a registration-based run.
type SequentialOptions struct {
	Source
	Tuning

	PollInterval time.Duration
	MaxPolls     int
}

// Sequential registers files with ld_dir or ld_dir_all and lets the engine
// load them with a single rdf_loader_run call.
type Sequential struct {
	client isql.Runner
	finder Finder
	opts   SequentialOptions
	timer  backoff.Timer
}

// NewSequential validates opts. ld_dir masks only understand '*' and '?',
// so brace alternation and path patterns are rejected.
func NewSequential(client isql.Runner, finder Finder, opts SequentialOptions) (*Sequential, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ErrInvalidOptions)
	}
	src, err := opts.Source.resolve(finder)
	if err != nil {
		return nil, err
	}
	opts.Source = src
	if opts.Pattern == "" {
		opts.Pattern = DefaultSequentialPattern
	}
	if strings.ContainsAny(opts.Pattern, "{}[]/") {
		return nil, fmt.Errorf("%w: pattern %q cannot be used with ld_dir", ErrInvalidOptions, opts.Pattern)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = DefaultMaxPolls
	}
	opts.Tuning = opts.Tuning.withDefaults()
	return &Sequential{client: client, finder: finder, opts: opts}, nil
}

// Run executes the registration workflow. An empty directory is not an
// error. Registration failures abort before anything is loaded; per-file
// failures are read back from DB.DBA.load_list.
func (s *Sequential) Run(ctx context.Context) (*Report, error) {
	o := s.opts
	report := &Report{Mode: ModeSequential, Dir: o.Dir, Pattern: o.Pattern, StartedAt: time.Now(), Drained: true}

	tasks, err := discover(ctx, s.finder, o.Source)
	if err != nil {
		return nil, err
	}
	report.Discovered = len(tasks)
	if len(tasks) == 0 {
		logger.Info("no files to load", "dir", o.Dir, "pattern", o.Pattern)
		report.Finalized = true
		return report, nil
	}

	serverDir := o.serverDir()
	if err := probeAccess(ctx, s.client, serverDir, tasks[0].ServerPath); err != nil {
		return report, err
	}

	reg := registerStatement(serverDir, o.Pattern, o.Graph, o.Recursive)
	logger.Info("registering files", "stmt", reg)
	if res := s.client.Exec(ctx, reg); !res.OK() {
		err := fmt.Errorf("%w: %w", ErrRegistration, res.Err())
		if res.Kind == isql.KindFileAccess || res.Kind == isql.KindAccessDenied {
			err = crdb.WithHintf(err, "make sure %q is listed in DirsAllowed in virtuoso.ini", serverDir)
		}
		return report, err
	}

	logger.Info("running rdf_loader_run")
	runRes := s.client.Exec(ctx, stmtRunLoader)
	if !runRes.OK() {
		logger.Error("rdf_loader_run failed", "error", runRes.Message(), "took", runRes.Duration)
	}

	var errs *multierror.Error
	if err := s.waitDrained(ctx, serverDir); err != nil {
		report.Drained = false
		errs = multierror.Append(errs, err)
	}

	results, err := s.status(ctx, serverDir, tasks)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	report.Results = results
	report.tally()

	if report.Failed > 0 {
		var lines []string
		for _, f := range report.Failures(0) {
			lines = append(lines, f.Path)
		}
		errs = multierror.Append(errs, fmt.Errorf("%w: %d file(s) had issues: %s", ErrLoadFailed, report.Failed, strings.Join(lines, ", ")))
	}

	if err := finalize(ctx, s.client, o.Tuning); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		report.Finalized = true
	}
	report.Duration = time.Since(report.StartedAt)

	if !runRes.OK() && errs == nil {
		errs = multierror.Append(errs, fmt.Errorf("%w: rdf_loader_run: %w", ErrLoadFailed, runRes.Err()))
	}
	return report, errs.ErrorOrNil()
}

var errStillPending = errors.New("files still pending")

// waitDrained polls the queue until no pending or running rows remain for
// serverDir.
func (s *Sequential) waitDrained(ctx context.Context, serverDir string) error {
	polls := 0
	op := func() error {
		polls++
		res := s.client.Exec(ctx, pendingQuery(serverDir))
		if !res.OK() {
			return backoff.Permanent(fmt.Errorf("polling load queue: %w", res.Err()))
		}
		rows := isql.Rows(res.Stdout)
		if len(rows) == 0 || len(rows[0]) == 0 {
			return backoff.Permanent(fmt.Errorf("polling load queue: no count in output"))
		}
		n, err := strconv.Atoi(rows[0][0])
		if err != nil {
			return backoff.Permanent(fmt.Errorf("polling load queue: %w", err))
		}
		if n > 0 {
			logger.Debug("load queue busy", "pending", n, "poll", polls)
			return errStillPending
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.PollInterval), uint64(s.opts.MaxPolls)), ctx)
	err := backoff.RetryNotifyWithTimer(op, b, nil, s.timer)
	if errors.Is(err, errStillPending) {
		return fmt.Errorf("%w after %d polls", ErrQueueNotDrained, polls)
	}
	return err
}

// status reads per-file outcomes from the queue table. Files that were
// discovered but never registered are reported as failed.
func (s *Sequential) status(ctx context.Context, serverDir string, tasks []Task) ([]FileResult, error) {
	res := s.client.Exec(ctx, statusQuery(serverDir))
	if !res.OK() {
		return nil, fmt.Errorf("reading load status: %w", res.Err())
	}

	byServer := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byServer[t.ServerPath] = t
	}

	seen := map[string]bool{}
	var results []FileResult
	for _, row := range isql.Rows(res.Stdout) {
		if len(row) < 3 {
			continue
		}
		state, _ := strconv.Atoi(row[0])
		file, msg := row[1], row[2]
		t, ok := byServer[file]
		if !ok {
			// Registered by an earlier run or matched only server-side.
			t = Task{Path: file, ServerPath: file}
		}
		seen[file] = true

		r := FileResult{Path: t.Path, Size: t.Size, OK: state == stateDone && msg == ""}
		if !r.OK {
			r.Kind = "load"
			r.Error = msg
			if msg == "" {
				r.Error = fmt.Sprintf("left in state %d", state)
			}
		}
		results = append(results, r)
	}

	for _, t := range tasks {
		if !seen[t.ServerPath] {
			results = append(results, FileResult{Path: t.Path, Size: t.Size, Kind: "unregistered", Error: "not found in DB.DBA.load_list"})
		}
	}
	return results, nil
}
