package loader

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/ledger"
)

// Ledger records loaded files for --resume.
type Ledger interface {
	Loaded(scope string) (map[string]ledger.Record, error)
	Mark(scope, file string, rec ledger.Record) error
}

// Progress is sent after every finished file.
type Progress struct {
	Worker int
	Path   string
	OK     bool
	Done   int
	Failed int
	Total  int
}

// ParallelOptions configures a parallel run.
type ParallelOptions struct {
	Source
	Tuning

	// Workers is the pool size; it is lowered to the file count.
	Workers   int
	BatchSize int
	Strategy  Strategy

	// Ledger, when set, skips files recorded under Scope and records new
	// successes.
	Ledger Ledger
	Scope  string
	RunID  string

	// OnStart is called once with the worker count and total files.
	OnStart func(workers, files int)
	// OnProgress must be safe for concurrent use.
	OnProgress func(Progress)
}

// Parallel loads each file with its own isql session, spread over workers.
type Parallel struct {
	client isql.Runner
	finder Finder
	opts   ParallelOptions
}

// NewParallel validates opts and returns a ready orchestrator.
func NewParallel(client isql.Runner, finder Finder, opts ParallelOptions) (*Parallel, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ErrInvalidOptions)
	}
	src, err := opts.Source.resolve(finder)
	if err != nil {
		return nil, err
	}
	opts.Source = src
	if opts.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1", ErrInvalidOptions)
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultParallelPattern
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size must not be negative", ErrInvalidOptions)
	}
	if opts.Ledger != nil && opts.Scope == "" {
		return nil, fmt.Errorf("%w: resume needs a ledger scope", ErrInvalidOptions)
	}
	opts.Tuning = opts.Tuning.withDefaults()
	return &Parallel{client: client, finder: finder, opts: opts}, nil
}

// Run discovers, probes, loads and finalizes. The Report is always
// returned once discovery has succeeded. The error is non-nil when any file
// failed or the final checkpoint failed.
func (p *Parallel) Run(ctx context.Context) (*Report, error) {
	o := p.opts
	report := &Report{Mode: ModeParallel, Dir: o.Dir, Pattern: o.Pattern, StartedAt: time.Now(), Drained: true}

	tasks, err := discover(ctx, p.finder, o.Source)
	if err != nil {
		return nil, err
	}
	report.Discovered = len(tasks)
	if len(tasks) == 0 {
		return report, fmt.Errorf("%w: %q in %s", ErrNoFiles, o.Pattern, o.Dir)
	}
	logger.Info("discovered files", "count", len(tasks), "dir", o.Dir, "pattern", o.Pattern)

	for _, t := range tasks {
		if err := checkGraph(t.ServerPath, t.Graph); err != nil {
			return report, err
		}
	}

	tasks, skipped, err := p.skipLoaded(tasks)
	if err != nil {
		return report, err
	}
	report.Results = append(report.Results, skipped...)
	if len(tasks) == 0 {
		logger.Info("all files already loaded", "skipped", len(skipped))
		report.Finalized = true
		report.tally()
		return report, nil
	}

	if err := probeAccess(ctx, p.client, o.serverDir(), tasks[0].ServerPath); err != nil {
		return report, err
	}

	if res := p.client.Exec(ctx, stmtBulkMode); !res.OK() {
		logger.Warn("could not enable bulk logging mode", "error", res.Message())
	}

	parts := Partition(tasks, o.Workers, o.Strategy, o.BatchSize)
	if o.OnStart != nil {
		o.OnStart(len(parts), len(tasks))
	}
	logger.Info("starting workers", "workers", len(parts), "files", len(tasks), "strategy", o.Strategy, "batch", o.BatchSize)

	results := make([][]FileResult, len(parts))
	stats := make([]WorkerStats, len(parts))
	var done, failed atomic.Int64

	var g errgroup.Group
	for w, part := range parts {
		g.Go(func() error {
			results[w], stats[w] = p.work(ctx, part, func(r FileResult) {
				d := done.Add(1)
				f := failed.Load()
				if !r.OK {
					f = failed.Add(1)
				}
				if o.OnProgress != nil {
					o.OnProgress(Progress{Worker: r.Worker, Path: r.Path, OK: r.OK, Done: int(d), Failed: int(f), Total: len(tasks)})
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	for w := range parts {
		report.Results = append(report.Results, results[w]...)
	}
	report.Workers = stats
	report.tally()

	finalErr := finalize(ctx, p.client, o.Tuning)
	report.Finalized = finalErr == nil
	report.Duration = time.Since(report.StartedAt)

	var errs *multierror.Error
	for _, r := range report.Failures(0) {
		errs = multierror.Append(errs, fmt.Errorf("%s: %s", r.Path, r.Error))
	}

	switch {
	case finalErr != nil && errs != nil:
		return report, multierror.Append(finalErr, fmt.Errorf("%w: %d of %d files: %w", ErrLoadFailed, report.Failed, report.Discovered, errs.ErrorOrNil()))
	case finalErr != nil:
		return report, finalErr
	case errs != nil:
		return report, fmt.Errorf("%w: %d of %d files: %w", ErrLoadFailed, report.Failed, report.Discovered, errs.ErrorOrNil())
	case ctx.Err() != nil:
		return report, ctx.Err()
	}
	return report, nil
}

// skipLoaded drops tasks the ledger already holds with the same size.
func (p *Parallel) skipLoaded(tasks []Task) ([]Task, []FileResult, error) {
	if p.opts.Ledger == nil {
		return tasks, nil, nil
	}
	loaded, err := p.opts.Ledger.Loaded(p.opts.Scope)
	if err != nil {
		return nil, nil, fmt.Errorf("reading load ledger: %w", err)
	}

	var keep []Task
	var skipped []FileResult
	for _, t := range tasks {
		rec, ok := loaded[t.ServerPath]
		if ok && rec.Size == t.Size {
			skipped = append(skipped, FileResult{Path: t.Path, Skipped: true, OK: true, Size: t.Size})
			continue
		}
		keep = append(keep, t)
	}
	if len(skipped) > 0 {
		logger.Info("resuming", "skipped", len(skipped), "remaining", len(keep))
	}
	return keep, skipped, nil
}

// work loads the worker's files in order. A failed file never stops the
// worker; cancellation does, leaving the rest unattempted.
func (p *Parallel) work(ctx context.Context, tasks []Task, notify func(FileResult)) ([]FileResult, WorkerStats) {
	o := p.opts
	stats := WorkerStats{ID: tasks[0].Worker}
	log := logger.With("worker", stats.ID)
	results := make([]FileResult, 0, len(tasks))
	started := time.Now()

	for i, t := range tasks {
		if ctx.Err() != nil {
			log.Warn("cancelled", "remaining", len(tasks)-i)
			for _, rest := range tasks[i:] {
				results = append(results, FileResult{Path: rest.Path, Worker: rest.Worker, Kind: "cancelled", Error: ctx.Err().Error(), Size: rest.Size})
			}
			stats.Failed += len(tasks) - i
			break
		}

		r := p.loadOne(ctx, t)
		results = append(results, r)
		stats.Files++
		if !r.OK {
			stats.Failed++
			log.Error("load failed", "file", t.Path, "kind", r.Kind, "error", r.Error)
		} else {
			log.Debug("loaded", "file", t.Path, "took", r.Duration)
		}
		notify(r)

		if o.BatchSize > 0 && (i+1)%o.BatchSize == 0 && i+1 < len(tasks) {
			stats.Checkpoints++
			if res := p.client.Exec(ctx, stmtCheckpoint); !res.OK() {
				stats.CheckpointErrors++
				log.Warn("batch checkpoint failed", "batch", t.Batch, "error", res.Message())
			}
		}
	}

	stats.Busy = time.Since(started)
	return results, stats
}

func (p *Parallel) loadOne(ctx context.Context, t Task) FileResult {
	stmt, err := loadStatement(t.ServerPath, t.Graph)
	if err != nil {
		return FileResult{Path: t.Path, Worker: t.Worker, Kind: "invalid", Error: err.Error(), Size: t.Size}
	}

	res := p.client.Exec(ctx, stmt)
	if !res.OK() {
		return failedResult(t, res)
	}

	if o := p.opts; o.Ledger != nil {
		rec := ledger.Record{Size: t.Size, LoadedAt: time.Now(), Duration: res.Duration, RunID: o.RunID}
		if err := o.Ledger.Mark(o.Scope, t.ServerPath, rec); err != nil {
			logger.Warn("could not record loaded file", "file", t.Path, "error", err)
		}
	}
	return FileResult{Path: t.Path, Worker: t.Worker, OK: true, Duration: res.Duration, Size: t.Size}
}
