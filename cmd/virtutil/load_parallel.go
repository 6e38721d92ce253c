package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/cmd/virtutil/tui"
	"github.com/virtutil/virtutil/pkg/virtutil/docker"
	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/ledger"
	"github.com/virtutil/virtutil/pkg/virtutil/loader"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
	"github.com/virtutil/virtutil/pkg/virtutil/proc"
	"github.com/virtutil/virtutil/pkg/virtutil/tuner"
)

var loadParallelCmd = &cobra.Command{
	Use:   "load-parallel",
	Short: "Bulk load files with parallel isql sessions",
	Long: `Load every matching file with its own TTLP call, spread over worker
sessions. Transaction logging is disabled during the load and restored
with a final checkpoint afterwards.

The worker count defaults to the number of CPU cores divided by 2.5.
--resume skips files recorded as loaded into the same server by earlier
runs.

Examples:
  virtutil load-parallel -d /data/import
  virtutil load-parallel -d /import --docker-container virtuoso --scan-in-container -n 8
  virtutil load-parallel -d ./dump --pattern '**/*.nq.gz' --recursive --resume`,
	Args: cobra.NoArgs,
	RunE: runLoadParallel,
}

var (
	parallelSource sourceFlags
	parallelFlags  struct {
		workers         int
		partition       string
		resume          bool
		scanInContainer bool
		noInteractive   bool
	}
)

func init() {
	addSourceFlags(loadParallelCmd, &parallelSource, loader.DefaultParallelPattern)
	f := loadParallelCmd.Flags()
	f.IntVarP(&parallelFlags.workers, "workers", "n", 0, "number of parallel isql sessions (0 = cores/2.5)")
	f.Int("batch-size", loader.DefaultBatchSize, "files per worker between checkpoints (0 = never)")
	f.StringVar(&parallelFlags.partition, "partition", loader.RoundRobin.String(), "file distribution: round-robin or contiguous")
	f.BoolVar(&parallelFlags.resume, "resume", false, "skip files already loaded into this server")
	f.BoolVar(&parallelFlags.scanInContainer, "scan-in-container", false, "list files inside --docker-container instead of on the host")
	f.BoolVar(&parallelFlags.noInteractive, "no-interactive", false, "disable the progress view")
	addConnectionFlags(loadParallelCmd)
	addTuningFlags(loadParallelCmd)
	rootCmd.AddCommand(loadParallelCmd)
}

// workerCount is the -n value or the CPU-based default.
func workerCount(n int) int {
	if n > 0 {
		return n
	}
	res, err := tuner.Detect()
	if err != nil {
		return 1
	}
	return tuner.DefaultWorkers(res.CPUCores)
}

// finder picks host or in-container discovery.
func finder(inContainer bool) (loader.Finder, error) {
	if !inContainer {
		return loader.HostFinder{}, nil
	}
	if cfg.Docker.Container == "" {
		return nil, fmt.Errorf("%w: --scan-in-container needs --docker-container", loader.ErrInvalidOptions)
	}
	return loader.ContainerFinder{
		Launcher:  docker.NewLauncher(cfg.Docker.Path, proc.OS{}),
		Container: cfg.Docker.Container,
	}, nil
}

// interactive reports whether the progress view should be used.
func interactive() bool {
	return !parallelFlags.noInteractive && !quiet && outputFormat == "pretty" &&
		isatty.IsTerminal(os.Stdout.Fd())
}

// runLoadParallel runs the parallel loader.
func runLoadParallel(cmd *cobra.Command, args []string) error {
	src, err := parallelSource.source(parallelFlags.scanInContainer)
	if err != nil {
		return err
	}
	strategy, err := loader.ParseStrategy(parallelFlags.partition)
	if err != nil {
		return err
	}
	find, err := finder(parallelFlags.scanInContainer)
	if err != nil {
		return err
	}

	opts := loader.ParallelOptions{
		Source:    src,
		Tuning:    tuning(),
		Workers:   workerCount(parallelFlags.workers),
		BatchSize: cfg.Load.BatchSize,
		Strategy:  strategy,
		RunID:     uuid.NewString(),
	}

	if parallelFlags.resume {
		l, err := ledger.Open(ledger.DefaultPath())
		if err != nil {
			return fmt.Errorf("opening load ledger: %w", err)
		}
		defer l.Close()
		opts.Ledger = l
		opts.Scope = targetLabel()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var report *loader.Report
	if interactive() {
		report, err = runParallelInteractive(ctx, find, opts)
	} else {
		printInfo(cmd.ErrOrStderr(), "Loading %s from %s with %d workers via %s...", src.Pattern, src.Dir, opts.Workers, targetLabel())
		report, err = runParallel(ctx, find, opts)
	}
	return renderLoad(cmd, history.OpLoadParallel, src.Dir, report, err)
}

func runParallel(ctx context.Context, find loader.Finder, opts loader.ParallelOptions) (*loader.Report, error) {
	p, err := loader.NewParallel(newClient(), find, opts)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// runParallelInteractive moves logging off the console while the
// progress view owns the terminal.
func runParallelInteractive(ctx context.Context, find loader.Finder, opts loader.ParallelOptions) (*loader.Report, error) {
	if logCfg, err := cfg.LoggingConfig(); err == nil {
		logCfg.Interactive = true
		if err := logging.Init(logCfg); err != nil {
			printVerbose("logging disabled: %v", err)
		}
	}

	return tui.Run(ctx, opts.Dir, func(ctx context.Context, hooks tui.Hooks) (*loader.Report, error) {
		opts.OnStart = hooks.OnStart
		opts.OnProgress = hooks.OnProgress
		return runParallel(ctx, find, opts)
	})
}
