package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/pkg/virtutil/docker"
	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/loader"
	"github.com/virtutil/virtutil/pkg/virtutil/output"
	"github.com/virtutil/virtutil/pkg/virtutil/proc"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Bulk load through the server's load queue",
	Long: `Register matching files with ld_dir (or ld_dir_all with --recursive), run
rdf_loader_run() once and wait until DB.DBA.load_list is drained.

Per-file errors are read back from DB.DBA.load_list. The directory must be
listed in DirsAllowed; when the server runs in a container, pass the path
it sees with --container-data-dir or the mount with --mount-volume.

Examples:
  virtutil load -d /data/import
  virtutil load -d ./import --mount-volume $PWD/import:/import --docker-container virtuoso
  virtutil load -d /data/ttl --pattern '*.ttl' --graph http://example.org/g`,
	Args: cobra.NoArgs,
	RunE: runLoad,
}

// sourceFlags are shared by load and load-parallel.
type sourceFlags struct {
	dir              string
	containerDataDir string
	volumes          []string
	pattern          string
	recursive        bool
	graph            string
}

var loadFlags sourceFlags

func init() {
	addSourceFlags(loadCmd, &loadFlags, loader.DefaultSequentialPattern)
	addConnectionFlags(loadCmd)
	addTuningFlags(loadCmd)
	rootCmd.AddCommand(loadCmd)
}

func addSourceFlags(cmd *cobra.Command, sf *sourceFlags, pattern string) {
	f := cmd.Flags()
	f.StringVarP(&sf.dir, "data-dir", "d", "", "directory with the RDF files (required)")
	f.StringVar(&sf.containerDataDir, "container-data-dir", "", "the same directory as seen by the server")
	f.StringArrayVar(&sf.volumes, "mount-volume", nil, "HOST:CONTAINER mount used to translate --data-dir (repeatable)")
	f.StringVar(&sf.pattern, "pattern", pattern, "file name pattern")
	f.BoolVar(&sf.recursive, "recursive", false, "descend into subdirectories")
	f.StringVar(&sf.graph, "graph", "", "target graph IRI for triples formats")
	_ = cmd.MarkFlagRequired("data-dir")
}

// source resolves the flags into a loader.Source. An explicit
// --container-data-dir wins over translation through --mount-volume.
func (sf sourceFlags) source(inContainer bool) (loader.Source, error) {
	src := loader.Source{
		Dir:       sf.dir,
		ServerDir: sf.containerDataDir,
		Pattern:   sf.pattern,
		Recursive: sf.recursive,
		Graph:     sf.graph,
	}
	// A directory listed inside the container is already the server's view.
	if inContainer {
		return src, nil
	}

	abs, err := filepath.Abs(sf.dir)
	if err != nil {
		return src, fmt.Errorf("resolving %s: %w", sf.dir, err)
	}
	src.Dir = abs
	if src.ServerDir != "" || len(sf.volumes) == 0 {
		return src, nil
	}

	mounts, err := docker.ParseMounts(sf.volumes)
	if err != nil {
		return src, err
	}
	serverDir, ok := docker.TranslatePath(abs, mounts)
	if !ok {
		return src, fmt.Errorf("%w: %s is not under any --mount-volume", loader.ErrInvalidOptions, sf.dir)
	}
	src.ServerDir = serverDir
	return src, nil
}

func tuning() loader.Tuning {
	return loader.Tuning{
		CheckpointInterval: cfg.Load.CheckpointInterval,
		SchedulerInterval:  cfg.Load.SchedulerInterval,
	}
}

// newClient returns the isql client for the configured target.
func newClient() *isql.Client {
	return isql.NewClient(cfg.Target(), proc.OS{})
}

// targetLabel names the server in history entries and ledger scopes.
func targetLabel() string {
	t := cfg.Target()
	if t.InDocker() {
		return t.Docker.Container + "/" + t.Address()
	}
	return t.Address()
}

func loadEntry(op history.Operation, r *loader.Report, dir string) *history.Entry {
	e := &history.Entry{Operation: op, Target: targetLabel(), Dir: dir}
	if r != nil {
		e.Summary = history.Summary{
			Files:    r.Discovered,
			Loaded:   r.Loaded,
			Failed:   r.Failed,
			Skipped:  r.Skipped,
			Bytes:    r.Bytes,
			Workers:  len(r.Workers),
			Duration: r.Duration,
		}
	}
	return e
}

// renderLoad renders a load report, or just the error when discovery
// failed before a report existed.
func renderLoad(cmd *cobra.Command, op history.Operation, dir string, report *loader.Report, err error) error {
	res := &output.Result{Command: string(op)}
	if report != nil {
		res = output.NewLoad(report)
	}
	return render(cmd.OutOrStdout(), res, loadEntry(op, report, dir), err)
}

// runLoad runs the sequential loader.
func runLoad(cmd *cobra.Command, args []string) error {
	src, err := loadFlags.source(false)
	if err != nil {
		return err
	}

	seq, err := loader.NewSequential(newClient(), loader.HostFinder{}, loader.SequentialOptions{
		Source: src,
		Tuning: tuning(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	printInfo(cmd.ErrOrStderr(), "Loading %s from %s via %s...", src.Pattern, src.Dir, targetLabel())
	report, err := seq.Run(ctx)
	return renderLoad(cmd, history.OpLoad, src.Dir, report, err)
}
