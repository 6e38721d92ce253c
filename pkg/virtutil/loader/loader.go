// Package loader drives bulk loads into Virtuoso. Parallel runs one TTLP
// call per file across a pool of workers; Sequential registers files in
// the engine's own load queue and runs rdf_loader_run once.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	crdb "github.com/cockroachdb/errors"

	"github.com/virtutil/virtutil/pkg/virtutil/docker"
	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
	"github.com/virtutil/virtutil/pkg/virtutil/scanner"
)

// Errors reported by the loaders.
var (
	ErrInvalidOptions    = errors.New("invalid load options")
	ErrNoFiles           = errors.New("no matching files")
	ErrNoGraph           = errors.New("a target graph is required for triples formats")
	ErrUnsupportedFormat = errors.New("unsupported RDF file format")
	ErrAccess            = errors.New("server cannot access the data files")
	ErrRegistration      = errors.New("file registration failed")
	ErrLoadFailed        = errors.New("bulk load failed")
	ErrFinalize          = errors.New("final checkpoint failed")
	ErrQueueNotDrained   = errors.New("load queue did not drain")
)

// Defaults taken from the engine's stock settings.
const (
	DefaultCheckpointInterval = 60
	DefaultSchedulerInterval  = 10
	DefaultBatchSize          = 100
	DefaultParallelPattern    = "*.nq"
	DefaultSequentialPattern  = "*.nq.gz"
	maxReportedFailures       = 10
)

// Finder lists candidate files.
type Finder interface {
	Find(ctx context.Context, dir, pattern string, recursive bool) ([]scanner.File, error)
}

// HostFinder discovers files on the local filesystem.
type HostFinder struct {
	Exclude []string
}

// Find implements Finder with scanner.Discover.
func (h HostFinder) Find(ctx context.Context, dir, pattern string, recursive bool) ([]scanner.File, error) {
	return scanner.Discover(ctx, scanner.Options{Root: dir, Pattern: pattern, Recursive: recursive, Exclude: h.Exclude})
}

// ContainerFinder discovers files inside a running container. Sizes are
// not known and reported as zero.
type ContainerFinder struct {
	Launcher  *docker.Launcher
	Container string
}

// Find implements Finder with "docker exec find".
func (c ContainerFinder) Find(ctx context.Context, dir, pattern string, recursive bool) ([]scanner.File, error) {
	paths, err := c.Launcher.Find(ctx, c.Container, dir, pattern, recursive)
	if err != nil {
		return nil, err
	}
	files := make([]scanner.File, len(paths))
	for i, p := range paths {
		files[i] = scanner.File{Path: p}
	}
	return files, nil
}

// Source says where the data files are and how the engine sees them.
type Source struct {
	// Dir is searched for files.
	Dir string
	// ServerDir is Dir as seen by the engine, for example the mount target
	// inside a container. Empty means the same as Dir.
	ServerDir string

	Pattern   string
	Recursive bool

	// Graph is the target graph IRI. Quad formats ignore it.
	Graph string
}

func (s Source) serverDir() string {
	if s.ServerDir == "" {
		return s.Dir
	}
	return s.ServerDir
}

// serverPath maps a discovered path to the engine's view of it.
func (s Source) serverPath(p string) string {
	if s.ServerDir == "" || s.ServerDir == s.Dir {
		return p
	}
	rest, ok := strings.CutPrefix(p, strings.TrimSuffix(s.Dir, "/"))
	if !ok {
		return p
	}
	return path.Join(s.ServerDir, rest)
}

// resolve makes a host Dir absolute so that it matches discovered paths
// and means the same directory to the engine. Container directories are
// not resolved and must already be absolute.
func (s Source) resolve(f Finder) (Source, error) {
	if _, ok := f.(ContainerFinder); ok {
		if !path.IsAbs(s.Dir) {
			return s, fmt.Errorf("%w: container directory %q must be absolute", ErrInvalidOptions, s.Dir)
		}
		return s, nil
	}
	abs, err := filepath.Abs(s.Dir)
	if err != nil {
		return s, fmt.Errorf("%w: resolving %s: %v", ErrInvalidOptions, s.Dir, err)
	}
	s.Dir = abs
	return s, nil
}

// Tuning is the post-load engine configuration.
type Tuning struct {
	CheckpointInterval int
	SchedulerInterval  int
}

func (t Tuning) withDefaults() Tuning {
	if t.CheckpointInterval == 0 {
		t.CheckpointInterval = DefaultCheckpointInterval
	}
	if t.SchedulerInterval == 0 {
		t.SchedulerInterval = DefaultSchedulerInterval
	}
	return t
}

var logger = logging.Get("loader")

// discover runs the finder and builds tasks with engine-side paths.
func discover(ctx context.Context, f Finder, src Source) ([]Task, error) {
	files, err := f.Find(ctx, src.Dir, src.Pattern, src.Recursive)
	if err != nil {
		return nil, fmt.Errorf("finding files in %s: %w", src.Dir, err)
	}
	tasks := make([]Task, len(files))
	for i, file := range files {
		tasks[i] = Task{Path: file.Path, ServerPath: src.serverPath(file.Path), Size: file.Size, Graph: src.Graph}
	}
	return tasks, nil
}

// probeAccess checks that the engine can stat a data file.
func probeAccess(ctx context.Context, c isql.Runner, serverDir, serverPath string) error {
	res := c.Exec(ctx, accessProbe(serverPath))
	if res.OK() {
		return nil
	}
	err := fmt.Errorf("%w: %s: %w", ErrAccess, serverPath, res.Err())
	return crdb.WithHintf(err, "make sure %q is listed in DirsAllowed in virtuoso.ini", serverDir)
}

// finalize restores transaction logging and runs the closing checkpoint.
// It uses a context that survives cancellation of ctx.
func finalize(ctx context.Context, c isql.Runner, t Tuning) error {
	res := c.Exec(context.WithoutCancel(ctx), finalizeStatement(t.CheckpointInterval, t.SchedulerInterval))
	if res.OK() {
		return nil
	}
	err := fmt.Errorf("%w: %w", ErrFinalize, res.Err())
	return crdb.WithHint(err, "data loaded with log_enable(2) is not safe until a checkpoint succeeds; run 'checkpoint;' in isql now")
}
