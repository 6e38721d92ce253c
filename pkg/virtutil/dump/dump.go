// Package dump exports every non-internal graph as N-Quads files using the
// dump_nquads stored procedure, installing it first when it is missing.
package dump

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	crdb "github.com/cockroachdb/errors"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
)

// ProcedureName is the fully qualified name of the export procedure.
const ProcedureName = "DB.DBA.dump_nquads"

// Defaults for Options.
const (
	DefaultFileSizeLimit int64 = 100_000_000
	DefaultStartFrom           = 1
)

//go:embed dump_nquads.sql
var procedureSQL string

// Errors reported by the driver.
var (
	ErrInvalidOptions = errors.New("invalid dump options")
	ErrInstall        = errors.New("installing dump procedure failed")
	ErrDump           = errors.New("dump failed")
)

// Options are the dump_nquads arguments.
type Options struct {
	// OutputDir is written by the engine, so it is a server-side path and
	// must be listed in DirsAllowed.
	OutputDir string
	// FileSizeLimit is the uncompressed size at which a new file starts.
	FileSizeLimit int64
	Compress      bool
	// StartFrom is the sequence number of the first output file.
	StartFrom int
}

func (o Options) withDefaults() Options {
	if o.FileSizeLimit == 0 {
		o.FileSizeLimit = DefaultFileSizeLimit
	}
	if o.StartFrom == 0 {
		o.StartFrom = DefaultStartFrom
	}
	return o
}

// Validate rejects options the procedure cannot use.
func (o Options) Validate() error {
	switch {
	case o.OutputDir == "":
		return fmt.Errorf("%w: output directory is required", ErrInvalidOptions)
	case o.FileSizeLimit < 0:
		return fmt.Errorf("%w: file size limit must not be negative", ErrInvalidOptions)
	case o.StartFrom < 0:
		return fmt.Errorf("%w: start number must not be negative", ErrInvalidOptions)
	}
	return nil
}

// FirstFile is the name of the first file the run writes.
func (o Options) FirstFile() string {
	name := fmt.Sprintf("output%06d.nq", o.withDefaults().StartFrom)
	if o.Compress {
		name += ".gz"
	}
	return name
}

// Result describes a finished dump.
type Result struct {
	OutputDir string        `json:"output_dir" yaml:"output_dir"`
	Installed bool          `json:"installed" yaml:"installed"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Driver runs dumps through one isql target.
type Driver struct {
	client isql.Runner
	log    *logging.Logger
}

// NewDriver returns a Driver using client.
func NewDriver(client isql.Runner) *Driver {
	return &Driver{client: client, log: logging.Get("dump")}
}

// Installed reports whether the procedure exists.
func (d *Driver) Installed(ctx context.Context) (bool, error) {
	res := d.client.Exec(ctx, installedQuery())
	if !res.OK() {
		return false, fmt.Errorf("checking for %s: %w", ProcedureName, res.Err())
	}
	rows := isql.Rows(res.Stdout)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return false, fmt.Errorf("checking for %s: no count in output", ProcedureName)
	}
	n, err := strconv.Atoi(rows[0][0])
	if err != nil {
		return false, fmt.Errorf("checking for %s: %w", ProcedureName, err)
	}
	return n > 0, nil
}

// Install creates the procedure. Running it again replaces the definition.
func (d *Driver) Install(ctx context.Context) error {
	d.log.Info("installing procedure", "name", ProcedureName)
	res := d.client.Script(ctx, procedureSQL)
	if !res.OK() {
		return fmt.Errorf("%w: %w", ErrInstall, res.Err())
	}
	return nil
}

// Run installs the procedure if needed and calls it once.
func (d *Driver) Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	result := &Result{OutputDir: opts.OutputDir}
	start := time.Now()

	ok, err := d.Installed(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := d.Install(ctx); err != nil {
			return nil, err
		}
		result.Installed = true
	}

	stmt := callStatement(opts)
	d.log.Info("dumping graphs", "dir", opts.OutputDir, "limit", opts.FileSizeLimit, "compress", opts.Compress, "start", opts.StartFrom)
	res := d.client.Exec(ctx, stmt)
	result.Duration = time.Since(start)
	if !res.OK() {
		err := fmt.Errorf("%w: %w", ErrDump, res.Err())
		if res.Kind == isql.KindAccessDenied || res.Kind == isql.KindFileAccess {
			err = crdb.WithHintf(err, "make sure %q exists on the server and is listed in DirsAllowed in virtuoso.ini", opts.OutputDir)
		}
		return result, err
	}
	d.log.Info("dump finished", "dir", opts.OutputDir, "took", result.Duration)
	return result, nil
}

func installedQuery() string {
	return fmt.Sprintf("SELECT sprintf('%s%%d', count(*)) FROM DB.DBA.SYS_PROCEDURES WHERE P_NAME = %s;",
		isql.RowPrefix, isql.Quote(ProcedureName))
}

func callStatement(o Options) string {
	comp := 0
	if o.Compress {
		comp = 1
	}
	return fmt.Sprintf("%s(%s, %d, %d, %d);", ProcedureName, isql.Quote(o.OutputDir), o.StartFrom, o.FileSizeLimit, comp)
}
