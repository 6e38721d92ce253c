package loader

import (
	"fmt"
	"strings"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
)

// PlaceholderGraph is passed to TTLP and ld_dir for quad formats, where
// the graph comes from the data itself and the argument is ignored.
const PlaceholderGraph = "http://localhost:8890/DAV/ignored"

// TTLP parser flags.
const (
	flagsTriples = 0
	flagTriG     = 256
	flagNQuads   = 512
)

// format describes how TTLP reads one file extension.
type format struct {
	flags int
	// quads formats carry their graph in the data.
	quads bool
}

var formats = map[string]format{
	".nq":     {flags: flagNQuads, quads: true},
	".nquads": {flags: flagNQuads, quads: true},
	".trig":   {flags: flagTriG, quads: true},
	".ttl":    {flags: flagsTriples},
	".nt":     {flags: flagsTriples},
	".n3":     {flags: flagsTriples},
}

// formatOf returns the format for path, looking through a trailing ".gz".
func formatOf(path string) (format, bool, error) {
	lower := strings.ToLower(path)
	gz := strings.HasSuffix(lower, ".gz")
	lower = strings.TrimSuffix(lower, ".gz")
	dot := strings.LastIndexByte(lower, '.')
	if dot < 0 {
		return format{}, gz, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	f, ok := formats[lower[dot:]]
	if !ok {
		return format{}, gz, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return f, gz, nil
}

// checkGraph fails when a triples file has no target graph.
func checkGraph(path, graph string) error {
	f, _, err := formatOf(path)
	if err != nil {
		return err
	}
	if !f.quads && graph == "" {
		return fmt.Errorf("%w: %s", ErrNoGraph, path)
	}
	return nil
}

// loadStatement returns the per-file SQL: bulk-mode logging for the session
// followed by one TTLP call.
func loadStatement(serverPath, graph string) (string, error) {
	f, gz, err := formatOf(serverPath)
	if err != nil {
		return "", err
	}
	if graph == "" {
		if !f.quads {
			return "", fmt.Errorf("%w: %s", ErrNoGraph, serverPath)
		}
		graph = PlaceholderGraph
	}
	open := "file_open"
	if gz {
		open = "gz_file_open"
	}
	return fmt.Sprintf("log_enable(2, 1); DB.DBA.TTLP(%s(%s), '', %s, %d);",
		open, isql.Quote(serverPath), isql.Quote(graph), f.flags), nil
}

const (
	stmtBulkMode   = "log_enable(2, 1);"
	stmtCheckpoint = "checkpoint;"
	stmtRunLoader  = "rdf_loader_run();"
)

func accessProbe(serverPath string) string {
	return fmt.Sprintf("SELECT file_stat(%s);", isql.Quote(serverPath))
}

func finalizeStatement(checkpointInterval, schedulerInterval int) string {
	return fmt.Sprintf("log_enable(3, 1); checkpoint; checkpoint_interval(%d); scheduler_interval(%d);",
		checkpointInterval, schedulerInterval)
}

func registerStatement(dir, pattern, graph string, recursive bool) string {
	fn := "ld_dir"
	if recursive {
		fn = "ld_dir_all"
	}
	if graph == "" {
		graph = PlaceholderGraph
	}
	return fmt.Sprintf("%s(%s, %s, %s);", fn, isql.Quote(dir), isql.Quote(pattern), isql.Quote(graph))
}

// Load queue states in DB.DBA.load_list.
const (
	statePending = 0
	stateRunning = 1
	stateDone    = 2
)

func dirFilter(dir string) string {
	return "ll_file LIKE " + isql.Quote(strings.TrimSuffix(dir, "/")+"/%")
}

func pendingQuery(dir string) string {
	return fmt.Sprintf("SELECT sprintf('%s%%d', count(*)) FROM DB.DBA.load_list WHERE ll_state IN (%d, %d) AND %s;",
		isql.RowPrefix, statePending, stateRunning, dirFilter(dir))
}

func statusQuery(dir string) string {
	return fmt.Sprintf("SELECT sprintf('%s%%d|%%U|%%U', ll_state, ll_file, coalesce(ll_error, '')) FROM DB.DBA.load_list WHERE %s;",
		isql.RowPrefix, dirFilter(dir))
}
