// Package fulltext rebuilds the RDF literal free-text index from scratch.
// The engine must be restarted afterwards for the index to be used.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
)

// Errors reported by Rebuild.
var (
	ErrSession = errors.New("rebuild session failed")
	ErrStep    = errors.New("rebuild step failed")
)

// Step is one statement of the rebuild sequence.
type Step struct {
	Name string
	SQL  string
	// Optional steps may fail, for example dropping a table that does not
	// exist yet.
	Optional bool
}

// Steps is the fixed rebuild sequence.
var Steps = []Step{
	{Name: "drop log table", SQL: "DROP TABLE DB.DBA.VTLOG_DB_DBA_RDF_OBJ;", Optional: true},
	{Name: "drop words table", SQL: "DROP TABLE DB.DBA.RDF_OBJ_RO_FLAGS_WORDS;", Optional: true},
	{Name: "create words table", SQL: "CREATE TABLE DB.DBA.RDF_OBJ_RO_FLAGS_WORDS (VT_WORD VARCHAR, VT_D_ID ANY, VT_D_ID_2 ANY, VT_DATA VARCHAR, VT_LONG_DATA LONG VARCHAR, PRIMARY KEY (VT_WORD, VT_D_ID));"},
	{Name: "create log table", SQL: "CREATE TABLE DB.DBA.VTLOG_DB_DBA_RDF_OBJ (VTLOG_RO_ID BIGINT NOT NULL PRIMARY KEY, SNAPTIME DATETIME, DMLTYPE VARCHAR);"},
	{Name: "create text index", SQL: "DB.DBA.vt_create_text_index ('DB.DBA.RDF_OBJ', 'RO_FLAGS', 'RO_ID', 0, 0, vector (), 1, '*ini*', 'UTF-8-QR');"},
	{Name: "add index rule", SQL: "DB.DBA.RDF_OBJ_FT_RULE_ADD (null, null, 'All');"},
	{Name: "refill index", SQL: "DB.DBA.VT_INC_INDEX_DB_DBA_RDF_OBJ ();"},
	{Name: "checkpoint", SQL: "checkpoint;"},
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string `json:"name" yaml:"name"`
	Done     bool   `json:"done" yaml:"done"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the step completed or was allowed to fail.
func (s StepResult) OK() bool {
	return s.Optional || (s.Done && s.Error == "")
}

// Result is the outcome of a rebuild.
type Result struct {
	Steps           []StepResult  `json:"steps" yaml:"steps"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
	RestartRequired bool          `json:"restart_required" yaml:"restart_required"`
}

// RestartNotice is shown after a rebuild.
const RestartNotice = "restart the Virtuoso server for the rebuilt full-text index to take effect"

const markerPrefix = isql.RowPrefix + "step|"

// Script renders steps as one isql script with a marker query after each
// statement.
func Script(steps []Step) string {
	var b strings.Builder
	for i, s := range steps {
		b.WriteString(s.SQL)
		b.WriteByte('\n')
		fmt.Fprintf(&b, "SELECT '%s%d';\n", markerPrefix, i)
	}
	return b.String()
}

// Rebuilder runs the rebuild through one isql target.
type Rebuilder struct {
	client isql.Runner
	steps  []Step
	log    *logging.Logger
}

// NewRebuilder returns a Rebuilder for the standard Steps.
func NewRebuilder(client isql.Runner) *Rebuilder {
	return &Rebuilder{client: client, steps: Steps, log: logging.Get("fulltext")}
}

// Rebuild runs every step in a single session. The returned error lists
// the required steps that failed or never completed.
func (r *Rebuilder) Rebuild(ctx context.Context) (*Result, error) {
	r.log.Info("rebuilding full-text index", "steps", len(r.steps))
	res := r.client.Script(ctx, Script(r.steps))
	switch res.Kind {
	case isql.KindLaunch, isql.KindConnection, isql.KindAccessDenied:
		return nil, fmt.Errorf("%w: %w", ErrSession, res.Err())
	}

	steps, unattributed := parse(r.steps, res.Stdout+"\n"+res.Stderr)
	result := &Result{Steps: steps, Duration: res.Duration, RestartRequired: true}

	var errs *multierror.Error
	for _, line := range unattributed {
		errs = multierror.Append(errs, fmt.Errorf("%w: %s", ErrStep, line))
	}
	for _, s := range result.Steps {
		switch {
		case s.OK():
			if s.Error != "" {
				r.log.Debug("optional step failed", "step", s.Name, "error", s.Error)
			}
		case !s.Done:
			errs = multierror.Append(errs, fmt.Errorf("%w: %s did not complete", ErrStep, s.Name))
		default:
			errs = multierror.Append(errs, fmt.Errorf("%w: %s: %s", ErrStep, s.Name, s.Error))
		}
	}
	if errs != nil {
		return result, errs.ErrorOrNil()
	}
	r.log.Info("full-text index rebuilt", "took", result.Duration)
	return result, nil
}

// parse marks the steps whose marker appeared and attributes each error
// line to a step. isql follows an error with "at line N of Top-Level:",
// which names the script line and so the step, whatever order stdout and
// stderr were interleaved in. Without a location an error belongs to the
// first step whose marker had not been seen yet. Errors that fit no step
// are returned separately.
func parse(steps []Step, output string) ([]StepResult, []string) {
	results := make([]StepResult, len(steps))
	for i, s := range steps {
		results[i] = StepResult{Name: s.Name, Optional: s.Optional}
	}

	lines := strings.Split(output, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	var unattributed []string
	current := 0
	for i, line := range lines {
		if rest, ok := strings.CutPrefix(line, markerPrefix); ok {
			if n, err := strconv.Atoi(rest); err == nil && n >= 0 && n < len(results) {
				results[n].Done = true
				current = max(current, n+1)
			}
			continue
		}
		if isql.Classify(0, line, "") == isql.KindNone {
			continue
		}

		step := current
		if i+1 < len(lines) {
			if n, ok := scriptLine(lines[i+1]); ok {
				step = stepOfLine(n)
			}
		}
		switch {
		case step < 0 || step >= len(results):
			unattributed = append(unattributed, line)
		case results[step].Error == "":
			results[step].Error = line
		}
	}
	return results, unattributed
}

// scriptLine reads the 1-based script line from isql's error location.
func scriptLine(line string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(line, "at line %d of Top-Level:", &n); err != nil {
		return 0, false
	}
	return n, true
}

// stepOfLine maps a Script line to its step: every step is one statement
// line followed by one marker line.
func stepOfLine(n int) int {
	return (n - 1) / 2
}
