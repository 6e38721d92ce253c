package loader

import (
	"sort"
	"time"

	"github.com/virtutil/virtutil/pkg/virtutil/isql"
)

// Mode names the orchestrator that produced a Report.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// FileResult is the outcome for one file.
type FileResult struct {
	Path     string        `json:"path" yaml:"path"`
	Worker   int           `json:"worker,omitempty" yaml:"worker,omitempty"`
	OK       bool          `json:"ok" yaml:"ok"`
	Skipped  bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Kind     string        `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Size     int64         `json:"size,omitempty" yaml:"size,omitempty"`
}

func failedResult(t Task, res isql.Result) FileResult {
	return FileResult{
		Path:     t.Path,
		Worker:   t.Worker,
		Kind:     res.Kind.String(),
		Error:    res.Message(),
		Duration: res.Duration,
		Size:     t.Size,
	}
}

// WorkerStats summarises one parallel worker.
type WorkerStats struct {
	ID               int           `json:"id" yaml:"id"`
	Files            int           `json:"files" yaml:"files"`
	Failed           int           `json:"failed" yaml:"failed"`
	Checkpoints      int           `json:"checkpoints" yaml:"checkpoints"`
	CheckpointErrors int           `json:"checkpoint_errors,omitempty" yaml:"checkpoint_errors,omitempty"`
	Busy             time.Duration `json:"busy" yaml:"busy"`
}

// FilesPerSecond is the worker's throughput over its busy time.
func (w WorkerStats) FilesPerSecond() float64 {
	if w.Busy <= 0 {
		return 0
	}
	return float64(w.Files) / w.Busy.Seconds()
}

// Report is the outcome of one load run.
type Report struct {
	Mode      Mode      `json:"mode" yaml:"mode"`
	Dir       string    `json:"dir" yaml:"dir"`
	Pattern   string    `json:"pattern" yaml:"pattern"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`

	Discovered int   `json:"discovered" yaml:"discovered"`
	Loaded     int   `json:"loaded" yaml:"loaded"`
	Failed     int   `json:"failed" yaml:"failed"`
	Skipped    int   `json:"skipped" yaml:"skipped"`
	Bytes      int64 `json:"bytes" yaml:"bytes"`

	Duration time.Duration `json:"duration" yaml:"duration"`
	Workers  []WorkerStats `json:"workers,omitempty" yaml:"workers,omitempty"`
	Results  []FileResult  `json:"results" yaml:"results"`

	// Finalized is false when the closing checkpoint failed.
	Finalized bool `json:"finalized" yaml:"finalized"`
	// Drained is false when the sequential queue poll timed out.
	Drained bool `json:"drained" yaml:"drained"`
}

// Failures returns the failed results, at most limit of them when limit > 0.
func (r *Report) Failures(limit int) []FileResult {
	var out []FileResult
	for _, res := range r.Results {
		if res.OK || res.Skipped {
			continue
		}
		out = append(out, res)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// OK reports whether every discovered file loaded and the run finalized.
func (r *Report) OK() bool {
	return r.Failed == 0 && r.Finalized && r.Drained
}

// CPUTime is the total time spent inside isql across all files.
func (r *Report) CPUTime() time.Duration {
	var d time.Duration
	for _, res := range r.Results {
		d += res.Duration
	}
	return d
}

func (r *Report) tally() {
	sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].Path < r.Results[j].Path })
	r.Loaded, r.Failed, r.Skipped, r.Bytes = 0, 0, 0, 0
	for _, res := range r.Results {
		switch {
		case res.Skipped:
			r.Skipped++
		case res.OK:
			r.Loaded++
			r.Bytes += res.Size
		default:
			r.Failed++
		}
	}
}
