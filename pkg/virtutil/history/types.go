// Package history keeps a JSON record of every launch, load, dump and
// reindex run on this machine.
package history

import "time"

// Operation names the command that produced an entry.
type Operation string

const (
	OpLaunch       Operation = "launch"
	OpLoad         Operation = "load"
	OpLoadParallel Operation = "load-parallel"
	OpDump         Operation = "dump"
	OpReindex      Operation = "reindex"
)

// Status is the final state of a run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Entry is one recorded run.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	// Target is host:port or the container name the run talked to.
	Target string `json:"target"`
	// Dir is the data, output or database directory, when there is one.
	Dir     string  `json:"dir,omitempty"`
	Status  Status  `json:"status"`
	Error   string  `json:"error,omitempty"`
	Summary Summary `json:"summary"`
}

// Summary holds the counters of a run. Fields that do not apply to an
// operation stay zero.
type Summary struct {
	Files    int           `json:"files"`
	Loaded   int           `json:"loaded"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Bytes    int64         `json:"bytes"`
	Workers  int           `json:"workers,omitempty"`
	Duration time.Duration `json:"duration"`
}
