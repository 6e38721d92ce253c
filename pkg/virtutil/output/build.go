package output

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/virtutil/virtutil/pkg/virtutil/docker"
	"github.com/virtutil/virtutil/pkg/virtutil/dump"
	"github.com/virtutil/virtutil/pkg/virtutil/fulltext"
	"github.com/virtutil/virtutil/pkg/virtutil/inifile"
	"github.com/virtutil/virtutil/pkg/virtutil/loader"
	"github.com/virtutil/virtutil/pkg/virtutil/tuner"
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

// NewLoad builds a Result from a load report. All failures are kept;
// the pretty formatter truncates them.
func NewLoad(r *loader.Report) *Result {
	s := &LoadSection{
		Mode:       string(r.Mode),
		Dir:        r.Dir,
		Pattern:    r.Pattern,
		Discovered: r.Discovered,
		Loaded:     r.Loaded,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Bytes:      r.Bytes,
		BytesHuman: humanize.IBytes(uint64(max(r.Bytes, 0))),
		Duration:   formatDuration(r.Duration),
		Finalized:  r.Finalized,
		Drained:    r.Drained,
	}
	for _, w := range r.Workers {
		s.Workers = append(s.Workers, WorkerSection{
			ID:             w.ID,
			Files:          w.Files,
			Failed:         w.Failed,
			Checkpoints:    w.Checkpoints,
			Busy:           formatDuration(w.Busy),
			FilesPerSecond: w.FilesPerSecond(),
		})
	}
	for _, f := range r.Failures(0) {
		s.Failures = append(s.Failures, FailureSection{Path: f.Path, Kind: f.Kind, Error: f.Error})
	}

	command := "load"
	if r.Mode == loader.ModeParallel {
		command = "load-parallel"
	}
	res := &Result{Command: command, OK: r.OK(), Load: s}
	if !r.Finalized && r.Discovered > 0 {
		res.Warnings = append(res.Warnings, "CRITICAL: the final checkpoint failed; run 'checkpoint;' in isql before stopping the server")
	}
	if !r.Drained {
		res.Warnings = append(res.Warnings, "the load queue still had pending files when polling stopped")
	}
	return res
}

// NewLaunch builds a Result from a deployment.
func NewLaunch(d *docker.Deployment) *Result {
	s := &LaunchSection{
		Name:             d.Name,
		Image:            d.Image,
		HTTPPort:         d.HTTPPort,
		ISQLPort:         d.ISQLPort,
		Memory:           d.Memory,
		DataDir:          d.HostDataDir,
		ContainerDataDir: d.ContainerDataDir,
		Existing:         d.Existing,
		IniChanges:       changeStrings(d.IniChanges),
		Ready:            d.Ready,
		ConductorURL:     d.ConductorURL(),
		ISQLCommand:      fmt.Sprintf("isql localhost:%d dba <password>", d.ISQLPort),
	}
	for _, m := range d.Mounts {
		s.Mounts = append(s.Mounts, m.Spec())
	}

	res := &Result{Command: "launch", OK: true, Launch: s}
	if d.IniError != nil {
		s.IniError = d.IniError.Error()
		res.Warnings = append(res.Warnings, "virtuoso.ini was not updated: "+s.IniError)
	}
	return res
}

// NewDump builds a Result from a finished dump.
func NewDump(r *dump.Result, opts dump.Options) *Result {
	return &Result{Command: "dump", OK: true, Dump: &DumpSection{
		OutputDir: r.OutputDir,
		FirstFile: opts.FirstFile(),
		Installed: r.Installed,
		Duration:  formatDuration(r.Duration),
	}}
}

// NewReindex builds a Result from a rebuild.
func NewReindex(r *fulltext.Result) *Result {
	s := &ReindexSection{RestartRequired: r.RestartRequired, Duration: formatDuration(r.Duration)}
	ok := true
	for _, st := range r.Steps {
		s.Steps = append(s.Steps, StepSection{Name: st.Name, Done: st.Done, Optional: st.Optional, Error: st.Error})
		ok = ok && st.OK()
	}
	res := &Result{Command: "rebuild-index", OK: ok, Reindex: s}
	if r.RestartRequired {
		res.Warnings = append(res.Warnings, fulltext.RestartNotice)
	}
	return res
}

// NewTuning builds a Result from computed parameters. res and changes may
// be nil.
func NewTuning(p tuner.Parameters, res *tuner.SystemResources, changes []inifile.Change) *Result {
	s := &TuningSection{
		Memory:             types.FormatMemory(p.MemoryBytes),
		MemoryBytes:        p.MemoryBytes,
		NumberOfBuffers:    p.NumberOfBuffers,
		MaxDirtyBuffers:    p.MaxDirtyBuffers,
		MaxCheckpointRemap: p.MaxCheckpointRemap,
		IniChanges:         changeStrings(changes),
	}
	if res != nil {
		s.CPUCores = res.CPUCores
		s.SuggestedWorkers = tuner.DefaultWorkers(res.CPUCores)
	}
	return &Result{Command: "tune", OK: true, Tuning: s}
}

func changeStrings(changes []inifile.Change) []string {
	var out []string
	for _, c := range changes {
		out = append(out, c.String())
	}
	return out
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	switch {
	case d == 0:
		return "0s"
	case sec < 1:
		return fmt.Sprintf("%.0fms", sec*1000)
	case sec < 60:
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
