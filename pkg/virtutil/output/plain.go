package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
)

// PlainFormatter writes aligned "key value" lines without styling, for
// logs and scripts.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

	row("command", r.Command)
	row("ok", r.OK)

	switch {
	case r.Load != nil:
		s := r.Load
		row("mode", s.Mode)
		row("dir", s.Dir)
		row("pattern", s.Pattern)
		row("discovered", s.Discovered)
		row("loaded", s.Loaded)
		row("failed", s.Failed)
		row("skipped", s.Skipped)
		row("bytes", s.Bytes)
		row("duration", s.Duration)
		row("finalized", s.Finalized)
		for _, wk := range s.Workers {
			row(fmt.Sprintf("worker.%d", wk.ID), fmt.Sprintf("files=%d failed=%d time=%s files/s=%.2f", wk.Files, wk.Failed, wk.Busy, wk.FilesPerSecond))
		}
		for _, fl := range s.Failures {
			row("failure", fl.Path+": "+fl.Error)
		}
	case r.Launch != nil:
		s := r.Launch
		row("name", s.Name)
		row("image", s.Image)
		row("ready", s.Ready)
		row("existing", s.Existing)
		row("conductor", s.ConductorURL)
		row("isql", s.ISQLCommand)
		row("memory", s.Memory)
		row("data_dir", s.DataDir)
		for _, m := range s.Mounts {
			row("mount", m)
		}
		for _, c := range s.IniChanges {
			row("ini", c)
		}
	case r.Dump != nil:
		row("output_dir", r.Dump.OutputDir)
		row("first_file", r.Dump.FirstFile)
		row("installed", r.Dump.Installed)
		row("duration", r.Dump.Duration)
	case r.Reindex != nil:
		for _, st := range r.Reindex.Steps {
			state := "done"
			if !st.Done {
				state = "not run"
			}
			if st.Error != "" {
				state = "error: " + st.Error
			}
			row("step", st.Name+": "+state)
		}
		row("restart_required", r.Reindex.RestartRequired)
	case r.Tuning != nil:
		s := r.Tuning
		row("memory", s.Memory)
		row("NumberOfBuffers", s.NumberOfBuffers)
		row("MaxDirtyBuffers", s.MaxDirtyBuffers)
		if s.MaxCheckpointRemap > 0 {
			row("MaxCheckpointRemap", s.MaxCheckpointRemap)
		}
		if s.CPUCores > 0 {
			row("workers", s.SuggestedWorkers)
		}
		for _, c := range s.IniChanges {
			row("ini", c)
		}
	}

	for _, warn := range r.Warnings {
		row("warning", warn)
	}
	if r.Error != "" {
		row("error", r.Error)
		if len(r.Hints) > 0 {
			row("hint", strings.Join(r.Hints, "; "))
		}
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
