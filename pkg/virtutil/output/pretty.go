package output

import (
	"bytes"
	"fmt"
	"strings"
)

// MaxPrettyFailures is how many failed files the pretty formatter lists.
const MaxPrettyFailures = 10

// PrettyFormatter formats output with colors and styling using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	switch {
	case r.Load != nil:
		f.load(w, r.Load)
	case r.Launch != nil:
		f.launch(w, r.Launch)
	case r.Dump != nil:
		f.dump(w, r.Dump)
	case r.Reindex != nil:
		f.reindex(w, r.Reindex)
	case r.Tuning != nil:
		f.tuning(w, r.Tuning)
	}

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	if r.Error != "" {
		w.WriteString("\n")
		w.WriteString(f.formatError(r.Error, r.Hints))
		w.WriteString("\n")
	}
	return nil
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value)
}

func (f *PrettyFormatter) load(w *bytes.Buffer, s *LoadSection) {
	title := TitleStyle.Render(s.Mode + " load")
	w.WriteString(HeaderBox.Render(title + "\n" + field("Dir", s.Dir) + "  " + field("Pattern", s.Pattern)))
	w.WriteString("\n")

	if len(s.Workers) > 0 {
		fmt.Fprintf(w, "  %s%s%s%s%s\n",
			TableHeaderStyle.Render(padRight("WORKER", 8)),
			TableHeaderStyle.Render(padRight("FILES", 7)),
			TableHeaderStyle.Render(padRight("FAILED", 8)),
			TableHeaderStyle.Render(padRight("TIME", 10)),
			TableHeaderStyle.Render("FILES/S"))
		for _, wk := range s.Workers {
			failed := padRight(fmt.Sprint(wk.Failed), 8)
			if wk.Failed > 0 {
				failed = ErrorStyle.Render(failed)
			}
			fmt.Fprintf(w, "  %s%s%s%s%.2f\n",
				padRight(fmt.Sprint(wk.ID), 8), padRight(fmt.Sprint(wk.Files), 7), failed, padRight(wk.Busy, 10), wk.FilesPerSecond)
		}
	}

	if len(s.Failures) > 0 {
		w.WriteString("\n")
		w.WriteString(ErrorStyle.Bold(true).Render("Failed files:"))
		w.WriteString("\n")
		for i, fl := range s.Failures {
			if i == MaxPrettyFailures {
				w.WriteString(MutedStyle.Render(fmt.Sprintf("  ... and %d more (use -o json for the full list)", len(s.Failures)-i)))
				w.WriteString("\n")
				break
			}
			fmt.Fprintf(w, "  %s %s\n    %s\n", ErrorStyle.Render(fl.Path), MutedStyle.Render("["+fl.Kind+"]"), fl.Error)
		}
	}

	status := SuccessStyle.Render("ok")
	if s.Failed > 0 || !s.Finalized || !s.Drained {
		status = ErrorStyle.Render("failed")
	}
	parts := []string{
		field("Loaded", fmt.Sprintf("%d/%d", s.Loaded, s.Discovered)),
		field("Failed", fmt.Sprint(s.Failed)),
	}
	if s.Skipped > 0 {
		parts = append(parts, field("Skipped", fmt.Sprint(s.Skipped)))
	}
	if s.Bytes > 0 {
		parts = append(parts, field("Size", s.BytesHuman))
	}
	parts = append(parts, field("Time", s.Duration), status)
	w.WriteString(FooterBox.Render(strings.Join(parts, "  ")))
	w.WriteString("\n")
}

func (f *PrettyFormatter) launch(w *bytes.Buffer, s *LaunchSection) {
	state := MutedStyle.Render("started")
	if s.Ready {
		state = SuccessStyle.Render("ready")
	}
	w.WriteString(HeaderBox.Render(TitleStyle.Render(s.Name) + "  " + MutedStyle.Render(s.Image) + "  " + state))
	w.WriteString("\n")

	lines := []string{
		field("Web UI", s.ConductorURL),
		field("isql", s.ISQLCommand),
		field("Memory", s.Memory),
		field("Data", s.DataDir+" -> "+s.ContainerDataDir),
	}
	for _, m := range s.Mounts {
		lines = append(lines, field("Mount", m))
	}
	if s.Existing {
		lines = append(lines, field("Config", "existing database, virtuoso.ini patched"))
		for _, c := range s.IniChanges {
			lines = append(lines, "  "+MutedStyle.Render(c))
		}
	}
	for _, l := range lines {
		w.WriteString("  " + l + "\n")
	}
}

func (f *PrettyFormatter) dump(w *bytes.Buffer, s *DumpSection) {
	w.WriteString(HeaderBox.Render(TitleStyle.Render("dump") + "  " + field("Dir", s.OutputDir)))
	w.WriteString("\n")
	installed := "already installed"
	if s.Installed {
		installed = "installed"
	}
	fmt.Fprintf(w, "  %s\n  %s\n  %s\n", field("Procedure", installed), field("First file", s.FirstFile), field("Time", s.Duration))
}

func (f *PrettyFormatter) reindex(w *bytes.Buffer, s *ReindexSection) {
	w.WriteString(HeaderBox.Render(TitleStyle.Render("full-text index rebuild")))
	w.WriteString("\n")
	for _, st := range s.Steps {
		mark := SuccessStyle.Render("✓")
		switch {
		case st.Error != "" && st.Optional:
			mark = MutedStyle.Render("-")
		case st.Error != "" || !st.Done:
			mark = ErrorStyle.Render("✗")
		}
		fmt.Fprintf(w, "  %s %s\n", mark, st.Name)
		if st.Error != "" && !st.Optional {
			fmt.Fprintf(w, "    %s\n", ErrorStyle.Render(st.Error))
		}
	}
	w.WriteString(FooterBox.Render(field("Time", s.Duration)))
	w.WriteString("\n")
}

func (f *PrettyFormatter) tuning(w *bytes.Buffer, s *TuningSection) {
	w.WriteString(HeaderBox.Render(TitleStyle.Render("buffer tuning") + "  " + field("Memory", s.Memory)))
	w.WriteString("\n")
	fmt.Fprintf(w, "  %s\n  %s\n", field("NumberOfBuffers", fmt.Sprint(s.NumberOfBuffers)), field("MaxDirtyBuffers", fmt.Sprint(s.MaxDirtyBuffers)))
	if s.MaxCheckpointRemap > 0 {
		fmt.Fprintf(w, "  %s\n", field("MaxCheckpointRemap", fmt.Sprint(s.MaxCheckpointRemap)))
	}
	if s.CPUCores > 0 {
		fmt.Fprintf(w, "  %s\n", field("Parallel workers", fmt.Sprintf("%d (%d cores)", s.SuggestedWorkers, s.CPUCores)))
	}
	for _, c := range s.IniChanges {
		fmt.Fprintf(w, "  %s\n", MutedStyle.Render(c))
	}
}

// formatWarnings builds a warning block.
func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatError(msg string, hints []string) string {
	lines := []string{ErrorStyle.Bold(true).Render("Error: ") + msg}
	for _, h := range hints {
		lines = append(lines, MutedStyle.Render("hint: "+h))
	}
	return ErrorBox.Render(strings.Join(lines, "\n"))
}

// padRight pads s with spaces to width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
